package bencode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anivanovic/gotrack/pkg/bencode"
)

func TestUnmarshal_TargetNotPointer(t *testing.T) {
	t.Parallel()

	target := struct{}{}
	err := bencode.Unmarshal([]byte("de"), target)
	assert.ErrorIs(t, err, bencode.ErrWrongTarget)
}

func TestUnmarshal_TargetNotPointerStruct(t *testing.T) {
	t.Parallel()

	target := []string{}
	err := bencode.Unmarshal([]byte("de"), &target)
	assert.ErrorIs(t, err, bencode.ErrWrongTarget)
}

func TestUnmarshal_NotDict(t *testing.T) {
	t.Parallel()

	target := &struct{}{}
	err := bencode.Unmarshal([]byte("li1ee"), target)
	var typeErr *bencode.TypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestUnmarshal_DecodeError(t *testing.T) {
	t.Parallel()

	target := &struct{}{}
	err := bencode.Unmarshal([]byte("d3:key"), target)
	assert.ErrorIs(t, err, bencode.ErrUnexpectedEnd)
}

func TestUnmarshal_TypeError(t *testing.T) {
	t.Parallel()

	data := bencode.NewDictBuilder().
		Add("int", bencode.NewList(bencode.Str("string_value"))).
		Generate().
		Encode()
	type testStruct struct {
		IntValue int `ben:"int"`
	}
	target := &testStruct{}
	err := bencode.Unmarshal(data, target)
	require.Error(t, err)
	assert.Equal(t,
		"could not assign bencode value to target (field name: IntValue, field type: int, bencode type: bencode.List)",
		err.Error())
}

func TestUnmarshal_Overflow(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Small  int8   `ben:"small"`
		Unsign uint16 `ben:"unsigned,optional"`
	}
	data := bencode.NewDictBuilder().Add("small", bencode.Integer(300)).Generate().Encode()
	var typeErr *bencode.TypeError
	assert.ErrorAs(t, bencode.Unmarshal(data, &testStruct{}), &typeErr)

	data = bencode.NewDictBuilder().
		Add("small", bencode.Integer(1)).
		Add("unsigned", bencode.Integer(-1)).
		Generate().
		Encode()
	assert.ErrorAs(t, bencode.Unmarshal(data, &testStruct{}), &typeErr)
}

func TestUnmarshal_MissingRequiredField(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Name    string `ben:"name"`
		Comment string `ben:"comment,optional"`
	}
	data := bencode.NewDictBuilder().Add("comment", bencode.Str("c")).Generate().Encode()

	err := bencode.Unmarshal(data, &testStruct{})
	var missing *bencode.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "name", missing.Field)
	assert.Equal(t, `bencode: missing field "name"`, err.Error())
}

func TestUnmarshal_SupportedTypes(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Uint8  uint8  `ben:"uint8"`
		Uint16 uint16 `ben:"uint16"`
		Uint32 uint32 `ben:"uint32"`
		Uint64 uint64 `ben:"uint64"`

		Int   int   `ben:"int"`
		Int8  int8  `ben:"int8"`
		Int16 int16 `ben:"int16"`
		Int32 int32 `ben:"int32"`
		Int64 int64 `ben:"int64"`

		Bool   bool            `ben:"bool"`
		Bytes  []byte          `ben:"bytes"`
		Hash   [4]byte         `ben:"hash"`
		Raw    bencode.Bencode `ben:"raw"`
		Any    any             `ben:"any"`
		Ignore string          `ben:"-"`
		Absent *int            `ben:"absent,optional"`

		MapOfLists map[string][]string `ben:"map_lists"`
		Slice      []string            `ben:"string_list"`
		Struct     struct {
			InsideInt int `ben:"inside_int"`
		} `ben:"struct"`
		StructPointer *struct {
			InsideInt int `ben:"inside_int"`
		} `ben:"struct_pointer"`
		IntPointer *int `ben:"int_pointer"`
		Default    string
	}
	bencodeValue := bencode.NewDictBuilder().
		Add("uint8", bencode.Integer(8)).
		Add("uint16", bencode.Integer(16)).
		Add("uint32", bencode.Integer(32)).
		Add("uint64", bencode.Integer(64)).
		Add("int", bencode.Integer(1)).
		Add("int8", bencode.Integer(8)).
		Add("int16", bencode.Integer(16)).
		Add("int32", bencode.Integer(32)).
		Add("int64", bencode.Integer(64)).
		Add("bool", bencode.Integer(1)).
		Add("bytes", bencode.Str("\x00\x01")).
		Add("hash", bencode.Str("abcd")).
		Add("raw", bencode.NewList(bencode.Integer(3))).
		Add("any", bencode.Str("any")).
		Add("-", bencode.Str("never")).
		Add("map_lists", bencode.NewDictBuilder().
			Add("list", bencode.NewList(bencode.Str("string list value"))).
			Generate()).
		Add("string_list", bencode.NewList(bencode.Str("first"), bencode.Str("second"), bencode.Str("third"))).
		Add("struct", bencode.NewDictBuilder().Add("inside_int", bencode.Integer(11)).Generate()).
		Add("struct_pointer", bencode.NewDictBuilder().Add("inside_int", bencode.Integer(12)).Generate()).
		Add("int_pointer", bencode.Integer(33)).
		Add("Default", bencode.Str("by field name")).
		Generate().
		Encode()

	target := &testStruct{}
	err := bencode.Unmarshal(bencodeValue, target)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), target.Uint8)
	assert.Equal(t, uint16(16), target.Uint16)
	assert.Equal(t, uint32(32), target.Uint32)
	assert.Equal(t, uint64(64), target.Uint64)
	assert.Equal(t, 1, target.Int)
	assert.Equal(t, int8(8), target.Int8)
	assert.Equal(t, int16(16), target.Int16)
	assert.Equal(t, int32(32), target.Int32)
	assert.Equal(t, int64(64), target.Int64)
	assert.True(t, target.Bool)
	assert.Equal(t, []byte{0, 1}, target.Bytes)
	assert.Equal(t, [4]byte{'a', 'b', 'c', 'd'}, target.Hash)
	assert.Equal(t, bencode.List{bencode.Integer(3)}, target.Raw)
	assert.Equal(t, bencode.String("any"), target.Any)
	assert.Empty(t, target.Ignore)
	assert.Nil(t, target.Absent)
	assert.Contains(t, target.MapOfLists["list"], "string list value")
	assert.ElementsMatch(t, []string{"first", "second", "third"}, target.Slice)
	assert.Equal(t, 11, target.Struct.InsideInt)
	require.NotNil(t, target.StructPointer)
	assert.Equal(t, 12, target.StructPointer.InsideInt)
	require.NotNil(t, target.IntPointer)
	assert.Equal(t, 33, *target.IntPointer)
	assert.Equal(t, "by field name", target.Default)
}

func TestDict_Fields(t *testing.T) {
	t.Parallel()

	dict := bencode.Dict{
		"int":  bencode.Integer(1),
		"str":  bencode.Str("s"),
		"list": bencode.NewList(),
		"dict": bencode.Dict{},
	}

	n, err := dict.IntField("int")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, err := dict.StringField("str")
	require.NoError(t, err)
	assert.Equal(t, bencode.String("s"), s)

	l, err := dict.ListField("list")
	require.NoError(t, err)
	assert.Empty(t, l)

	d, err := dict.DictField("dict")
	require.NoError(t, err)
	assert.Empty(t, d)

	_, err = dict.DictField("str")
	var missing *bencode.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, bencode.KindString, missing.Got)
	assert.Equal(t, bencode.KindDict, missing.Want)
	assert.Equal(t, `bencode: field "str" is string, want dict`, err.Error())

	_, err = dict.IntField("nope")
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, bencode.KindNone, missing.Got)
}
