package bencode

import (
	"fmt"
	"reflect"
	"strings"
)

var bencodeType = reflect.TypeOf((*Bencode)(nil)).Elem()

// Unmarshal decodes data and stores the top-level dictionary into target,
// which must be a pointer to a struct. Fields are matched by their `ben`
// tag, or by field name when the tag is empty. A field is required unless
// its tag carries the optional flag:
//
//	Comment string `ben:"comment,optional"`
func Unmarshal(data []byte, target any) error {
	ben, err := Decode(data)
	if err != nil {
		return err
	}

	return UnmarshalValue(ben, target)
}

// UnmarshalValue stores an already decoded dictionary into target.
func UnmarshalValue(ben Bencode, target any) error {
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return ErrWrongTarget
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return ErrWrongTarget
	}

	dict, ok := ben.(Dict)
	if !ok {
		return &TypeError{
			Field:       val.Type().Name(),
			FieldType:   val.Type().String(),
			BencodeType: typeName(ben),
		}
	}
	return processStruct(val, dict)
}

type fieldTag struct {
	name     string
	optional bool
	ignored  bool
}

func parseTag(field reflect.StructField) fieldTag {
	tag := field.Tag.Get("ben")
	if tag == "-" {
		return fieldTag{ignored: true}
	}

	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	ft := fieldTag{name: name}
	for _, opt := range strings.Split(opts, ",") {
		if opt == "optional" {
			ft.optional = true
		}
	}
	return ft
}

func processStruct(val reflect.Value, dict Dict) error {
	ttype := val.Type()
	for i := 0; i < val.NumField(); i++ {
		f := val.Field(i)
		ftype := ttype.Field(i)
		if !f.CanSet() {
			continue
		}

		tag := parseTag(ftype)
		if tag.ignored {
			continue
		}

		value, ok := dict[tag.name]
		if !ok || value == nil {
			if tag.optional {
				continue
			}
			return &MissingFieldError{Field: tag.name}
		}
		if err := setField(f, value, ftype.Name); err != nil {
			return err
		}
	}

	return nil
}

func setField(f reflect.Value, value Bencode, name string) error {
	ftype := f.Type()

	if ftype == bencodeType || (ftype.Kind() == reflect.Interface && ftype.NumMethod() == 0) {
		f.Set(reflect.ValueOf(value))
		return nil
	}

	if ftype.Kind() == reflect.Ptr {
		ftype = ftype.Elem()
		if f.IsNil() {
			f.Set(reflect.New(ftype))
		}
		f = f.Elem()
	}

	typeErr := func() error {
		return &TypeError{
			Field:       name,
			FieldType:   ftype.String(),
			BencodeType: typeName(value),
		}
	}

	switch ftype.Kind() {
	case reflect.String:
		s, ok := value.(String)
		if !ok {
			return typeErr()
		}
		f.SetString(string(s))
	case reflect.Bool:
		n, ok := value.(Integer)
		if !ok {
			return typeErr()
		}
		f.SetBool(n != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := value.(Integer)
		if !ok || f.OverflowInt(int64(n)) {
			return typeErr()
		}
		f.SetInt(int64(n))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := value.(Integer)
		if !ok || n < 0 || f.OverflowUint(uint64(n)) {
			return typeErr()
		}
		f.SetUint(uint64(n))
	case reflect.Slice:
		if ftype.Elem().Kind() == reflect.Uint8 {
			s, ok := value.(String)
			if !ok {
				return typeErr()
			}
			f.SetBytes([]byte(s))
			return nil
		}

		values, ok := value.(List)
		if !ok {
			return typeErr()
		}
		slice := reflect.MakeSlice(ftype, len(values), len(values))
		for i, v := range values {
			if err := setField(slice.Index(i), v, fmt.Sprintf("%s[%d]", name, i)); err != nil {
				return err
			}
		}
		f.Set(slice)
	case reflect.Array:
		s, ok := value.(String)
		if !ok || ftype.Elem().Kind() != reflect.Uint8 || len(s) != ftype.Len() {
			return typeErr()
		}
		reflect.Copy(f, reflect.ValueOf([]byte(s)))
	case reflect.Struct:
		subDict, ok := value.(Dict)
		if !ok {
			return typeErr()
		}
		return processStruct(f, subDict)
	case reflect.Map:
		values, ok := value.(Dict)
		if !ok || ftype.Key().Kind() != reflect.String {
			return typeErr()
		}
		m := reflect.MakeMapWithSize(ftype, len(values))
		for k, v := range values {
			elem := reflect.New(ftype.Elem()).Elem()
			if err := setField(elem, v, name+"."+k); err != nil {
				return err
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(ftype.Key()), elem)
		}
		f.Set(m)
	default:
		return typeErr()
	}

	return nil
}

func typeName(v Bencode) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
