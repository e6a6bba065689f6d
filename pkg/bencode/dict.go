package bencode

// IntField returns the integer stored under key.
func (d Dict) IntField(key string) (int64, error) {
	v, ok := d[key].(Integer)
	if !ok {
		return 0, d.fieldError(key, KindInteger)
	}
	return int64(v), nil
}

// StringField returns the byte string stored under key.
func (d Dict) StringField(key string) (String, error) {
	v, ok := d[key].(String)
	if !ok {
		return "", d.fieldError(key, KindString)
	}
	return v, nil
}

func (d Dict) ListField(key string) (List, error) {
	v, ok := d[key].(List)
	if !ok {
		return nil, d.fieldError(key, KindList)
	}
	return v, nil
}

func (d Dict) DictField(key string) (Dict, error) {
	v, ok := d[key].(Dict)
	if !ok {
		return nil, d.fieldError(key, KindDict)
	}
	return v, nil
}

func (d Dict) fieldError(key string, want Kind) error {
	err := &MissingFieldError{Field: key, Want: want}
	if v := d[key]; v != nil {
		err.Got = v.Kind()
	}
	return err
}

// DictBuilder assembles a Dict in insertion-independent form.
type DictBuilder struct {
	dict Dict
}

func NewDictBuilder() *DictBuilder {
	return &DictBuilder{dict: Dict{}}
}

func (b *DictBuilder) Add(key string, value Bencode) *DictBuilder {
	b.dict[key] = value
	return b
}

func (b *DictBuilder) Generate() Dict {
	return b.dict
}
