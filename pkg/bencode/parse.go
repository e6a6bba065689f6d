package bencode

import (
	"strconv"
)

// MaxDepth limits how deeply lists and dictionaries may nest.
const MaxDepth = 512

// Decode parses exactly one bencode value from data.
func Decode(data []byte) (Bencode, error) {
	s := newScanner(data)
	v, err := s.next(0)
	if err != nil {
		return nil, err
	}
	if !s.isFinished() {
		return nil, s.fail(TrailingData)
	}
	return v, nil
}

// RawField returns the verbatim bytes of the value stored under key in the
// top-level dictionary of data. When the key repeats, the last occurrence
// wins, the same way Decode resolves duplicates.
func RawField(data []byte, key string) ([]byte, error) {
	s := newScanner(data)
	if !s.match('d') {
		if s.isFinished() {
			return nil, s.fail(UnexpectedEnd)
		}
		return nil, &MissingFieldError{Field: key, Want: KindDict}
	}

	var raw []byte
	for {
		b, ok := s.peek()
		if !ok {
			return nil, s.fail(UnexpectedEnd)
		}
		if b == 'e' {
			break
		}
		if !isDigit(b) {
			return nil, s.fail(ExpectedStringKey)
		}
		k, err := s.readString()
		if err != nil {
			return nil, err
		}
		start := s.current
		if _, err := s.next(1); err != nil {
			return nil, err
		}
		if string(k) == key {
			raw = s.data[start:s.current]
		}
	}
	if raw == nil {
		return nil, &MissingFieldError{Field: key}
	}
	return raw, nil
}

// scanner is the decode cursor. It is shared by pointer through the
// recursive descent so every reader advances the same position.
type scanner struct {
	current int
	data    []byte
}

func newScanner(data []byte) *scanner {
	return &scanner{data: data}
}

func (s *scanner) next(depth int) (Bencode, error) {
	b, ok := s.peek()
	if !ok {
		return nil, s.fail(UnexpectedEnd)
	}

	switch b {
	case 'i':
		return s.readInt()
	case 'l':
		if depth >= MaxDepth {
			return nil, s.fail(NestingTooDeep)
		}
		return s.readList(depth + 1)
	case 'd':
		if depth >= MaxDepth {
			return nil, s.fail(NestingTooDeep)
		}
		return s.readDict(depth + 1)
	default:
		return s.readString()
	}
}

func (s *scanner) isFinished() bool {
	return s.current >= len(s.data)
}

func (s *scanner) peek() (byte, bool) {
	if s.isFinished() {
		return 0, false
	}
	return s.data[s.current], true
}

func (s *scanner) match(b byte) bool {
	if c, ok := s.peek(); ok && c == b {
		s.current++
		return true
	}
	return false
}

func (s *scanner) fail(kind ErrorKind) error {
	return &DecodeError{Kind: kind, Offset: s.current}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func (s *scanner) readInt() (Integer, error) {
	s.current++ // 'i'
	start := s.current

	s.match('-')
	for {
		b, ok := s.peek()
		if !ok {
			return 0, s.fail(UnexpectedEnd)
		}
		if b == 'e' {
			break
		}
		if !isDigit(b) {
			return 0, s.fail(InvalidIntegerLiteral)
		}
		s.current++
	}

	literal := s.data[start:s.current]
	if !validInteger(literal) {
		return 0, &DecodeError{Kind: InvalidIntegerLiteral, Offset: start}
	}
	n, err := strconv.ParseInt(string(literal), 10, 64)
	if err != nil {
		return 0, &DecodeError{Kind: InvalidIntegerLiteral, Offset: start}
	}
	s.current++ // 'e'

	return Integer(n), nil
}

// validInteger rejects empty literals, "-0" and leading zeros.
func validInteger(literal []byte) bool {
	digits := literal
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
		if len(digits) > 0 && digits[0] == '0' {
			return false
		}
	}
	if len(digits) == 0 {
		return false
	}
	return digits[0] != '0' || len(digits) == 1
}

func (s *scanner) readString() (String, error) {
	start := s.current
	for {
		b, ok := s.peek()
		if !ok {
			return "", s.fail(UnexpectedEnd)
		}
		if b == ':' {
			break
		}
		if !isDigit(b) {
			return "", s.fail(InvalidLengthPrefix)
		}
		s.current++
	}
	if s.current == start {
		return "", s.fail(InvalidLengthPrefix)
	}

	length, err := strconv.Atoi(string(s.data[start:s.current]))
	if err != nil {
		return "", &DecodeError{Kind: InvalidLengthPrefix, Offset: start}
	}
	s.current++ // ':'

	// we need to check if we are trying to read beyond data length.
	if length > len(s.data)-s.current {
		return "", s.fail(UnexpectedEnd)
	}
	str := String(s.data[s.current : s.current+length])
	s.current += length

	return str, nil
}

func (s *scanner) readList(depth int) (List, error) {
	s.current++ // 'l'
	list := List{}

	for {
		b, ok := s.peek()
		if !ok {
			return nil, s.fail(UnexpectedEnd)
		}
		if b == 'e' {
			s.current++
			return list, nil
		}

		element, err := s.next(depth)
		if err != nil {
			return nil, err
		}
		list = append(list, element)
	}
}

func (s *scanner) readDict(depth int) (Dict, error) {
	s.current++ // 'd'
	dict := Dict{}

	for {
		b, ok := s.peek()
		if !ok {
			return nil, s.fail(UnexpectedEnd)
		}
		if b == 'e' {
			s.current++
			return dict, nil
		}
		if !isDigit(b) {
			return nil, s.fail(ExpectedStringKey)
		}

		k, err := s.readString()
		if err != nil {
			return nil, err
		}
		v, err := s.next(depth)
		if err != nil {
			return nil, err
		}

		// duplicate keys: last write wins
		dict[string(k)] = v
	}
}
