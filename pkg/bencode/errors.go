package bencode

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedEnd         = errors.New("unexpected end of data")
	ErrInvalidLengthPrefix   = errors.New("invalid string length prefix")
	ErrInvalidIntegerLiteral = errors.New("invalid integer literal")
	ErrExpectedStringKey     = errors.New("dictionary key is not a string")
	ErrTrailingData          = errors.New("trailing data after value")
	ErrNestingTooDeep        = errors.New("nesting too deep")

	ErrWrongTarget = errors.New("bencode: pointer to struct expected as target")
)

// ErrorKind classifies a DecodeError.
type ErrorKind int

const (
	UnexpectedEnd ErrorKind = iota + 1
	InvalidLengthPrefix
	InvalidIntegerLiteral
	ExpectedStringKey
	TrailingData
	NestingTooDeep
)

func (k ErrorKind) err() error {
	switch k {
	case UnexpectedEnd:
		return ErrUnexpectedEnd
	case InvalidLengthPrefix:
		return ErrInvalidLengthPrefix
	case InvalidIntegerLiteral:
		return ErrInvalidIntegerLiteral
	case ExpectedStringKey:
		return ErrExpectedStringKey
	case TrailingData:
		return ErrTrailingData
	case NestingTooDeep:
		return ErrNestingTooDeep
	default:
		return errors.New("unknown decode error")
	}
}

func (k ErrorKind) String() string {
	return k.err().Error()
}

// DecodeError reports malformed input and the offset where it was detected.
type DecodeError struct {
	Kind   ErrorKind
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Kind, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind.err()
}

// MissingFieldError is returned when a required dictionary entry is absent
// or holds a value of the wrong kind.
type MissingFieldError struct {
	Field string
	Want  Kind
	Got   Kind
}

func (e *MissingFieldError) Error() string {
	if e.Got == KindNone {
		return fmt.Sprintf("bencode: missing field %q", e.Field)
	}
	return fmt.Sprintf("bencode: field %q is %s, want %s", e.Field, e.Got, e.Want)
}

type TypeError struct {
	Field       string
	FieldType   string
	BencodeType string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf(
		"could not assign bencode value to target (field name: %s, field type: %s, bencode type: %s)",
		e.Field, e.FieldType, e.BencodeType)
}
