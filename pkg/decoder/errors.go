package decoder

import "errors"

var (
	// ErrMalformed is returned for lines that cannot be framed into a
	// record: empty, no separator, unknown tag or too few fields.
	ErrMalformed = errors.New("malformed line")
	// ErrUnknownClass is wrapped together with ErrMalformed when the tag
	// does not name a known sensor class.
	ErrUnknownClass = errors.New("unknown sensor class")
	// ErrTooFewFields is wrapped together with ErrMalformed.
	ErrTooFewFields = errors.New("too few fields")
	// ErrFieldParse is returned when any field fails to parse.
	ErrFieldParse = errors.New("field parse failure")
)

// Kind classifies a decode error for counting.
type Kind uint8

const (
	KindNone Kind = iota
	KindMalformed
	KindUnknownClass
	KindTooFewFields
	KindFieldParse
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformed:
		return "malformed"
	case KindUnknownClass:
		return "unknown_class"
	case KindTooFewFields:
		return "too_few_fields"
	case KindFieldParse:
		return "field_parse"
	default:
		return "unknown"
	}
}

// KindOf reports the most specific Kind of err.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFieldParse):
		return KindFieldParse
	case errors.Is(err, ErrUnknownClass):
		return KindUnknownClass
	case errors.Is(err, ErrTooFewFields):
		return KindTooFewFields
	default:
		return KindMalformed
	}
}
