package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldKind tags the shape a record field arrived in.
type FieldKind int

const (
	// FieldAbsent is a missing key or a JSON null.
	FieldAbsent FieldKind = iota
	// FieldScalar is a bare string, number or boolean.
	FieldScalar
	// FieldWrapped is an object of the form {"value": scalar}.
	FieldWrapped
	// FieldInvalid is any other shape: arrays, objects without a scalar
	// value, nested wrappers.
	FieldInvalid
)

// Field is one loosely-typed value of a raw record. Value holds a string,
// json.Number or bool for scalar and wrapped fields.
type Field struct {
	Kind  FieldKind
	Value any
}

// Scalar returns a bare field.
func Scalar(v any) Field { return Field{Kind: FieldScalar, Value: v} }

// Wrapped returns a field that arrived as {"value": v}.
func Wrapped(v any) Field { return Field{Kind: FieldWrapped, Value: v} }

// UnmarshalJSON classifies the raw value. It never fails, so one odd field
// cannot break decoding of a whole batch; Unwrap reports the problem instead.
func (f *Field) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		*f = Field{Kind: FieldInvalid, Value: string(data)}
		return nil
	}

	switch t := v.(type) {
	case nil:
		*f = Field{}
	case map[string]any:
		inner, ok := t["value"]
		switch {
		case !ok:
			*f = Field{Kind: FieldInvalid, Value: string(data)}
		case inner == nil:
			*f = Field{}
		case isScalar(inner):
			*f = Wrapped(inner)
		default:
			*f = Field{Kind: FieldInvalid, Value: string(data)}
		}
	default:
		if isScalar(t) {
			*f = Scalar(t)
		} else {
			*f = Field{Kind: FieldInvalid, Value: string(data)}
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, json.Number, bool, float64, int, int64:
		return true
	}
	return false
}

// Unwrap returns the scalar value, or nil for an absent field.
func (f Field) Unwrap() (any, error) {
	switch f.Kind {
	case FieldAbsent:
		return nil, nil
	case FieldScalar, FieldWrapped:
		return f.Value, nil
	default:
		return nil, fmt.Errorf("non-scalar value %v", f.Value)
	}
}

// String coerces the field to text. Absent fields are "".
func (f Field) String() (string, error) {
	v, err := f.Unwrap()
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// Int coerces the field to an integer. Absent fields are 0; numeric strings
// are accepted.
func (f Field) Int() (int, error) {
	v, err := f.Unwrap()
	if err != nil {
		return 0, err
	}
	var x float64
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		x, err = t.Float64()
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, nil
		}
		x, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case float64:
		x = t
	case int:
		return t, nil
	case int64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if err != nil {
		return 0, fmt.Errorf("not a number: %v", v)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("not a finite number: %v", v)
	}
	return int(math.Round(x)), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time coerces the field to a timestamp. Strings are parsed as RFC 3339 or
// naive ISO dates in UTC; numbers are Unix seconds. Absent fields are the
// zero time.
func (f Field) Time() (time.Time, error) {
	v, err := f.Unwrap()
	if err != nil {
		return time.Time{}, err
	}
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case json.Number:
		secs, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("bad timestamp %v", t)
		}
		return time.Unix(int64(secs), 0).UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("bad timestamp %v", v)
	}
}

// RawRecord is a review as delivered by a source, before normalization.
type RawRecord struct {
	ReviewID   Field `json:"reviewId"`
	UserName   Field `json:"userName"`
	Score      Field `json:"score"`
	Content    Field `json:"content"`
	At         Field `json:"at"`
	AppVersion Field `json:"appVersion"`
}
