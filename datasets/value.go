package datasets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the closed set of scalar kinds a category value may take once it
// leaves the CSV reader.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is a portable category value.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
}

func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

func (v Value) IsNumber() bool { return v.Kind == KindInt || v.Kind == KindFloat }

func (v Value) number() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Any returns the value as int64, float64 or string.
func (v Value) Any() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	}
	return v.Str
}

// String formats the value the way it appears in feature names.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	return v.Str
}

// Equal reports whether two values select the same one-hot column. Numbers
// compare by numeric value regardless of kind; strings never equal numbers.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.Int == o.Int
		}
		return v.number() == o.number()
	}
	if v.IsNumber() || o.IsNumber() {
		return false
	}
	return v.Str == o.Str
}

// Compare orders values for vocabularies: numbers before strings, numbers
// ascending, strings by byte order.
func Compare(a, b Value) int {
	switch {
	case a.IsNumber() && !b.IsNumber():
		return -1
	case !a.IsNumber() && b.IsNumber():
		return 1
	case !a.IsNumber():
		return strings.Compare(a.Str, b.Str)
	case a.Kind == KindInt && b.Kind == KindInt:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		}
		return 0
	}
	x, y := a.number(), b.number()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// MarshalJSON emits the value as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindFloat && (math.IsNaN(v.Float) || math.IsInf(v.Float, 0)) {
		return nil, fmt.Errorf("category value %v is not representable in JSON", v.Float)
	}
	return json.Marshal(v.Any())
}

// UnmarshalJSON accepts a JSON string or number. Numbers written without a
// fraction or exponent decode as KindInt.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case string:
		*v = StringValue(x)
	case json.Number:
		if i, err := x.Int64(); err == nil && !strings.ContainsAny(x.String(), ".eE") {
			*v = IntValue(i)
			return nil
		}
		f, err := x.Float64()
		if err != nil {
			return fmt.Errorf("invalid numeric category %q: %w", x, err)
		}
		*v = FloatValue(f)
	default:
		return fmt.Errorf("category value must be a string or number, got %s", string(data))
	}
	return nil
}

// typeColumn types a whole categorical column at once: integers if every
// cell is an integer literal, floats if every cell is numeric, otherwise
// strings. Typing per column keeps "1" and "x" in one column both strings.
func typeColumn(cells []string) []Value {
	out := make([]Value, len(cells))
	allInt, allFloat := len(cells) > 0, len(cells) > 0
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if _, err := strconv.ParseInt(c, 10, 64); err != nil {
			allInt = false
		}
		if f, err := strconv.ParseFloat(c, 64); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			allFloat = false
		}
	}
	for i, c := range cells {
		t := strings.TrimSpace(c)
		switch {
		case allInt:
			n, _ := strconv.ParseInt(t, 10, 64)
			out[i] = IntValue(n)
		case allFloat:
			f, _ := strconv.ParseFloat(t, 64)
			out[i] = FloatValue(f)
		default:
			out[i] = StringValue(c)
		}
	}
	return out
}
