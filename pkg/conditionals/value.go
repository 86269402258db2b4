package conditionals

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds
type Kind string

const (
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindString Kind = "string"
	KindList   Kind = "list"
)

// Value is a world variable value. It is a closed tagged variant: exactly one
// of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
	Str  string
	List []string
}

func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func List(items ...string) Value { return Value{Kind: KindList, List: items} }

// IsZero reports whether the value was never set
func (v Value) IsZero() bool {
	return v.Kind == ""
}

// Equal compares two values of the same kind. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.Str == o.Str
	case KindList:
		return slices.Equal(v.List, o.List)
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return v.Str
	case KindList:
		return "[" + strings.Join(v.List, ", ") + "]"
	}
	return "<unset>"
}

// Clone returns a copy that shares no backing storage with v
func (v Value) Clone() Value {
	if v.Kind == KindList {
		v.List = slices.Clone(v.List)
	}
	return v
}

// MarshalJSON writes the value as a plain JSON scalar or array
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindString:
		return json.Marshal(v.Str)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	}
	return []byte("null"), nil
}

// UnmarshalJSON infers the kind from the JSON token
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case '[':
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, item := range raw {
			switch t := item.(type) {
			case string:
				items = append(items, t)
			case float64:
				items = append(items, strconv.FormatFloat(t, 'f', -1, 64))
			case bool:
				items = append(items, strconv.FormatBool(t))
			default:
				return fmt.Errorf("unsupported list element %v", item)
			}
		}
		*v = List(items...)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported value %s: %w", string(data), err)
		}
		*v = Number(n)
	}
	return nil
}
