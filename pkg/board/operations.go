package board

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OpKind names an edit operation applied to a node's content.
type OpKind string

const (
	// OpSet stores a value under a content field.
	OpSet OpKind = "SET"
	// OpIncr adds an integer to a content field, treating a missing field as 0.
	// Both operands are truncated to integers.
	OpIncr OpKind = "INCR"
	// OpDelete removes a content field.
	OpDelete OpKind = "DELETE"
)

// Operation is a single content edit.
type Operation struct {
	Op    OpKind `json:"op"`
	Field string `json:"field"`
	Value any    `json:"value,omitempty"`
}

// ParseOperation builds an operation from its wire form. Op names are
// case-insensitive.
func ParseOperation(op, field string, value any) (Operation, error) {
	kind := OpKind(strings.ToUpper(strings.TrimSpace(op)))
	o := Operation{Op: kind, Field: field, Value: value}
	if err := o.Validate(); err != nil {
		return Operation{}, err
	}
	return o, nil
}

// Validate checks the operation kind and its arguments.
func (o Operation) Validate() error {
	switch o.Op {
	case OpSet, OpDelete:
	case OpIncr:
		if _, err := toInt(o.Value); err != nil {
			return fmt.Errorf("INCR %s: %w", o.Field, err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOperation, string(o.Op))
	}
	if o.Field == "" {
		return fmt.Errorf("%s: field is required", o.Op)
	}
	return nil
}

// Apply mutates content in place.
func (o Operation) Apply(c Content) error {
	switch o.Op {
	case OpSet:
		c[o.Field] = o.Value
	case OpDelete:
		delete(c, o.Field)
	case OpIncr:
		delta, err := toInt(o.Value)
		if err != nil {
			return fmt.Errorf("INCR %s: %w", o.Field, err)
		}
		var current int64
		if existing, ok := c[o.Field]; ok && existing != nil {
			current, err = toInt(existing)
			if err != nil {
				return fmt.Errorf("INCR %s: existing value: %w", o.Field, err)
			}
		}
		c[o.Field] = current + delta
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOperation, string(o.Op))
	}
	return nil
}

// toInt converts a content value to an integer. Fractions are truncated
// toward zero and strings must hold a number.
func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float32:
		return truncate(float64(n), v)
	case float64:
		return truncate(n, v)
	case json.Number:
		return parseInt(string(n))
	case string:
		return parseInt(n)
	default:
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %s is not numeric", s)
	}
	return truncate(f, s)
}

func truncate(f float64, v any) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("value %v is not numeric", v)
	}
	return int64(f), nil
}
