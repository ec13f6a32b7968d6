package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TypeMapper converts between Go values, the canonical in-memory value of a
// primitive field and the normalized storage value written to a column.
//
// Canonical values: bool, int32, int64, float64, string.
// Storage values: int64 (bool, int, long), float64, string.
type TypeMapper struct{}

// NewTypeMapper creates a new type mapper.
func NewTypeMapper() *TypeMapper {
	return &TypeMapper{}
}

// ToValue converts value to the canonical Go type for p.
func (tm *TypeMapper) ToValue(value interface{}, p Primitive) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch p {
	case PrimitiveBool:
		return tm.toBool(value)
	case PrimitiveInt:
		return tm.toInt32(value)
	case PrimitiveLong:
		return tm.toInt64(value)
	case PrimitiveDouble:
		return tm.toFloat64(value)
	case PrimitiveString:
		return tm.toString(value)
	default:
		return nil, fmt.Errorf("unsupported primitive %v", p)
	}
}

// ToStorage converts value to the storage form of a column of kind p.
func (tm *TypeMapper) ToStorage(value interface{}, p Primitive) (interface{}, error) {
	v, err := tm.ToValue(value, p)
	if err != nil || v == nil {
		return v, err
	}
	switch c := v.(type) {
	case bool:
		if c {
			return int64(1), nil
		}
		return int64(0), nil
	case int32:
		return int64(c), nil
	default:
		return c, nil
	}
}

// FromStorage converts a raw column value, as returned by a driver, to the
// canonical Go type for p. NULL stays nil.
func (tm *TypeMapper) FromStorage(raw interface{}, p Primitive) (interface{}, error) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	return tm.ToValue(raw, p)
}

// Helper conversion functions

func (tm *TypeMapper) toInt32(value interface{}) (int32, error) {
	v, err := tm.toInt64(value)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("value %d overflows int", v)
	}
	return int32(v), nil
}

func (tm *TypeMapper) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows long", v)
		}
		return int64(v), nil
	case float32:
		if float32(int64(v)) != v {
			return 0, fmt.Errorf("cannot convert %v to an integer without loss", v)
		}
		return int64(v), nil
	case float64:
		if float64(int64(v)) != v {
			return 0, fmt.Errorf("cannot convert %v to an integer without loss", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to long: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to long", value)
	}
}

func (tm *TypeMapper) toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to double: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to double", value)
	}
}

func (tm *TypeMapper) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", value)
	}
}

func (tm *TypeMapper) toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			// Try numeric string
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i != 0, nil
			}
			return false, fmt.Errorf("cannot convert string to bool: %w", err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}
