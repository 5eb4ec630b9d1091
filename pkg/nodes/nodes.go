// Package nodes holds helpers shared by the built-in node handlers.
package nodes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/dukex/flowpoint/pkg/protocol"
)

// Comparison operators accepted by compare-style configs.
const (
	OpLess         = "<"
	OpLessEqual    = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpEqual        = "=="
	OpNotEqual     = "!="
)

// Operators lists every comparison operator, for schemas.
var Operators = []string{OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual, OpNotEqual}

var errNotComparable = errors.New("values are not comparable")

// Decode unmarshals a raw node config into v. Failures are config errors.
func Decode(config json.RawMessage, v any) error {
	if len(bytes.TrimSpace(config)) == 0 {
		return protocol.Configf("config is required")
	}

	dec := json.NewDecoder(bytes.NewReader(config))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return protocol.Configf("invalid config: %w", err)
	}

	return nil
}

// ValidOperator reports whether op is a known comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual, OpNotEqual:
		return true
	}

	return false
}

// Compare applies op to left and right. Numbers compare numerically, strings
// lexically; == and != fall back to deep equality for other values.
func Compare(left any, op string, right any) (bool, error) {
	if !ValidOperator(op) {
		return false, fmt.Errorf("unknown operator %q", op)
	}

	if l, lok := ToFloat(left); lok {
		if r, rok := ToFloat(right); rok {
			return compareOrdered(l, op, r), nil
		}
	}

	if l, lok := left.(string); lok {
		if r, rok := right.(string); rok {
			return compareOrdered(l, op, r), nil
		}
	}

	switch op {
	case OpEqual:
		return reflect.DeepEqual(left, right), nil
	case OpNotEqual:
		return !reflect.DeepEqual(left, right), nil
	}

	return false, fmt.Errorf("%w: %T %s %T", errNotComparable, left, op, right)
}

// Equal reports whether two payload values are equal, treating numbers of
// different Go types as equal when their values are.
func Equal(left, right any) bool {
	ok, err := Compare(left, OpEqual, right)

	return err == nil && ok
}

func compareOrdered[T float64 | string](l T, op string, r T) bool {
	switch op {
	case OpLess:
		return l < r
	case OpLessEqual:
		return l <= r
	case OpGreater:
		return l > r
	case OpGreaterEqual:
		return l >= r
	case OpEqual:
		return l == r
	default:
		return l != r
	}
}

// ToFloat converts numeric payload values, including json.Number, to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(n.String(), 64)

		return f, err == nil
	}

	return 0, false
}
