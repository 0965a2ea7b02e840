// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"fmt"
	"strconv"
)

// ValueKind discriminates the variants of a Value.
type ValueKind uint8

const (
	// KindEmpty is the padding variant used for the second local slot
	// of a long or double. It never appears on the operand stack, and
	// it is the zero value so freshly allocated slots start Empty.
	KindEmpty ValueKind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindRef
	KindReturnAddress
)

// ErrValueKind is returned when an operation mixes value kinds the
// bytecode compiler would never have produced together.
var ErrValueKind = errors.New("value kind mismatch")

// Empty is the padding value stored in unused local variable slots.
var Empty = Value{Kind: KindEmpty}

// Null is the reference value reserved for null: heap index 0.
var Null = Value{Kind: KindRef}

// Value is a typed runtime value: one of the primitive numerics, an
// opaque heap reference, a return address, or the Empty padding marker.
// Which of the payload fields is meaningful depends on the kind.
type Value struct {
	Kind     ValueKind `json:"kind"`
	IntVal   int64     `json:"int_val,omitempty"`   // Int, Long, ReturnAddress
	FloatVal float64   `json:"float_val,omitempty"` // Float, Double
	RefVal   uint32    `json:"ref_val,omitempty"`   // Ref
}

// IntValue builds an Int value.
func IntValue(v int32) Value { return Value{Kind: KindInt, IntVal: int64(v)} }

// LongValue builds a Long value.
func LongValue(v int64) Value { return Value{Kind: KindLong, IntVal: v} }

// FloatValue builds a Float value.
func FloatValue(v float32) Value { return Value{Kind: KindFloat, FloatVal: float64(v)} }

// DoubleValue builds a Double value.
func DoubleValue(v float64) Value { return Value{Kind: KindDouble, FloatVal: v} }

// RefValue builds a reference value. Index 0 is null.
func RefValue(ref uint32) Value { return Value{Kind: KindRef, RefVal: ref} }

// ReturnAddressValue builds a return address value.
func ReturnAddressValue(addr uint32) Value {
	return Value{Kind: KindReturnAddress, IntVal: int64(addr)}
}

// Int returns the payload of an Int value.
func (v Value) Int() int32 { return int32(v.IntVal) }

// Long returns the payload of a Long value.
func (v Value) Long() int64 { return v.IntVal }

// Float returns the payload of a Float value.
func (v Value) Float() float32 { return float32(v.FloatVal) }

// Double returns the payload of a Double value.
func (v Value) Double() float64 { return v.FloatVal }

// Ref returns the payload of a reference value.
func (v Value) Ref() uint32 { return v.RefVal }

// IsWide reports whether the value occupies two local variable slots.
func (v Value) IsWide() bool { return v.Kind == KindLong || v.Kind == KindDouble }

// Add returns v + rhs. Both operands must share one arithmetic kind;
// a mix is a compiler bug upstream, not a user error. Int and Long wrap
// on overflow, Float and Double follow IEEE 754.
func (v Value) Add(rhs Value) (Value, error) {
	if v.Kind != rhs.Kind {
		return Empty, fmt.Errorf("%w: adding %v to %v", ErrValueKind, v.Kind, rhs.Kind)
	}

	switch v.Kind {
	case KindInt:
		return IntValue(v.Int() + rhs.Int()), nil
	case KindLong:
		return LongValue(v.Long() + rhs.Long()), nil
	case KindFloat:
		return FloatValue(v.Float() + rhs.Float()), nil
	case KindDouble:
		return DoubleValue(v.Double() + rhs.Double()), nil
	default:
		return Empty, fmt.Errorf("%w: adding %v values", ErrValueKind, v.Kind)
	}
}

// Sub returns v - rhs under the same kind rules as Add.
func (v Value) Sub(rhs Value) (Value, error) {
	if v.Kind != rhs.Kind {
		return Empty, fmt.Errorf("%w: subtracting %v from %v", ErrValueKind, rhs.Kind, v.Kind)
	}

	switch v.Kind {
	case KindInt:
		return IntValue(v.Int() - rhs.Int()), nil
	case KindLong:
		return LongValue(v.Long() - rhs.Long()), nil
	case KindFloat:
		return FloatValue(v.Float() - rhs.Float()), nil
	case KindDouble:
		return DoubleValue(v.Double() - rhs.Double()), nil
	default:
		return Empty, fmt.Errorf("%w: subtracting %v values", ErrValueKind, v.Kind)
	}
}

// Neg returns -v for an arithmetic value.
func (v Value) Neg() (Value, error) {
	switch v.Kind {
	case KindInt:
		return IntValue(-v.Int()), nil
	case KindLong:
		return LongValue(-v.Long()), nil
	case KindFloat:
		return FloatValue(-v.Float()), nil
	case KindDouble:
		return DoubleValue(-v.Double()), nil
	default:
		return Empty, fmt.Errorf("%w: negating %v", ErrValueKind, v.Kind)
	}
}

// Equal compares two values of the same non-empty kind. References
// compare by opaque index. Cross-kind comparison is a type error.
func (v Value) Equal(rhs Value) (bool, error) {
	if v.Kind != rhs.Kind {
		return false, fmt.Errorf("%w: comparing %v with %v", ErrValueKind, v.Kind, rhs.Kind)
	}

	switch v.Kind {
	case KindInt, KindLong, KindReturnAddress:
		return v.IntVal == rhs.IntVal, nil
	case KindFloat, KindDouble:
		return v.FloatVal == rhs.FloatVal, nil
	case KindRef:
		return v.RefVal == rhs.RefVal, nil
	default:
		return false, fmt.Errorf("%w: comparing %v values", ErrValueKind, v.Kind)
	}
}

// IsNull reports whether the value is the null reference.
func (v Value) IsNull() bool { return v.Kind == KindRef && v.RefVal == 0 }

// String stringifies the value for diagnostics and CLI output.
func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return "void"
	case KindInt:
		return "Int(" + strconv.FormatInt(v.IntVal, 10) + ")"
	case KindLong:
		return "Long(" + strconv.FormatInt(v.IntVal, 10) + ")"
	case KindFloat:
		return "Float(" + strconv.FormatFloat(v.FloatVal, 'g', -1, 32) + ")"
	case KindDouble:
		return "Double(" + strconv.FormatFloat(v.FloatVal, 'g', -1, 64) + ")"
	case KindRef:
		if v.RefVal == 0 {
			return "null"
		}
		return "Ref(" + strconv.FormatUint(uint64(v.RefVal), 10) + ")"
	case KindReturnAddress:
		return "ReturnAddress(" + strconv.FormatInt(v.IntVal, 10) + ")"
	default:
		return fmt.Sprintf("Value(kind=%d)", v.Kind)
	}
}

// String stringifies the kind.
func (k ValueKind) String() string {
	kindMap := map[ValueKind]string{
		KindEmpty:         "Empty",
		KindInt:           "Int",
		KindLong:          "Long",
		KindFloat:         "Float",
		KindDouble:        "Double",
		KindRef:           "Ref",
		KindReturnAddress: "ReturnAddress",
	}

	if s, ok := kindMap[k]; ok {
		return s
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}
