// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"fmt"
)

// ErrStackUnderflow is returned when an instruction pops an empty
// operand stack.
var ErrStackUnderflow = errors.New("operand stack underflow")

// Frame is one activation record: the owning class (for constant pool
// lookups), the instruction pointer, the method's instruction bytes,
// the local variable array and the operand stack. It lives between
// being pushed onto the thread stack and being popped by a return.
type Frame struct {
	class  *File
	ip     int
	code   []byte
	locals []Value
	stack  []Value
}

// NewFrame builds a frame positioned at the first instruction.
func NewFrame(class *File, code []byte, locals []Value) *Frame {
	return &Frame{class: class, code: code, locals: locals}
}

// Class returns the owning class record.
func (f *Frame) Class() *File { return f.class }

// IP returns the current instruction pointer.
func (f *Frame) IP() int { return f.ip }

// StackDepth returns the current operand stack depth.
func (f *Frame) StackDepth() int { return len(f.stack) }

// PushStack pushes a value onto the operand stack. Empty values are
// dropped so local-slot padding never pollutes the stack.
func (f *Frame) PushStack(v Value) {
	if v.Kind == KindEmpty {
		return
	}
	f.stack = append(f.stack, v)
}

// PopStack pops the top of the operand stack.
func (f *Frame) PopStack() (Value, error) {
	if len(f.stack) == 0 {
		return Empty, ErrStackUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// PopInt pops an Int off the operand stack; anything else is a type
// error.
func (f *Frame) PopInt() (int32, error) {
	v, err := f.PopStack()
	if err != nil {
		return 0, err
	}
	if v.Kind != KindInt {
		return 0, fmt.Errorf("%w: popped %v, want Int", ErrValueKind, v.Kind)
	}
	return v.Int(), nil
}

// PopRef pops a reference off the operand stack; anything else is a
// type error.
func (f *Frame) PopRef() (uint32, error) {
	v, err := f.PopStack()
	if err != nil {
		return 0, err
	}
	if v.Kind != KindRef {
		return 0, fmt.Errorf("%w: popped %v, want Ref", ErrValueKind, v.Kind)
	}
	return v.Ref(), nil
}

// Local returns the local variable at index.
func (f *Frame) Local(index int) (Value, error) {
	if index < 0 || index >= len(f.locals) {
		return Empty, fmt.Errorf("local variable index %d out of range, max_locals %d",
			index, len(f.locals))
	}
	return f.locals[index], nil
}

// SetLocal stores a value into the local variable array.
func (f *Frame) SetLocal(index int, v Value) error {
	if index < 0 || index >= len(f.locals) {
		return fmt.Errorf("local variable index %d out of range, max_locals %d",
			index, len(f.locals))
	}
	f.locals[index] = v
	return nil
}

// IncIP advances the instruction pointer by the width of the
// just-consumed instruction, immediate operands included.
func (f *Frame) IncIP(n int) {
	f.ip += n
}

// SetIP moves the instruction pointer to an absolute code offset.
func (f *Frame) SetIP(target int) {
	f.ip = target
}
