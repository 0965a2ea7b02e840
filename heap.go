// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrArrayBounds is returned on an out-of-range array access.
	ErrArrayBounds = errors.New("array index out of bounds")

	// ErrNegativeArraySize is returned when an array is allocated with
	// a negative length.
	ErrNegativeArraySize = errors.New("negative array size")
)

// Heap is the shared mutable store of objects and arrays. Entries are
// addressed by opaque uint32 references handed out by a monotonic
// counter starting at 1, so the backing maps can be grown or rehashed
// freely; 0 is reserved for null and references are never reused.
type Heap struct {
	nextRef uint32
	objects map[uint32]*Object
	arrays  map[uint32]*Array
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{
		nextRef: 1,
		objects: make(map[uint32]*Object),
		arrays:  make(map[uint32]*Array),
	}
}

// AllocateObject inserts obj and returns its new reference.
func (h *Heap) AllocateObject(obj *Object) uint32 {
	ref := h.nextRef
	h.objects[ref] = obj
	h.nextRef++
	return ref
}

// AllocateArray inserts arr and returns its new reference.
func (h *Heap) AllocateArray(arr *Array) uint32 {
	ref := h.nextRef
	h.arrays[ref] = arr
	h.nextRef++
	return ref
}

// Object dereferences an object. A reference that is absent or points
// at an array is an invariant break the verifier would have caught, so
// it panics rather than returning an error.
func (h *Heap) Object(ref uint32) *Object {
	obj, ok := h.objects[ref]
	if !ok {
		panic(fmt.Sprintf("heap: no object at reference %d", ref))
	}
	return obj
}

// Array dereferences an array, with the same panic contract as Object.
func (h *Heap) Array(ref uint32) *Array {
	arr, ok := h.arrays[ref]
	if !ok {
		panic(fmt.Sprintf("heap: no array at reference %d", ref))
	}
	return arr
}

// Object is a class instance: a pointer to its class record and the
// current field values, keyed by the constant pool index of the member
// reference that accessed them. A missing key means the field was never
// written.
type Object struct {
	class  *File
	fields map[uint16]Value
}

// NewObject returns a fresh instance of class with no fields written.
func NewObject(class *File) *Object {
	return &Object{class: class, fields: make(map[uint16]Value)}
}

// Class returns the class record the object was instantiated from.
func (o *Object) Class() *File { return o.class }

// Field returns the value stored at a member index, and whether the
// field was ever written.
func (o *Object) Field(index uint16) (Value, bool) {
	v, ok := o.fields[index]
	return v, ok
}

// SetField records a field value at a member index.
func (o *Object) SetField(index uint16, v Value) {
	o.fields[index] = v
}

// Array is a fixed-length sequence of values, initialised to Empty.
type Array struct {
	elems []Value
}

// NewArray allocates an array of the given length.
func NewArray(length int32) (*Array, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeArraySize, length)
	}
	return &Array{elems: make([]Value, length)}, nil
}

// Len returns the array length.
func (a *Array) Len() int32 { return int32(len(a.elems)) }

// Get returns the element at index, bounds-checked.
func (a *Array) Get(index int32) (Value, error) {
	if index < 0 || int(index) >= len(a.elems) {
		return Empty, fmt.Errorf("%w: index %d, length %d", ErrArrayBounds, index, len(a.elems))
	}
	return a.elems[index], nil
}

// Set stores the element at index, bounds-checked.
func (a *Array) Set(index int32, v Value) error {
	if index < 0 || int(index) >= len(a.elems) {
		return fmt.Errorf("%w: index %d, length %d", ErrArrayBounds, index, len(a.elems))
	}
	a.elems[index] = v
	return nil
}
