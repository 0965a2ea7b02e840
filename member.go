// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CodeAttributeName is the only attribute the interpreter reads.
const CodeAttributeName = "Code"

// Errors
var (
	// ErrCodeMissing is returned when a method has no Code attribute.
	ErrCodeMissing = errors.New("Code attribute not found")

	// ErrCodeTooShort is returned when a Code attribute payload is
	// smaller than its fixed 8-byte header.
	ErrCodeTooShort = errors.New("Code attribute shorter than its header")
)

// Member is one field_info or method_info record; the two share a
// layout.
type Member struct {
	Flags      uint16      `json:"flags"`
	Name       string      `json:"name"`
	Descriptor string      `json:"descriptor"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attribute is a named, opaque byte payload. Only the Code attribute is
// ever interpreted, and only at execution time.
type Attribute struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}

// Code is the decoded header of a Code attribute plus the raw
// instruction stream. The exception table and inner attributes that
// follow the bytecode in the full format are not interpreted.
type Code struct {
	MaxStack  uint16 `json:"max_stack"`
	MaxLocals uint16 `json:"max_locals"`
	Bytecode  []byte `json:"-"`
}

// parseMembers reads a u2 count followed by that many field_info or
// method_info records.
func (f *File) parseMembers(r *classReader) ([]Member, error) {
	count := r.u2()

	var members []Member
	for i := uint16(0); i < count && r.err == nil; i++ {
		flags := r.u2()
		nameIdx := r.u2()
		descIdx := r.u2()
		if r.err != nil {
			return nil, r.err
		}
		name, err := f.ConstantPool.ResolveString(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("resolving member %d name: %w", i, err)
		}
		desc, err := f.ConstantPool.ResolveString(descIdx)
		if err != nil {
			return nil, fmt.Errorf("resolving member %d descriptor: %w", i, err)
		}
		attrs, err := f.parseAttributes(r)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{
			Flags:      flags,
			Name:       name,
			Descriptor: desc,
			Attributes: attrs,
		})
	}
	return members, r.err
}

// parseAttributes reads a u2 count followed by that many
// { name_index u2, length u4, data[length] } records. Names are
// resolved eagerly, payloads are kept raw.
func (f *File) parseAttributes(r *classReader) ([]Attribute, error) {
	count := r.u2()

	var attrs []Attribute
	for i := uint16(0); i < count && r.err == nil; i++ {
		nameIdx := r.u2()
		if r.err != nil {
			return nil, r.err
		}
		name, err := f.ConstantPool.ResolveString(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("resolving attribute %d name: %w", i, err)
		}
		size := r.u4()
		data := r.bytes(int(size))
		if r.err != nil {
			return nil, r.err
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, r.err
}

// Attribute returns the first attribute with the given name.
func (m *Member) Attribute(name string) (*Attribute, bool) {
	for i := range m.Attributes {
		if m.Attributes[i].Name == name {
			return &m.Attributes[i], true
		}
	}
	return nil, false
}

// Code locates the member's Code attribute and decodes its 8-byte
// header: u2 max_stack, u2 max_locals, u4 code_length, then
// code_length instruction bytes.
func (m *Member) Code() (Code, error) {
	attr, ok := m.Attribute(CodeAttributeName)
	if !ok {
		return Code{}, fmt.Errorf("%w: method %s%s", ErrCodeMissing, m.Name, m.Descriptor)
	}

	if len(attr.Data) < 8 {
		return Code{}, fmt.Errorf("%w: %d bytes", ErrCodeTooShort, len(attr.Data))
	}
	codeLength := binary.BigEndian.Uint32(attr.Data[4:8])
	if int(8+codeLength) > len(attr.Data) {
		return Code{}, fmt.Errorf("%w: code_length %d exceeds payload",
			ErrTruncated, codeLength)
	}

	return Code{
		MaxStack:  binary.BigEndian.Uint16(attr.Data[0:2]),
		MaxLocals: binary.BigEndian.Uint16(attr.Data[2:4]),
		Bytecode:  attr.Data[8 : 8+codeLength],
	}, nil
}

// Method returns the first method with the given name. Overloads are
// not distinguished by descriptor; the first name match wins.
func (f *File) Method(name string) (*Member, bool) {
	for i := range f.Methods {
		if f.Methods[i].Name == name {
			return &f.Methods[i], true
		}
	}
	return nil, false
}
