// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"bytes"
	"encoding/binary"
	"math"
)

// classBuilder assembles a minimal, well-formed class file in memory so
// tests can exercise the loader and interpreter without fixtures on
// disk. Indices returned by the add* methods are the 1-based constant
// pool indices the built file will carry, wide-constant padding
// included.
type classBuilder struct {
	entries   []cpEntry
	nextSlot  uint16
	thisIdx   uint16
	superIdx  uint16
	utf8Cache map[string]uint16
	fields    []memberSpec
	methods   []memberSpec
}

type cpEntry struct {
	tag     ConstantTag
	payload []byte
	wide    bool
}

type memberSpec struct {
	flags   uint16
	nameIdx uint16
	descIdx uint16
	code    []byte // raw Code attribute payload, nil for none
}

func newClassBuilder(name, super string) *classBuilder {
	b := &classBuilder{nextSlot: 1, utf8Cache: make(map[string]uint16)}
	b.thisIdx = b.addClass(name)
	b.superIdx = b.addClass(super)
	return b
}

func (b *classBuilder) add(e cpEntry) uint16 {
	idx := b.nextSlot
	b.entries = append(b.entries, e)
	b.nextSlot++
	if e.wide {
		b.nextSlot++
	}
	return idx
}

func u16be(v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return buf[:]
}

func u32be(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

func (b *classBuilder) addUtf8(s string) uint16 {
	if idx, ok := b.utf8Cache[s]; ok {
		return idx
	}
	payload := append(u16be(uint16(len(s))), []byte(s)...)
	idx := b.add(cpEntry{tag: TagUtf8, payload: payload})
	b.utf8Cache[s] = idx
	return idx
}

func (b *classBuilder) addInteger(v int32) uint16 {
	return b.add(cpEntry{tag: TagInteger, payload: u32be(uint32(v))})
}

func (b *classBuilder) addFloat(v float32) uint16 {
	return b.add(cpEntry{tag: TagFloat, payload: u32be(math.Float32bits(v))})
}

func (b *classBuilder) addLong(v int64) uint16 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return b.add(cpEntry{tag: TagLong, payload: buf[:], wide: true})
}

func (b *classBuilder) addDouble(v float64) uint16 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	return b.add(cpEntry{tag: TagDouble, payload: buf[:], wide: true})
}

func (b *classBuilder) addClass(name string) uint16 {
	utf8 := b.addUtf8(name)
	return b.add(cpEntry{tag: TagClass, payload: u16be(utf8)})
}

func (b *classBuilder) addString(s string) uint16 {
	utf8 := b.addUtf8(s)
	return b.add(cpEntry{tag: TagString, payload: u16be(utf8)})
}

func (b *classBuilder) addNameAndType(name, desc string) uint16 {
	n := b.addUtf8(name)
	d := b.addUtf8(desc)
	return b.add(cpEntry{tag: TagNameAndType, payload: append(u16be(n), u16be(d)...)})
}

func (b *classBuilder) addMemberRef(tag ConstantTag, class, name, desc string) uint16 {
	c := b.addClass(class)
	nat := b.addNameAndType(name, desc)
	return b.add(cpEntry{tag: tag, payload: append(u16be(c), u16be(nat)...)})
}

func (b *classBuilder) addMethodref(class, name, desc string) uint16 {
	return b.addMemberRef(TagMethodref, class, name, desc)
}

func (b *classBuilder) addFieldref(class, name, desc string) uint16 {
	return b.addMemberRef(TagFieldref, class, name, desc)
}

func (b *classBuilder) addField(name, desc string) {
	b.fields = append(b.fields, memberSpec{
		flags:   0x0002, // private
		nameIdx: b.addUtf8(name),
		descIdx: b.addUtf8(desc),
	})
}

// addMethod registers a method whose Code attribute carries the given
// bytecode. The payload includes an empty exception table and attribute
// table after the instruction stream, as a compiler would emit.
func (b *classBuilder) addMethod(name, desc string, maxStack, maxLocals uint16, code []byte) {
	b.addUtf8(CodeAttributeName)

	payload := new(bytes.Buffer)
	payload.Write(u16be(maxStack))
	payload.Write(u16be(maxLocals))
	payload.Write(u32be(uint32(len(code))))
	payload.Write(code)
	payload.Write(u16be(0)) // exception_table_length
	payload.Write(u16be(0)) // attributes_count

	b.methods = append(b.methods, memberSpec{
		flags:   0x0009, // public static
		nameIdx: b.addUtf8(name),
		descIdx: b.addUtf8(desc),
		code:    payload.Bytes(),
	})
}

func (b *classBuilder) writeMembers(buf *bytes.Buffer, members []memberSpec) {
	buf.Write(u16be(uint16(len(members))))
	for _, m := range members {
		buf.Write(u16be(m.flags))
		buf.Write(u16be(m.nameIdx))
		buf.Write(u16be(m.descIdx))
		if m.code == nil {
			buf.Write(u16be(0))
			continue
		}
		buf.Write(u16be(1))
		buf.Write(u16be(b.utf8Cache[CodeAttributeName]))
		buf.Write(u32be(uint32(len(m.code))))
		buf.Write(m.code)
	}
}

func (b *classBuilder) build() []byte {
	buf := new(bytes.Buffer)
	buf.Write(u32be(ClassMagic))
	buf.Write(u16be(0))  // minor_version
	buf.Write(u16be(52)) // major_version

	buf.Write(u16be(b.nextSlot)) // constant_pool_count
	for _, e := range b.entries {
		buf.WriteByte(byte(e.tag))
		buf.Write(e.payload)
	}

	buf.Write(u16be(0x0021)) // ACC_PUBLIC | ACC_SUPER
	buf.Write(u16be(b.thisIdx))
	buf.Write(u16be(b.superIdx))

	buf.Write(u16be(0)) // interfaces_count
	b.writeMembers(buf, b.fields)
	b.writeMembers(buf, b.methods)
	buf.Write(u16be(0)) // attributes_count

	return buf.Bytes()
}

// parseBuilt builds the class file and parses it back, failing the
// calling test on any error.
func parseBuilt(t testingT, b *classBuilder) *File {
	t.Helper()
	f, err := NewBytes(b.build(), nil)
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := f.Parse(); err != nil {
		t.Fatalf("Parse failed, reason: %v", err)
	}
	return f
}

// newTestVM builds a VM preloaded with the classes produced by the
// given builders.
func newTestVM(t testingT, builders ...*classBuilder) *VM {
	t.Helper()
	vm := newVM(nil)
	for _, b := range builders {
		if err := vm.LoadClassBytes(b.build()); err != nil {
			t.Fatalf("LoadClassBytes failed, reason: %v", err)
		}
	}
	return vm
}

// testingT is the subset of *testing.T the helpers need.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
}
