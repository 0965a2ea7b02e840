// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseClassShape(t *testing.T) {
	b := newClassBuilder("Calc", "java/lang/Object")
	b.addField("total", "I")
	b.addMethod("add", "(II)I", 2, 2, []byte{
		OpIload0, OpIload1, OpIadd, OpIreturn,
	})

	f := parseBuilt(t, b)

	if f.Name != "Calc" {
		t.Errorf("class name got %q, want %q", f.Name, "Calc")
	}
	if f.SuperClass != "java/lang/Object" {
		t.Errorf("super class got %q, want %q", f.SuperClass, "java/lang/Object")
	}
	if f.MajorVersion != 52 || f.MinorVersion != 0 {
		t.Errorf("version got %d.%d, want 52.0", f.MajorVersion, f.MinorVersion)
	}
	if len(f.Interfaces) != 0 {
		t.Errorf("interfaces got %v, want none", f.Interfaces)
	}

	wantField := Member{Flags: 0x0002, Name: "total", Descriptor: "I"}
	if len(f.Fields) != 1 || !reflect.DeepEqual(f.Fields[0], wantField) {
		t.Errorf("fields got %+v, want [%+v]", f.Fields, wantField)
	}

	if len(f.Methods) != 1 {
		t.Fatalf("methods got %d, want 1", len(f.Methods))
	}
	m := f.Methods[0]
	if m.Name != "add" || m.Descriptor != "(II)I" {
		t.Errorf("method got %s%s, want add(II)I", m.Name, m.Descriptor)
	}
}

func TestParseCodeAttribute(t *testing.T) {
	bytecode := []byte{OpIload0, OpIload1, OpIadd, OpIreturn}
	b := newClassBuilder("Calc", "java/lang/Object")
	b.addMethod("add", "(II)I", 7, 3, bytecode)

	f := parseBuilt(t, b)

	m, ok := f.Method("add")
	if !ok {
		t.Fatal("Method(add) not found")
	}
	code, err := m.Code()
	if err != nil {
		t.Fatalf("Code() failed, reason: %v", err)
	}
	if code.MaxStack != 7 || code.MaxLocals != 3 {
		t.Errorf("code header got stack=%d locals=%d, want stack=7 locals=3",
			code.MaxStack, code.MaxLocals)
	}
	if !reflect.DeepEqual(code.Bytecode, bytecode) {
		t.Errorf("bytecode got % X, want % X", code.Bytecode, bytecode)
	}
}

func TestCodeMissing(t *testing.T) {
	b := newClassBuilder("Iface", "java/lang/Object")
	b.methods = append(b.methods, memberSpec{
		flags:   0x0401, // public abstract
		nameIdx: b.addUtf8("abstractOp"),
		descIdx: b.addUtf8("()V"),
	})

	f := parseBuilt(t, b)

	m, ok := f.Method("abstractOp")
	if !ok {
		t.Fatal("Method(abstractOp) not found")
	}
	if _, err := m.Code(); !errors.Is(err, ErrCodeMissing) {
		t.Errorf("got error %v, want ErrCodeMissing", err)
	}
}

func TestMethodFirstNameMatchWins(t *testing.T) {
	b := newClassBuilder("Over", "java/lang/Object")
	b.addMethod("pick", "(I)I", 1, 1, []byte{OpIload0, OpIreturn})
	b.addMethod("pick", "(II)I", 2, 2, []byte{OpIload0, OpIload1, OpIadd, OpIreturn})

	f := parseBuilt(t, b)

	m, ok := f.Method("pick")
	if !ok {
		t.Fatal("Method(pick) not found")
	}
	if m.Descriptor != "(I)I" {
		t.Errorf("first name match got descriptor %q, want %q", m.Descriptor, "(I)I")
	}
}

func TestParseBadMagic(t *testing.T) {
	f, err := NewBytes(u32be(0xDEADBEEF), nil)
	if err != nil {
		t.Fatalf("NewBytes failed, reason: %v", err)
	}
	if err := f.Parse(); !errors.Is(err, ErrNotClassFile) {
		t.Errorf("got error %v, want ErrNotClassFile", err)
	}
}

func TestParseTruncated(t *testing.T) {
	b := newClassBuilder("Calc", "java/lang/Object")
	b.addMethod("add", "(II)I", 2, 2, []byte{OpIload0, OpIload1, OpIadd, OpIreturn})
	full := b.build()

	// Cutting the file anywhere past the magic must surface
	// ErrTruncated, never a panic.
	for _, cut := range []int{5, 10, 20, len(full) / 2, len(full) - 1} {
		f, err := NewBytes(full[:cut], nil)
		if err != nil {
			t.Fatalf("NewBytes failed, reason: %v", err)
		}
		if err := f.Parse(); !errors.Is(err, ErrTruncated) {
			t.Errorf("cut at %d got error %v, want ErrTruncated", cut, err)
		}
	}
}
