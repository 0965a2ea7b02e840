// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"fmt"
	"math"
)

// ConstantTag represents the tag byte of a constant pool entry.
type ConstantTag uint8

// Constant pool tags as defined by the class file format.
const (
	// TagUnusable marks the padding slot inserted after every Long and
	// Double constant. It never appears in the file itself.
	TagUnusable    ConstantTag = 0
	TagUtf8        ConstantTag = 1
	TagInteger     ConstantTag = 3
	TagFloat       ConstantTag = 4
	TagLong        ConstantTag = 5
	TagDouble      ConstantTag = 6
	TagClass       ConstantTag = 7
	TagString      ConstantTag = 8
	TagFieldref    ConstantTag = 9
	TagMethodref   ConstantTag = 10
	TagNameAndType ConstantTag = 12
)

// Errors
var (
	// ErrBadPoolIndex is returned when a constant pool index falls
	// outside [1, constant_pool_count).
	ErrBadPoolIndex = errors.New("constant pool index out of range")

	// ErrBadPoolEntry is returned when a constant pool entry does not
	// have the tag a resolution step expects.
	ErrBadPoolEntry = errors.New("unexpected constant pool entry")
)

// String stringifies the tag for diagnostics.
func (t ConstantTag) String() string {
	tagMap := map[ConstantTag]string{
		TagUnusable:    "Unusable",
		TagUtf8:        "Utf8",
		TagInteger:     "Integer",
		TagFloat:       "Float",
		TagLong:        "Long",
		TagDouble:      "Double",
		TagClass:       "Class",
		TagString:      "String",
		TagFieldref:    "Fieldref",
		TagMethodref:   "Methodref",
		TagNameAndType: "NameAndType",
	}

	if s, ok := tagMap[t]; ok {
		return s
	}
	return fmt.Sprintf("Unknown(%d)", uint8(t))
}

// Constant represents a single constant pool entry. Which of the value
// fields is meaningful depends on the tag. Entries with a tag outside
// the table above are kept to preserve index alignment but cannot be
// resolved.
type Constant struct {
	Tag ConstantTag `json:"tag"`

	// Utf8 carries the text of a Utf8 entry.
	Utf8 string `json:"utf8,omitempty"`

	// Literal numerics.
	Integer int32   `json:"integer,omitempty"`
	Float   float32 `json:"float,omitempty"`
	Long    int64   `json:"long,omitempty"`
	Double  float64 `json:"double,omitempty"`

	// NameIndex points to the Utf8 naming a Class entry, or the member
	// name of a NameAndType entry.
	NameIndex uint16 `json:"name_index,omitempty"`

	// DescIndex points to the Utf8 descriptor of a NameAndType entry.
	DescIndex uint16 `json:"desc_index,omitempty"`

	// StringIndex points to the Utf8 of a String entry.
	StringIndex uint16 `json:"string_index,omitempty"`

	// ClassIndex and NameAndTypeIndex form a Fieldref/Methodref entry.
	ClassIndex       uint16 `json:"class_index,omitempty"`
	NameAndTypeIndex uint16 `json:"name_and_type_index,omitempty"`
}

// MemberRef is a fully resolved Fieldref or Methodref entry.
type MemberRef struct {
	Class      string `json:"class"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// ConstantPool is the per-class symbol table. Indices are 1-based and
// valid in [1, Count); Long and Double entries occupy two consecutive
// indices, the second being Unusable.
type ConstantPool struct {
	Count     uint16     `json:"count"`
	Constants []Constant `json:"constants,omitempty"`
}

// parseConstantPool reads constant_pool_count followed by count-1
// entries. After every Long/Double entry an Unusable padding slot is
// appended without consuming input, so that 1-based indexing stays
// aligned with the file's index space.
func (f *File) parseConstantPool(r *classReader) {
	count := r.u2()
	cp := ConstantPool{Count: count}

	for i := uint16(1); i < count && r.err == nil; i++ {
		c := Constant{Tag: ConstantTag(r.u1())}
		switch c.Tag {
		case TagUtf8:
			c.Utf8 = r.utf8()
		case TagInteger:
			c.Integer = int32(r.u4())
		case TagFloat:
			c.Float = math.Float32frombits(r.u4())
		case TagLong:
			c.Long = int64(r.u8())
		case TagDouble:
			c.Double = math.Float64frombits(r.u8())
		case TagClass:
			c.NameIndex = r.u2()
		case TagString:
			c.StringIndex = r.u2()
		case TagFieldref, TagMethodref:
			c.ClassIndex = r.u2()
			c.NameAndTypeIndex = r.u2()
		case TagNameAndType:
			c.NameIndex = r.u2()
			c.DescIndex = r.u2()
		default:
			// Kept verbatim so later indices stay aligned. Resolving it
			// fails; the stream position past this point is suspect.
			f.logger.Warnf("unknown constant pool tag %d at entry %d", c.Tag, i)
		}

		cp.Constants = append(cp.Constants, c)
		if c.Tag == TagLong || c.Tag == TagDouble {
			cp.Constants = append(cp.Constants, Constant{Tag: TagUnusable})
			i++
		}
	}

	f.ConstantPool = cp
}

// Resolve returns the raw entry at a 1-based index.
func (cp *ConstantPool) Resolve(idx uint16) (*Constant, error) {
	if idx < 1 || int(idx) > len(cp.Constants) {
		return nil, fmt.Errorf("%w: %d", ErrBadPoolIndex, idx)
	}
	return &cp.Constants[idx-1], nil
}

// ResolveString returns the text behind an index: directly for a Utf8
// entry, transitively for a Class entry pointing at one.
func (cp *ConstantPool) ResolveString(idx uint16) (string, error) {
	c, err := cp.Resolve(idx)
	if err != nil {
		return "", err
	}

	switch c.Tag {
	case TagUtf8:
		return c.Utf8, nil
	case TagClass:
		return cp.ResolveString(c.NameIndex)
	default:
		return "", fmt.Errorf("%w: index %d holds %v, want Utf8 or Class",
			ErrBadPoolEntry, idx, c.Tag)
	}
}

// resolveUtf8 resolves an index that must point directly at a Utf8 entry.
func (cp *ConstantPool) resolveUtf8(idx uint16) (string, error) {
	c, err := cp.Resolve(idx)
	if err != nil {
		return "", err
	}
	if c.Tag != TagUtf8 {
		return "", fmt.Errorf("%w: index %d holds %v, want Utf8",
			ErrBadPoolEntry, idx, c.Tag)
	}
	return c.Utf8, nil
}

// ResolveMemberRef resolves a Fieldref or Methodref entry into the
// (class, name, descriptor) triple it denotes, following the class
// index through its Class entry and the name-and-type index through its
// NameAndType entry. Any structural mismatch along the way is an error.
func (cp *ConstantPool) ResolveMemberRef(idx uint16) (MemberRef, error) {
	c, err := cp.Resolve(idx)
	if err != nil {
		return MemberRef{}, err
	}
	if c.Tag != TagFieldref && c.Tag != TagMethodref {
		return MemberRef{}, fmt.Errorf("%w: index %d holds %v, want Fieldref or Methodref",
			ErrBadPoolEntry, idx, c.Tag)
	}

	cls, err := cp.Resolve(c.ClassIndex)
	if err != nil {
		return MemberRef{}, err
	}
	if cls.Tag != TagClass {
		return MemberRef{}, fmt.Errorf("%w: index %d holds %v, want Class",
			ErrBadPoolEntry, c.ClassIndex, cls.Tag)
	}
	className, err := cp.resolveUtf8(cls.NameIndex)
	if err != nil {
		return MemberRef{}, err
	}

	nat, err := cp.Resolve(c.NameAndTypeIndex)
	if err != nil {
		return MemberRef{}, err
	}
	if nat.Tag != TagNameAndType {
		return MemberRef{}, fmt.Errorf("%w: index %d holds %v, want NameAndType",
			ErrBadPoolEntry, c.NameAndTypeIndex, nat.Tag)
	}
	name, err := cp.resolveUtf8(nat.NameIndex)
	if err != nil {
		return MemberRef{}, err
	}
	desc, err := cp.resolveUtf8(nat.DescIndex)
	if err != nil {
		return MemberRef{}, err
	}

	return MemberRef{Class: className, Name: name, Descriptor: desc}, nil
}
