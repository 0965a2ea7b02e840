// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/go-kratos/kratos/v2/log"
)

const (
	// ClassMagic is the magic number that opens every class file.
	ClassMagic = 0xCAFEBABE

	// MaxDefaultCallDepth bounds the frame stack of a thread,
	// by default (1024).
	MaxDefaultCallDepth = 1024
)

// Errors
var (
	// ErrNotClassFile is returned when the file does not start with the
	// class file magic number.
	ErrNotClassFile = errors.New("not a class file, magic not found")
)

// A File represents an open Java class file.
type File struct {
	MinorVersion uint16       `json:"minor_version"`
	MajorVersion uint16       `json:"major_version"`
	ConstantPool ConstantPool `json:"constant_pool"`
	AccessFlags  uint16       `json:"access_flags"`
	Name         string       `json:"name"`
	SuperClass   string       `json:"super_class"`
	Interfaces   []string     `json:"interfaces,omitempty"`
	Fields       []Member     `json:"fields,omitempty"`
	Methods      []Member     `json:"methods,omitempty"`
	Attributes   []Attribute  `json:"attributes,omitempty"`

	data   mmap.MMap
	size   uint32
	f      *os.File
	opts   *Options
	logger *log.Helper
}

// Options for parsing and execution.
type Options struct {

	// Maximum depth of the interpreter frame stack, by default
	// (MaxDefaultCallDepth).
	MaxCallDepth uint32

	// A custom logger.
	Logger log.Logger
}

// New instantiates a file instance with options given a file name.
func New(name string, opts *Options) (*File, error) {

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	// Memory map the file instead of using read/write.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	if file.opts.MaxCallDepth == 0 {
		file.opts.MaxCallDepth = MaxDefaultCallDepth
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.size = uint32(len(file.data))
	file.f = f
	return &file, nil
}

// NewBytes instantiates a file instance with options given a memory buffer.
func NewBytes(data []byte, opts *Options) (*File, error) {

	file := File{}
	if opts != nil {
		file.opts = opts
	} else {
		file.opts = &Options{}
	}

	if file.opts.MaxCallDepth == 0 {
		file.opts.MaxCallDepth = MaxDefaultCallDepth
	}

	var logger log.Logger
	if file.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		file.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		file.logger = log.NewHelper(file.opts.Logger)
	}

	file.data = data
	file.size = uint32(len(file.data))
	return &file, nil
}

// Close closes the File.
func (f *File) Close() error {
	if f.f != nil {
		if f.data != nil {
			_ = f.data.Unmap()
		}
		return f.f.Close()
	}
	return nil
}

// Parse performs the file parsing for a class file. Section order is
// fixed by the format: everything after the constant pool is indexed
// against it.
func (f *File) Parse() error {

	r := &classReader{data: f.data}

	// Parse the magic and version numbers.
	if err := f.parseHeader(r); err != nil {
		return err
	}

	// Parse the constant pool.
	f.parseConstantPool(r)

	// Parse access flags and the this/super class names.
	if err := f.parseClassInfo(r); err != nil {
		return err
	}

	// Parse the interface name table.
	if err := f.parseInterfaces(r); err != nil {
		return err
	}

	// Parse fields, methods and class-level attributes. Fields and
	// methods share one layout.
	var err error
	if f.Fields, err = f.parseMembers(r); err != nil {
		return fmt.Errorf("parsing fields: %w", err)
	}
	if f.Methods, err = f.parseMembers(r); err != nil {
		return fmt.Errorf("parsing methods: %w", err)
	}
	if f.Attributes, err = f.parseAttributes(r); err != nil {
		return fmt.Errorf("parsing class attributes: %w", err)
	}

	return r.err
}

func (f *File) parseHeader(r *classReader) error {
	magic := r.u4()
	if r.err != nil {
		return r.err
	}
	if magic != ClassMagic {
		return fmt.Errorf("%w: got 0x%X", ErrNotClassFile, magic)
	}

	f.MinorVersion = r.u2()
	f.MajorVersion = r.u2()
	return r.err
}

func (f *File) parseClassInfo(r *classReader) error {
	f.AccessFlags = r.u2()

	thisClass := r.u2()
	superClass := r.u2()
	if r.err != nil {
		return r.err
	}

	var err error
	if f.Name, err = f.ConstantPool.ResolveString(thisClass); err != nil {
		return fmt.Errorf("resolving class name: %w", err)
	}
	if f.SuperClass, err = f.ConstantPool.ResolveString(superClass); err != nil {
		return fmt.Errorf("resolving super class name: %w", err)
	}
	return nil
}

func (f *File) parseInterfaces(r *classReader) error {
	count := r.u2()
	for i := uint16(0); i < count && r.err == nil; i++ {
		idx := r.u2()
		if r.err != nil {
			return r.err
		}
		name, err := f.ConstantPool.ResolveString(idx)
		if err != nil {
			return fmt.Errorf("resolving interface %d: %w", i, err)
		}
		f.Interfaces = append(f.Interfaces, name)
	}
	return r.err
}
