// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"fmt"
	"os"

	"github.com/go-kratos/kratos/v2/log"
)

// MethodArea is the shared table of loaded classes, keyed by class
// name. It is populated at VM construction and read-only afterwards.
type MethodArea struct {
	classes map[string]*File
}

// NewMethodArea returns an empty method area.
func NewMethodArea() *MethodArea {
	return &MethodArea{classes: make(map[string]*File)}
}

// Add registers a parsed class under its own name.
func (ma *MethodArea) Add(f *File) {
	ma.classes[f.Name] = f
}

// Names returns the names of all registered classes.
func (ma *MethodArea) Names() []string {
	names := make([]string, 0, len(ma.classes))
	for name := range ma.classes {
		names = append(names, name)
	}
	return names
}

// Lookup returns the class record registered under name.
func (ma *MethodArea) Lookup(name string) (*File, error) {
	f, ok := ma.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return f, nil
}

// VM owns the method area, the heap and a single thread of execution.
// It behaves as a one-shot executor: construct it over one or more
// class files, then Run a method.
type VM struct {
	MethodArea *MethodArea
	Heap       *Heap

	thread *Thread
	opts   *Options
	logger *log.Helper
}

// NewVM builds a VM and preloads the given class files into the method
// area.
func NewVM(opts *Options, paths ...string) (*VM, error) {
	vm := newVM(opts)
	for _, path := range paths {
		if err := vm.LoadClass(path); err != nil {
			vm.Close()
			return nil, err
		}
	}
	return vm, nil
}

func newVM(opts *Options) *VM {
	vm := VM{}
	if opts != nil {
		vm.opts = opts
	} else {
		vm.opts = &Options{}
	}

	if vm.opts.MaxCallDepth == 0 {
		vm.opts.MaxCallDepth = MaxDefaultCallDepth
	}

	var logger log.Logger
	if vm.opts.Logger == nil {
		logger = log.NewStdLogger(os.Stdout)
		vm.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		vm.logger = log.NewHelper(vm.opts.Logger)
	}

	vm.MethodArea = NewMethodArea()
	vm.Heap = NewHeap()
	vm.thread = NewThread(vm.MethodArea, vm.Heap, vm.opts.MaxCallDepth, vm.logger)
	return &vm
}

// LoadClass parses the class file at path and registers it in the
// method area.
func (vm *VM) LoadClass(path string) error {
	f, err := New(path, vm.opts)
	if err != nil {
		return err
	}
	if err := f.Parse(); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}

	vm.logger.Debugf("loaded class %s (super %s, %d methods)",
		f.Name, f.SuperClass, len(f.Methods))
	vm.MethodArea.Add(f)
	return nil
}

// LoadClassBytes parses a class file held in memory and registers it in
// the method area.
func (vm *VM) LoadClassBytes(data []byte) error {
	f, err := NewBytes(data, vm.opts)
	if err != nil {
		return err
	}
	if err := f.Parse(); err != nil {
		return err
	}
	vm.MethodArea.Add(f)
	return nil
}

// Run executes the named method with the supplied arguments and returns
// the single value it produced, Empty for a void return.
func (vm *VM) Run(className, methodName string, args []Value) (Value, error) {
	return vm.thread.ExecuteMethod(className, methodName, args)
}

// Close releases every memory-mapped class file.
func (vm *VM) Close() error {
	var firstErr error
	for _, f := range vm.MethodArea.classes {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
