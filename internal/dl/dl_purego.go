// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (linux || darwin) && !cgo

package dl

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

const (
	RTLD_LAZY   = purego.RTLD_LAZY
	RTLD_NOW    = purego.RTLD_NOW
	RTLD_GLOBAL = purego.RTLD_GLOBAL
	RTLD_LOCAL  = purego.RTLD_LOCAL
)

// Open opens the dynamic library at path without cgo. See man 3 dlopen
// for details.
func Open(path string, flags int) (*Lib, error) {
	h, err := purego.Dlopen(path, flags)
	if err != nil {
		return nil, newOpenError(path, Error(err.Error()))
	}
	if h == 0 {
		return nil, newOpenError(path, Error("nil handle"))
	}
	return &Lib{
		handle: unsafe.Pointer(h),
		name:   path,
	}, nil
}

// Symbol takes a symbol name and returns a pointer to the symbol.
func (l *Lib) Symbol(name string) (unsafe.Pointer, error) {
	if !l.IsOpen() {
		return nil, fmt.Errorf("could not find %s: %w", name, ErrNoHandle)
	}
	s, err := purego.Dlsym(uintptr(l.handle), name)
	if err != nil {
		return nil, fmt.Errorf("could not find %s: %w", name, Error(err.Error()))
	}
	if s == 0 {
		return nil, fmt.Errorf("could not find %s: %w", name, ErrNilSymbol)
	}
	return unsafe.Pointer(s), nil
}

// Close closes the receiver, unloading the library. Symbols must not be used
// after Close has been called. Closing a nil or already closed Lib is a no-op.
func (l *Lib) Close() error {
	if !l.IsOpen() {
		return nil
	}
	h := uintptr(l.handle)
	l.handle = nil
	err := purego.Dlclose(h)
	if err != nil {
		return fmt.Errorf("error closing: %w", Error(err.Error()))
	}
	return nil
}
