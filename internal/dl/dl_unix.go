// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix && cgo

package dl

/*
#cgo LDFLAGS: -ldl
#include <stdlib.h>
#include <dlfcn.h>
*/
import "C"

import (
	"fmt"
	"unsafe"
)

const (
	RTLD_LAZY   = int(C.RTLD_LAZY)
	RTLD_NOW    = int(C.RTLD_NOW)
	RTLD_GLOBAL = int(C.RTLD_GLOBAL)
	RTLD_LOCAL  = int(C.RTLD_LOCAL)
)

// Open opens the dynamic library at path. See man 3 dlopen for details.
// The returned error carries the dlerror text.
func Open(path string, flags int) (*Lib, error) {
	C.dlerror()

	filename := C.CString(path)
	h := C.dlopen(filename, C.int(flags))
	C.free(unsafe.Pointer(filename))
	if h == nil {
		msg := "unknown dlopen failure"
		if dlErrMsg := C.dlerror(); dlErrMsg != nil {
			msg = C.GoString(dlErrMsg)
		}
		return nil, newOpenError(path, Error(msg))
	}
	return &Lib{
		handle: h,
		name:   path,
	}, nil
}

// Symbol takes a symbol name and returns a pointer to the symbol.
func (l *Lib) Symbol(name string) (unsafe.Pointer, error) {
	if !l.IsOpen() {
		return nil, fmt.Errorf("could not find %s: %w", name, ErrNoHandle)
	}
	C.dlerror()

	sym := C.CString(name)
	s := C.dlsym(l.handle, sym)
	C.free(unsafe.Pointer(sym))
	dlErrMsg := C.dlerror()
	if dlErrMsg != nil {
		return nil, fmt.Errorf("could not find %s: %w", name, Error(C.GoString(dlErrMsg)))
	}
	if s == nil {
		return nil, fmt.Errorf("could not find %s: %w", name, ErrNilSymbol)
	}
	return s, nil
}

// Close closes the receiver, unloading the library. Symbols must not be used
// after Close has been called. Closing a nil or already closed Lib is a no-op.
func (l *Lib) Close() error {
	if !l.IsOpen() {
		return nil
	}
	C.dlerror()

	C.dlclose(l.handle)
	l.handle = nil
	dlErrMsg := C.dlerror()
	if dlErrMsg != nil {
		return fmt.Errorf("error closing: %w", Error(C.GoString(dlErrMsg)))
	}
	return nil
}
