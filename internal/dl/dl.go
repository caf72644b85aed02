// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dl implements dlopen and related functionality.
//
// A Lib is owned by a single caller. Symbols obtained from a Lib must not
// be used after the Lib has been closed.
package dl

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"unsafe"
)

var (
	// ErrNoHandle is returned when a symbol is requested from a nil
	// or closed library.
	ErrNoHandle = errors.New("no library handle")

	// ErrNilSymbol is returned when a symbol resolves to a NULL address.
	ErrNilSymbol = errors.New("symbol has nil address")
)

// Lib represents an open handle to a dynamically loaded library.
type Lib struct {
	handle unsafe.Pointer
	name   string
}

// Name returns the path the library was opened with.
func (l *Lib) Name() string {
	if l == nil {
		return ""
	}
	return l.name
}

// IsOpen reports whether l holds a live handle.
func (l *Lib) IsOpen() bool {
	return l != nil && l.handle != nil
}

// Error is a dlerror error message.
type Error string

func (e Error) Error() string { return string(e) }

// openError is the error returned by Open. It matches fs.ErrNotExist
// when the requested absolute path is absent from the file system.
type openError struct {
	path    string
	missing bool
	err     error
}

func (e *openError) Error() string {
	return fmt.Sprintf("could not open %s: %v", e.path, e.err)
}

func (e *openError) Unwrap() error { return e.err }

func (e *openError) Is(target error) bool {
	return target == fs.ErrNotExist && e.missing
}

func newOpenError(path string, err error) error {
	return &openError{
		path:    path,
		missing: filepath.IsAbs(path) && !exists(path),
		err:     err,
	}
}
