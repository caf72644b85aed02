// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !(unix && cgo) && !((linux || darwin) && !cgo)

package dl

import (
	"errors"
	"unsafe"
)

const (
	RTLD_LAZY   = 0
	RTLD_NOW    = 0
	RTLD_GLOBAL = 0
	RTLD_LOCAL  = 0
)

var errNotImplemented = errors.New("not implemented")

// Open is not implemented on this platform.
func Open(path string, _ int) (*Lib, error) {
	return nil, newOpenError(path, errNotImplemented)
}

// Symbol is not implemented on this platform.
func (l *Lib) Symbol(name string) (unsafe.Pointer, error) {
	return nil, errNotImplemented
}

// Close is a no-op on this platform since no library can be opened.
func (l *Lib) Close() error {
	return nil
}
