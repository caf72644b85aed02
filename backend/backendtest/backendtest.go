// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backendtest provides a synthetic dynamic linker for testing
// backend selection and binding without native libraries.
package backendtest

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"unsafe"

	"github.com/kortschak/accel/backend"
)

// symbolSpace provides stable non-nil addresses for synthetic symbols.
// The addresses must never be called.
var symbolSpace [256]byte

// Addr returns the address of the i'th symbol of a synthetic library.
func Addr(i int) uintptr {
	return uintptr(unsafe.Pointer(&symbolSpace[i]))
}

// Linker is a backend.Opener serving synthetic libraries that expose
// controlled symbol subsets. It records every call made to it.
type Linker struct {
	// Libs maps library paths to their exported symbols.
	Libs map[string][]string

	// CloseErr is returned by every handle release when non-nil.
	// The handle is still counted as released.
	CloseErr error

	mu      sync.Mutex
	opens   []string
	lookups []string
	live    int
	closes  int
}

// Open implements backend.Opener. Paths not present in Libs fail with an
// error wrapping fs.ErrNotExist.
func (l *Linker) Open(path string) (backend.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens = append(l.opens, path)
	syms, ok := l.Libs[path]
	if !ok {
		return nil, fmt.Errorf("%s: cannot open shared object file: %w", path, fs.ErrNotExist)
	}
	l.live++
	lib := &library{linker: l, symbols: make(map[string]unsafe.Pointer)}
	for i, s := range syms {
		lib.symbols[s] = unsafe.Pointer(&symbolSpace[i])
	}
	return lib, nil
}

// Opens returns the paths passed to Open in call order.
func (l *Linker) Opens() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.opens...)
}

// Lookups returns the symbol names looked up in call order.
func (l *Linker) Lookups() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lookups...)
}

// Live returns the number of open handles.
func (l *Linker) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// Closes returns the number of handles that have been released.
func (l *Linker) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

type library struct {
	linker  *Linker
	symbols map[string]unsafe.Pointer
	closed  bool
}

func (h *library) Symbol(name string) (unsafe.Pointer, error) {
	h.linker.mu.Lock()
	defer h.linker.mu.Unlock()
	h.linker.lookups = append(h.linker.lookups, name)
	if h.closed {
		return nil, errors.New("library closed")
	}
	p, ok := h.symbols[name]
	if !ok {
		return nil, fmt.Errorf("undefined symbol: %s", name)
	}
	return p, nil
}

func (h *library) Close() error {
	h.linker.mu.Lock()
	defer h.linker.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.linker.live--
	h.linker.closes++
	return h.linker.CloseErr
}
