// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backend provides run time discovery and binding of optional
// native acceleration libraries.
//
// A [Descriptor] declares the symbols a backend family needs. A [Loader]
// opens one library and resolves every declared symbol, reporting whether
// the library is usable with [Loader.IsInitialized]. A [Selector] chooses
// which library path to load, giving an explicit override absolute
// precedence over an ordered list of fallback candidates.
//
// Loading is intended to happen once during start up, before any calls
// are made through resolved symbols. Closing a Loader or Selector
// invalidates every symbol obtained from it.
package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/kortschak/accel/internal/dl"
)

// Handle is an open native library.
type Handle interface {
	// Symbol returns the address of the named symbol. Lookup is
	// exact and case-sensitive.
	Symbol(name string) (unsafe.Pointer, error)
	// Close releases the library. It must be safe to call more
	// than once.
	Close() error
}

// Opener opens native libraries.
type Opener interface {
	Open(path string) (Handle, error)
}

// OpenerFunc is an adapter to allow ordinary functions to be used as an
// Opener.
type OpenerFunc func(path string) (Handle, error)

func (f OpenerFunc) Open(path string) (Handle, error) { return f(path) }

// DL is an Opener using the system dynamic linker.
type DL struct {
	// Flags are the dlopen mode flags. If Flags is zero,
	// lazy binding with local symbol visibility is used.
	Flags int
}

// Open opens the library at path.
func (o DL) Open(path string) (Handle, error) {
	flags := o.Flags
	if flags == 0 {
		flags = dl.RTLD_LAZY | dl.RTLD_LOCAL
	}
	l, err := dl.Open(path, flags)
	if err != nil {
		return nil, err
	}
	return l, nil
}

var (
	// ErrNotInitialized is returned when a backend is used before it
	// has been successfully loaded or after it has been closed.
	ErrNotInitialized = errors.New("backend not initialized")

	// ErrUnknownSymbol is returned when a symbol that is not declared
	// in a backend's descriptor is requested.
	ErrUnknownSymbol = errors.New("symbol not declared")

	// ErrSignature is returned when a function value does not match
	// a symbol's declared signature.
	ErrSignature = errors.New("signature mismatch")

	// ErrNoHandle is returned when an Opener reports success without
	// returning a library handle.
	ErrNoHandle = errors.New("no library handle")
)

// LoadError is returned when a library cannot be opened.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SymbolError is returned when a library was opened but a required
// symbol could not be resolved.
type SymbolError struct {
	Path   string
	Symbol string
	Err    error
}

func (e *SymbolError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to resolve %s: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("failed to resolve %s in %s: %v", e.Symbol, e.Path, e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// ConfigurationError describes an unusable override value. An empty
// override is treated as though it was not set.
type ConfigurationError struct {
	Source string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return "invalid override: " + e.Reason
	}
	return fmt.Sprintf("invalid override %s: %s", e.Source, e.Reason)
}

func discard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return log
}
