// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/ebitengine/purego"
)

// State is the load state of a Loader.
type State int

const (
	Unopened         State = iota // no open has been attempted
	OpenedUnresolved              // library open, symbols not yet resolved
	Initialized                   // library open and all symbols resolved
	Failed                        // open or resolution failed
	Closed                        // library released
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case OpenedUnresolved:
		return "opened-unresolved"
	case Initialized:
		return "initialized"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loader is a single native library and its resolved symbols. A Loader
// is single-use; a failed Loader cannot be retried.
type Loader struct {
	path     string
	desc     Descriptor
	handle   Handle
	bindings []Binding
	index    map[string]int
	state    State
	err      error
	log      *slog.Logger
}

// NewLoader opens the library at path with opener and resolves the symbols
// declared in d. The returned Loader is never nil; IsInitialized reports
// whether the library is usable.
//
// If a symbol fails to resolve, the library remains open until Close is
// called. An invalid descriptor fails the Loader without opening path.
func NewLoader(opener Opener, path string, d Descriptor, log *slog.Logger) *Loader {
	l := &Loader{
		path:  path,
		desc:  d,
		index: make(map[string]int, len(d.Symbols)),
		log:   discard(log).With(slog.String("component", "backend."+d.Name)),
	}
	err := d.Validate()
	if err != nil {
		l.state = Failed
		l.err = fmt.Errorf("invalid descriptor %q: %w", d.Name, err)
		l.log.LogAttrs(context.Background(), slog.LevelError, "invalid descriptor", slog.Any("error", err))
		return l
	}
	for i, s := range d.Symbols {
		l.index[s.Name] = i
	}
	l.load(context.Background(), opener)
	return l
}

func (l *Loader) load(ctx context.Context, opener Opener) {
	h, err := opener.Open(l.path)
	if err == nil && h == nil {
		err = ErrNoHandle
	}
	if err != nil {
		l.state = Failed
		l.err = &LoadError{Path: l.path, Err: err}
		l.log.LogAttrs(ctx, slog.LevelDebug, "open failed", slog.String("path", l.path), slog.Any("error", err))
		return
	}
	l.handle = h
	l.state = OpenedUnresolved

	l.bindings, err = resolve(h, l.desc)
	if err != nil {
		var symErr *SymbolError
		if errors.As(err, &symErr) {
			symErr.Path = l.path
		}
		// The handle is kept until Close even though the
		// library is unusable.
		l.state = Failed
		l.err = err
		l.log.LogAttrs(ctx, slog.LevelDebug, "resolution failed", slog.String("path", l.path), slog.Any("error", err))
		return
	}
	l.state = Initialized
	l.log.LogAttrs(ctx, slog.LevelDebug, "resolved", slog.String("path", l.path), slog.Int("symbols", len(l.bindings)))
}

// IsInitialized returns whether the library was opened and every declared
// symbol resolved. It returns false for a nil or closed Loader.
func (l *Loader) IsInitialized() bool {
	return l != nil && l.state == Initialized
}

// State returns the current load state.
func (l *Loader) State() State { return l.state }

// Path returns the library path the Loader was constructed with.
func (l *Loader) Path() string { return l.path }

// Err returns the error that caused the Loader to fail, or nil.
func (l *Loader) Err() error { return l.err }

// Descriptor returns the Loader's backend descriptor.
func (l *Loader) Descriptor() Descriptor { return l.desc }

// Mapped returns whether the Loader holds an open library handle. This
// may be true for a Loader that is not initialized.
func (l *Loader) Mapped() bool { return l.handle != nil }

// Binding returns the binding for the named symbol. The binding is
// unresolved if the Loader is not initialized.
func (l *Loader) Binding(name string) (Binding, bool) {
	i, ok := l.index[name]
	if !ok || i >= len(l.bindings) {
		return Binding{Name: name}, ok
	}
	return l.bindings[i], true
}

// Bindings returns all bindings in declared order.
func (l *Loader) Bindings() []Binding {
	b := make([]Binding, len(l.desc.Symbols))
	for i, s := range l.desc.Symbols {
		b[i].Name = s.Name
	}
	copy(b, l.bindings)
	return b
}

// Bind sets the function pointed to by fptr to call the named symbol. The
// function type must be identical to the symbol's declared signature.
// Bind fails if the Loader is not initialized.
func (l *Loader) Bind(name string, fptr any) (err error) {
	if !l.IsInitialized() {
		return fmt.Errorf("bind %s: %w", name, ErrNotInitialized)
	}
	i, ok := l.index[name]
	if !ok {
		return fmt.Errorf("bind %s: %w", name, ErrUnknownSymbol)
	}
	sig := l.desc.Symbols[i].Signature
	if sig == nil {
		return fmt.Errorf("bind %s: %w: no declared signature", name, ErrSignature)
	}
	v := reflect.ValueOf(fptr)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Func {
		return fmt.Errorf("bind %s: %w: %T is not a non-nil pointer to func", name, ErrSignature, fptr)
	}
	if got := v.Elem().Type(); got != sig {
		return fmt.Errorf("bind %s: %w: got %s want %s", name, ErrSignature, got, sig)
	}

	defer func() {
		// RegisterFunc panics for types it cannot marshal.
		if r := recover(); r != nil {
			err = fmt.Errorf("bind %s: %w: %v", name, ErrSignature, r)
		}
	}()
	purego.RegisterFunc(fptr, l.bindings[i].Addr)
	return nil
}

// Close releases the library. All bindings and functions bound with Bind
// become invalid. Close is a no-op on a Loader that holds no library.
func (l *Loader) Close() error {
	if l == nil || l.state == Closed {
		return nil
	}
	for i := range l.bindings {
		l.bindings[i].Addr = 0
	}
	l.state = Closed
	if l.handle == nil {
		return nil
	}
	h := l.handle
	l.handle = nil
	err := h.Close()
	if err != nil {
		l.log.LogAttrs(context.Background(), slog.LevelWarn, "close failed", slog.String("path", l.path), slog.Any("error", err))
		return fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	return nil
}
