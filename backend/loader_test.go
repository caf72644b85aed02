// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend_test

import (
	"errors"
	"io/fs"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/accel/backend"
	"github.com/kortschak/accel/backend/backendtest"
)

var loaderTests = []struct {
	name        string
	libs        map[string][]string
	path        string
	desc        backend.Descriptor
	wantInit    bool
	wantState   backend.State
	wantMapped  bool
	wantLookups []string
	wantBound   []string
	wantErr     any
}{
	{
		name:        "complete",
		libs:        map[string][]string{"/lib/libabc.so": {"A", "B", "C"}},
		path:        "/lib/libabc.so",
		desc:        abc,
		wantInit:    true,
		wantState:   backend.Initialized,
		wantMapped:  true,
		wantLookups: []string{"A", "B", "C"},
		wantBound:   []string{"A", "B", "C"},
	},
	{
		name:        "extra_symbols",
		libs:        map[string][]string{"/lib/libabc.so": {"X", "C", "B", "A", "Y"}},
		path:        "/lib/libabc.so",
		desc:        abc,
		wantInit:    true,
		wantState:   backend.Initialized,
		wantMapped:  true,
		wantLookups: []string{"A", "B", "C"},
		wantBound:   []string{"A", "B", "C"},
	},
	{
		name:        "missing_last",
		libs:        map[string][]string{"/lib/libab.so": {"A", "B"}},
		path:        "/lib/libab.so",
		desc:        abc,
		wantInit:    false,
		wantState:   backend.Failed,
		wantMapped:  true,
		wantLookups: []string{"A", "B", "C"},
		wantBound:   []string{"A", "B"},
		wantErr:     new(*backend.SymbolError),
	},
	{
		name:        "missing_first",
		libs:        map[string][]string{"/lib/libbc.so": {"B", "C"}},
		path:        "/lib/libbc.so",
		desc:        abc,
		wantInit:    false,
		wantState:   backend.Failed,
		wantMapped:  true,
		wantLookups: []string{"A"},
		wantBound:   nil,
		wantErr:     new(*backend.SymbolError),
	},
	{
		name:        "case_mismatch",
		libs:        map[string][]string{"/lib/libabc.so": {"a", "B", "C"}},
		path:        "/lib/libabc.so",
		desc:        abc,
		wantInit:    false,
		wantState:   backend.Failed,
		wantMapped:  true,
		wantLookups: []string{"A"},
		wantBound:   nil,
		wantErr:     new(*backend.SymbolError),
	},
	{
		name:        "missing_library",
		libs:        map[string][]string{},
		path:        "/lib/libabc.so",
		desc:        abc,
		wantInit:    false,
		wantState:   backend.Failed,
		wantMapped:  false,
		wantLookups: nil,
		wantBound:   nil,
		wantErr:     new(*backend.LoadError),
	},
	{
		name:        "empty_descriptor",
		libs:        map[string][]string{"/lib/libnone.so": nil},
		path:        "/lib/libnone.so",
		desc:        backend.Descriptor{Name: "empty"},
		wantInit:    true,
		wantState:   backend.Initialized,
		wantMapped:  true,
		wantLookups: nil,
		wantBound:   nil,
	},
}

func TestLoader(t *testing.T) {
	for _, test := range loaderTests {
		t.Run(test.name, func(t *testing.T) {
			log, _ := newTestLogger(t)
			linker := &backendtest.Linker{Libs: test.libs}

			l := backend.NewLoader(linker, test.path, test.desc, log)

			if l.IsInitialized() != test.wantInit {
				t.Errorf("unexpected initialized state: got:%t want:%t", l.IsInitialized(), test.wantInit)
			}
			if l.State() != test.wantState {
				t.Errorf("unexpected state: got:%v want:%v", l.State(), test.wantState)
			}
			if l.Mapped() != test.wantMapped {
				t.Errorf("unexpected mapped state: got:%t want:%t", l.Mapped(), test.wantMapped)
			}
			if l.Path() != test.path {
				t.Errorf("unexpected path: got:%q want:%q", l.Path(), test.path)
			}
			if !cmp.Equal(test.wantLookups, linker.Lookups()) {
				t.Errorf("unexpected symbol lookups:\n--- want:\n+++ got:\n%s", cmp.Diff(test.wantLookups, linker.Lookups()))
			}

			var bound []string
			for _, b := range l.Bindings() {
				if b.Resolved() {
					bound = append(bound, b.Name)
				}
			}
			if !cmp.Equal(test.wantBound, bound) {
				t.Errorf("unexpected bound symbols:\n--- want:\n+++ got:\n%s", cmp.Diff(test.wantBound, bound))
			}
			if got := len(l.Bindings()); got != len(test.desc.Symbols) {
				t.Errorf("unexpected number of bindings: got:%d want:%d", got, len(test.desc.Symbols))
			}

			// backend.Initialized iff every declared symbol is bound.
			if l.IsInitialized() != (len(bound) == len(test.desc.Symbols) && l.Mapped()) {
				t.Errorf("initialized state does not match bindings: initialized=%t bound=%v", l.IsInitialized(), bound)
			}

			switch want := test.wantErr.(type) {
			case nil:
				if l.Err() != nil {
					t.Errorf("unexpected error: %v", l.Err())
				}
			case **backend.SymbolError:
				if !errors.As(l.Err(), want) {
					t.Errorf("unexpected error type: got:%T want:%T", l.Err(), *want)
				} else if (*want).Path != test.path {
					t.Errorf("unexpected symbol error path: got:%q want:%q", (*want).Path, test.path)
				}
			case **backend.LoadError:
				if !errors.As(l.Err(), want) {
					t.Errorf("unexpected error type: got:%T want:%T", l.Err(), *want)
				}
				if !errors.Is(l.Err(), fs.ErrNotExist) {
					t.Errorf("expected load error to wrap cause: %v", l.Err())
				}
			}

			err := l.Close()
			if err != nil {
				t.Errorf("unexpected error closing loader: %v", err)
			}
			if linker.Live() != 0 {
				t.Errorf("unexpected live handles after close: %d", linker.Live())
			}
		})
	}
}

func TestLoaderRetainsHandleOnResolutionFailure(t *testing.T) {
	log, _ := newTestLogger(t)
	linker := &backendtest.Linker{Libs: map[string][]string{"/lib/libab.so": {"A", "B"}}}

	l := backend.NewLoader(linker, "/lib/libab.so", abc, log)
	if l.IsInitialized() {
		t.Fatal("unexpected initialized loader")
	}
	if linker.Live() != 1 {
		t.Errorf("expected library to remain mapped until close: live=%d", linker.Live())
	}
	b, ok := l.Binding("C")
	if !ok {
		t.Fatal("C not found in bindings")
	}
	if b.Resolved() {
		t.Error("unexpected resolved binding for missing symbol")
	}
	_, ok = l.Binding("D")
	if ok {
		t.Error("unexpected binding for undeclared symbol")
	}

	l.Close()
	if linker.Live() != 0 {
		t.Errorf("unexpected live handles after close: %d", linker.Live())
	}
}

func TestLoaderCloseIdempotent(t *testing.T) {
	log, _ := newTestLogger(t)
	linker := &backendtest.Linker{Libs: map[string][]string{"/lib/libabc.so": {"A", "B", "C"}}}

	l := backend.NewLoader(linker, "/lib/libabc.so", abc, log)
	for i := 0; i < 3; i++ {
		err := l.Close()
		if err != nil {
			t.Errorf("unexpected error on close %d: %v", i, err)
		}
	}
	if linker.Closes() != 1 {
		t.Errorf("unexpected number of handle releases: got:%d want:1", linker.Closes())
	}
	if l.IsInitialized() {
		t.Error("closed loader reports initialized")
	}
	if l.State() != backend.Closed {
		t.Errorf("unexpected state after close: got:%v want:%v", l.State(), backend.Closed)
	}
	for _, b := range l.Bindings() {
		if b.Resolved() {
			t.Errorf("binding %s still resolved after close", b.Name)
		}
	}

	var nilLoader *backend.Loader
	if err := nilLoader.Close(); err != nil {
		t.Errorf("unexpected error closing nil loader: %v", err)
	}
	if nilLoader.IsInitialized() {
		t.Error("nil loader reports initialized")
	}

	failed := backend.NewLoader(linker, "/lib/missing.so", abc, log)
	for i := 0; i < 2; i++ {
		if err := failed.Close(); err != nil {
			t.Errorf("unexpected error on close %d of failed loader: %v", i, err)
		}
	}
	if linker.Closes() != 1 {
		t.Errorf("unexpected handle release for failed open: got:%d want:1", linker.Closes())
	}
}

func TestBind(t *testing.T) {
	log, _ := newTestLogger(t)
	linker := &backendtest.Linker{Libs: map[string][]string{
		"/lib/libabc.so": {"A", "B", "C"},
		"/lib/libab.so":  {"A", "B"},
	}}

	l := backend.NewLoader(linker, "/lib/libabc.so", abc, log)
	defer l.Close()

	var a func(int32) int32
	err := l.Bind("A", &a)
	if err != nil {
		t.Fatalf("unexpected error binding A: %v", err)
	}
	if a == nil {
		t.Error("bound function is nil")
	}

	var bErr error
	var wrong func(int32) int64
	bErr = l.Bind("B", &wrong)
	if !errors.Is(bErr, backend.ErrSignature) {
		t.Errorf("unexpected error for signature mismatch: got:%v want:%v", bErr, backend.ErrSignature)
	}
	bErr = l.Bind("A", a)
	if !errors.Is(bErr, backend.ErrSignature) {
		t.Errorf("unexpected error for non-pointer: got:%v want:%v", bErr, backend.ErrSignature)
	}
	bErr = l.Bind("A", (*func(int32) int32)(nil))
	if !errors.Is(bErr, backend.ErrSignature) {
		t.Errorf("unexpected error for nil pointer: got:%v want:%v", bErr, backend.ErrSignature)
	}
	var d func()
	bErr = l.Bind("D", &d)
	if !errors.Is(bErr, backend.ErrUnknownSymbol) {
		t.Errorf("unexpected error for unknown symbol: got:%v want:%v", bErr, backend.ErrUnknownSymbol)
	}

	partial := backend.NewLoader(linker, "/lib/libab.so", abc, log)
	defer partial.Close()
	var pa func(int32) int32
	bErr = partial.Bind("A", &pa)
	if !errors.Is(bErr, backend.ErrNotInitialized) {
		t.Errorf("unexpected error binding from partial library: got:%v want:%v", bErr, backend.ErrNotInitialized)
	}
	if pa != nil {
		t.Error("unexpected function bound from partial library")
	}

	addrOnly := backend.NewLoader(linker, "/lib/libabc.so", backend.Descriptor{Name: "addr", Symbols: []backend.Symbol{{Name: "A"}}}, log)
	defer addrOnly.Close()
	bErr = addrOnly.Bind("A", &pa)
	if !errors.Is(bErr, backend.ErrSignature) {
		t.Errorf("unexpected error binding address-only symbol: got:%v want:%v", bErr, backend.ErrSignature)
	}
	b, _ := addrOnly.Binding("A")
	if b.Addr != backendtest.Addr(0) {
		t.Errorf("unexpected address for A: got:%#x want:%#x", b.Addr, backendtest.Addr(0))
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[backend.State]string{
		backend.Unopened:         "unopened",
		backend.OpenedUnresolved: "opened-unresolved",
		backend.Initialized:      "initialized",
		backend.Failed:           "failed",
		backend.Closed:           "closed",
		backend.State(42):        "State(42)",
	} {
		if got := s.String(); got != want {
			t.Errorf("unexpected string for %d: got:%q want:%q", int(s), got, want)
		}
	}
}

func TestLoaderNilHandle(t *testing.T) {
	log, _ := newTestLogger(t)
	opener := backend.OpenerFunc(func(string) (backend.Handle, error) { return nil, nil })
	l := backend.NewLoader(opener, "/lib/libabc.so", abc, log)
	if l.IsInitialized() {
		t.Error("unexpected initialized loader without handle")
	}
	if l.State() != backend.Failed {
		t.Errorf("unexpected state: got:%v want:%v", l.State(), backend.Failed)
	}
	if l.Mapped() {
		t.Error("unexpected mapped loader without handle")
	}
	var loadErr *backend.LoadError
	if !errors.As(l.Err(), &loadErr) {
		t.Errorf("unexpected error type: got:%T want:%T", l.Err(), loadErr)
	}
	if !errors.Is(l.Err(), backend.ErrNoHandle) {
		t.Errorf("unexpected error: got:%v want:%v", l.Err(), backend.ErrNoHandle)
	}
	if err := l.Close(); err != nil {
		t.Errorf("unexpected error closing loader: %v", err)
	}
}

func TestLoaderInvalidDescriptor(t *testing.T) {
	log, _ := newTestLogger(t)
	linker := &backendtest.Linker{Libs: map[string][]string{"/lib/libabc.so": {"A", "B", "C"}}}
	dup := backend.Descriptor{
		Name: "dup",
		Symbols: []backend.Symbol{
			backend.Func[func(int32) int32]("A"),
			backend.Func[func() unsafe.Pointer]("A"),
		},
	}
	l := backend.NewLoader(linker, "/lib/libabc.so", dup, log)
	defer l.Close()
	if l.IsInitialized() {
		t.Error("unexpected initialized loader for invalid descriptor")
	}
	if l.State() != backend.Failed {
		t.Errorf("unexpected state: got:%v want:%v", l.State(), backend.Failed)
	}
	if l.Err() == nil {
		t.Error("expected error for invalid descriptor")
	}
	if opens := linker.Opens(); len(opens) != 0 {
		t.Errorf("unexpected library opens for invalid descriptor: %q", opens)
	}
}
