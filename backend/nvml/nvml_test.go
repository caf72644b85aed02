// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvml

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/accel/backend"
	"github.com/kortschak/accel/backend/backendtest"
)

var wantSymbols = []string{"nvmlInit_v2", "nvmlShutdown", "nvmlDeviceGetCount_v2", "nvmlDeviceGetHandleByIndex_v2", "nvmlDeviceGetName"}

func TestFamily(t *testing.T) {
	f := Family()
	if f.Name() != Name {
		t.Errorf("unexpected family name: got:%q want:%q", f.Name(), Name)
	}
	if f.Env != Env {
		t.Errorf("unexpected override variable: got:%q want:%q", f.Env, Env)
	}
	if len(f.Candidates) == 0 {
		t.Error("no default candidates")
	}
	for _, p := range f.Candidates {
		if !filepath.IsAbs(p) {
			t.Errorf("default candidate is not absolute: %s", p)
		}
	}
	err := f.Descriptor.Validate()
	if err != nil {
		t.Errorf("invalid descriptor: %v", err)
	}
	if !cmp.Equal(wantSymbols, f.Descriptor.Names()) {
		t.Errorf("unexpected symbols:\n--- want:\n+++ got:\n%s", cmp.Diff(wantSymbols, f.Descriptor.Names()))
	}
}

func TestNew(t *testing.T) {
	const (
		complete = "/lib/complete.so"
		partial  = "/lib/partial.so"
	)
	linker := &backendtest.Linker{Libs: map[string][]string{
		complete: wantSymbols,
		partial:  wantSymbols[:len(wantSymbols)-1],
	}}

	l := backend.NewLoader(linker, complete, Descriptor(), nil)
	defer l.Close()
	lib, err := New(l)
	if err != nil {
		t.Fatalf("unexpected error binding complete library: %v", err)
	}
	if lib == nil {
		t.Error("unexpected nil Library")
	}

	p := backend.NewLoader(linker, partial, Descriptor(), nil)
	defer p.Close()
	_, err = New(p)
	if !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("unexpected error for partial library: got:%v want:%v", err, backend.ErrNotInitialized)
	}

	_, err = New(nil)
	if !errors.Is(err, backend.ErrNotInitialized) {
		t.Errorf("unexpected error for nil loader: got:%v want:%v", err, backend.ErrNotInitialized)
	}
}

func TestCheck(t *testing.T) {
	if err := check(symInit, 0); err != nil {
		t.Errorf("unexpected error for success: %v", err)
	}
	err := check(symInit, 9)
	var ret *Return
	if !errors.As(err, &ret) {
		t.Fatalf("unexpected error type: %T", err)
	}
	if ret.Code != 9 || ret.Op != symInit {
		t.Errorf("unexpected return: %+v", ret)
	}
	if err.Error() != "nvmlInit_v2: nvml error 9" {
		t.Errorf("unexpected error text: %q", err)
	}
}
