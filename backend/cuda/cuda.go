// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cuda provides the CUDA runtime backend family.
package cuda

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/kortschak/accel/backend"
)

const (
	// Name is the family name.
	Name = "cuda"
	// Env is the override environment variable.
	Env = "CUDA_LIB_PATH"
)

type (
	getDeviceCountFunc = func(count *int32) int32
	setDeviceFunc      = func(device int32) int32
	mallocFunc         = func(ptr *unsafe.Pointer, size uintptr) int32
	freeFunc           = func(ptr unsafe.Pointer) int32
	memcpyFunc         = func(dst, src unsafe.Pointer, count uintptr, kind int32) int32
	getErrorStringFunc = func(code int32) string
)

const (
	symGetDeviceCount = "cudaGetDeviceCount"
	symSetDevice      = "cudaSetDevice"
	symMalloc         = "cudaMalloc"
	symFree           = "cudaFree"
	symMemcpy         = "cudaMemcpy"
	symGetErrorString = "cudaGetErrorString"
)

// Descriptor returns the CUDA runtime symbol requirements.
func Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name: Name,
		Symbols: []backend.Symbol{
			backend.Func[getDeviceCountFunc](symGetDeviceCount),
			backend.Func[setDeviceFunc](symSetDevice),
			backend.Func[mallocFunc](symMalloc),
			backend.Func[freeFunc](symFree),
			backend.Func[memcpyFunc](symMemcpy),
			backend.Func[getErrorStringFunc](symGetErrorString),
		},
	}
}

// Family returns the built-in CUDA runtime family configuration.
func Family() backend.Family {
	return backend.Family{
		Descriptor: Descriptor(),
		Env:        Env,
		Candidates: []string{
			"/usr/local/cuda/lib64/libcudart.so",
			"/usr/lib/x86_64-linux-gnu/libcudart.so",
		},
	}
}

// MemcpyKind is a cudaMemcpyKind.
type MemcpyKind int32

const (
	HostToHost     MemcpyKind = 0
	HostToDevice   MemcpyKind = 1
	DeviceToHost   MemcpyKind = 2
	DeviceToDevice MemcpyKind = 3
	Default        MemcpyKind = 4
)

// Error is a non-zero cudaError_t.
type Error struct {
	Op   string
	Code int32
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: cuda error %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Msg, e.Code)
}

// Runtime is a bound CUDA runtime library.
type Runtime struct {
	getDeviceCount getDeviceCountFunc
	setDevice      setDeviceFunc
	malloc         mallocFunc
	free           freeFunc
	memcpy         memcpyFunc
	getErrorString getErrorStringFunc
}

// New returns a Runtime bound to the symbols held by l. l must be
// initialized with Descriptor and must remain open while the Runtime
// is in use.
func New(l *backend.Loader) (*Runtime, error) {
	if !l.IsInitialized() {
		return nil, backend.ErrNotInitialized
	}
	var rt Runtime
	err := errors.Join(
		l.Bind(symGetDeviceCount, &rt.getDeviceCount),
		l.Bind(symSetDevice, &rt.setDevice),
		l.Bind(symMalloc, &rt.malloc),
		l.Bind(symFree, &rt.free),
		l.Bind(symMemcpy, &rt.memcpy),
		l.Bind(symGetErrorString, &rt.getErrorString),
	)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (rt *Runtime) check(op string, code int32) error {
	if code == 0 {
		return nil
	}
	return &Error{Op: op, Code: code, Msg: rt.getErrorString(code)}
}

// DeviceCount returns the number of CUDA devices.
func (rt *Runtime) DeviceCount() (int, error) {
	var n int32
	err := rt.check(symGetDeviceCount, rt.getDeviceCount(&n))
	return int(n), err
}

// SetDevice sets the device used by the calling host thread.
func (rt *Runtime) SetDevice(device int) error {
	return rt.check(symSetDevice, rt.setDevice(int32(device)))
}

// Malloc allocates size bytes of device memory.
func (rt *Runtime) Malloc(size uintptr) (unsafe.Pointer, error) {
	var p unsafe.Pointer
	err := rt.check(symMalloc, rt.malloc(&p, size))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Free releases device memory obtained from Malloc.
func (rt *Runtime) Free(p unsafe.Pointer) error {
	return rt.check(symFree, rt.free(p))
}

// Memcpy copies n bytes from src to dst.
func (rt *Runtime) Memcpy(dst, src unsafe.Pointer, n uintptr, kind MemcpyKind) error {
	return rt.check(symMemcpy, rt.memcpy(dst, src, n, int32(kind)))
}
