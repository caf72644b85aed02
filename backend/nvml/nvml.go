// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nvml provides the NVIDIA Management Library backend family.
package nvml

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/kortschak/accel/backend"
)

const (
	// Name is the family name.
	Name = "nvml"
	// Env is the override environment variable.
	Env = "NVML_LIB_PATH"
)

type (
	initFunc            = func() int32
	shutdownFunc        = func() int32
	deviceGetCountFunc  = func(count *uint32) int32
	deviceGetHandleFunc = func(index uint32, device *uintptr) int32
	deviceGetNameFunc   = func(device uintptr, name *byte, length uint32) int32
)

const (
	symInit            = "nvmlInit_v2"
	symShutdown        = "nvmlShutdown"
	symDeviceGetCount  = "nvmlDeviceGetCount_v2"
	symDeviceGetHandle = "nvmlDeviceGetHandleByIndex_v2"
	symDeviceGetName   = "nvmlDeviceGetName"
)

// Descriptor returns the NVML symbol requirements.
func Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name: Name,
		Symbols: []backend.Symbol{
			backend.Func[initFunc](symInit),
			backend.Func[shutdownFunc](symShutdown),
			backend.Func[deviceGetCountFunc](symDeviceGetCount),
			backend.Func[deviceGetHandleFunc](symDeviceGetHandle),
			backend.Func[deviceGetNameFunc](symDeviceGetName),
		},
	}
}

// Family returns the built-in NVML family configuration.
func Family() backend.Family {
	return backend.Family{
		Descriptor: Descriptor(),
		Env:        Env,
		Candidates: []string{
			"/usr/lib/x86_64-linux-gnu/libnvidia-ml.so.1",
			"/usr/lib64/libnvidia-ml.so.1",
		},
	}
}

// nameLength is NVML_DEVICE_NAME_V2_BUFFER_SIZE.
const nameLength = 96

// Return is a non-zero nvmlReturn_t.
type Return struct {
	Op   string
	Code int32
}

func (e *Return) Error() string {
	return fmt.Sprintf("%s: nvml error %d", e.Op, e.Code)
}

func check(op string, code int32) error {
	if code == 0 {
		return nil
	}
	return &Return{Op: op, Code: code}
}

// Library is a bound NVML library.
type Library struct {
	init            initFunc
	shutdown        shutdownFunc
	deviceGetCount  deviceGetCountFunc
	deviceGetHandle deviceGetHandleFunc
	deviceGetName   deviceGetNameFunc
}

// New returns a Library bound to the symbols held by l. l must be
// initialized with Descriptor and must remain open while the Library
// is in use. Init must be called before any other method.
func New(l *backend.Loader) (*Library, error) {
	if !l.IsInitialized() {
		return nil, backend.ErrNotInitialized
	}
	var lib Library
	err := errors.Join(
		l.Bind(symInit, &lib.init),
		l.Bind(symShutdown, &lib.shutdown),
		l.Bind(symDeviceGetCount, &lib.deviceGetCount),
		l.Bind(symDeviceGetHandle, &lib.deviceGetHandle),
		l.Bind(symDeviceGetName, &lib.deviceGetName),
	)
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

// Init initialises NVML.
func (l *Library) Init() error {
	return check(symInit, l.init())
}

// Shutdown releases NVML state acquired by Init.
func (l *Library) Shutdown() error {
	return check(symShutdown, l.shutdown())
}

// DeviceCount returns the number of NVIDIA devices.
func (l *Library) DeviceCount() (int, error) {
	var n uint32
	err := check(symDeviceGetCount, l.deviceGetCount(&n))
	return int(n), err
}

// DeviceName returns the product name of the device at index.
func (l *Library) DeviceName(index int) (string, error) {
	var dev uintptr
	err := check(symDeviceGetHandle, l.deviceGetHandle(uint32(index), &dev))
	if err != nil {
		return "", err
	}
	var name [nameLength]byte
	err = check(symDeviceGetName, l.deviceGetName(dev, &name[0], nameLength))
	if err != nil {
		return "", err
	}
	n := bytes.IndexByte(name[:], 0)
	if n < 0 {
		n = len(name)
	}
	return string(name[:n]), nil
}
