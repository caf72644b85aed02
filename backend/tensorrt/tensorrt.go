// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tensorrt provides the TensorRT backend family.
//
// TensorRT exposes its C++ factory functions with C linkage. The returned
// objects are opaque to Go and are passed back to native code unchanged.
package tensorrt

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/kortschak/accel/backend"
)

const (
	// Name is the family name.
	Name = "tensorrt"
	// Env is the override environment variable.
	Env = "TENSORRT_LIB_PATH"
)

// Version is the NV_TENSORRT_VERSION passed to the factory functions when
// the caller does not specify one.
const Version = 8601

type (
	builderFunc  = func(logger unsafe.Pointer, version int32) unsafe.Pointer
	refitterFunc = func(engine, logger unsafe.Pointer, version int32) unsafe.Pointer
	runtimeFunc  = func(logger unsafe.Pointer, version int32) unsafe.Pointer
)

const (
	symBuilder  = "createInferBuilder_INTERNAL"
	symRefitter = "createInferRefitter_INTERNAL"
	symRuntime  = "createInferRuntime_INTERNAL"
)

// Descriptor returns the TensorRT symbol requirements.
func Descriptor() backend.Descriptor {
	return backend.Descriptor{
		Name: Name,
		Symbols: []backend.Symbol{
			backend.Func[builderFunc](symBuilder),
			backend.Func[refitterFunc](symRefitter),
			backend.Func[runtimeFunc](symRuntime),
		},
	}
}

// Family returns the built-in TensorRT family configuration.
func Family() backend.Family {
	return backend.Family{
		Descriptor: Descriptor(),
		Env:        Env,
		Candidates: []string{
			"/usr/lib/x86_64-linux-gnu/libnvinfer.so",
		},
	}
}

// Library is a bound TensorRT library.
type Library struct {
	createInferBuilder  builderFunc
	createInferRefitter refitterFunc
	createInferRuntime  runtimeFunc
}

// New returns a Library bound to the symbols held by l. l must be
// initialized with Descriptor and must remain open while the Library
// is in use.
func New(l *backend.Loader) (*Library, error) {
	if !l.IsInitialized() {
		return nil, backend.ErrNotInitialized
	}
	var lib Library
	err := errors.Join(
		l.Bind(symBuilder, &lib.createInferBuilder),
		l.Bind(symRefitter, &lib.createInferRefitter),
		l.Bind(symRuntime, &lib.createInferRuntime),
	)
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

// ErrNilObject is returned when a factory function returns NULL.
var ErrNilObject = errors.New("tensorrt: factory returned nil")

// NewBuilder returns an nvinfer1::IBuilder using the provided
// nvinfer1::ILogger.
func (l *Library) NewBuilder(logger unsafe.Pointer, version int32) (unsafe.Pointer, error) {
	return check(symBuilder, l.createInferBuilder(logger, version))
}

// NewRefitter returns an nvinfer1::IRefitter for the provided engine.
func (l *Library) NewRefitter(engine, logger unsafe.Pointer, version int32) (unsafe.Pointer, error) {
	return check(symRefitter, l.createInferRefitter(engine, logger, version))
}

// NewRuntime returns an nvinfer1::IRuntime.
func (l *Library) NewRuntime(logger unsafe.Pointer, version int32) (unsafe.Pointer, error) {
	return check(symRuntime, l.createInferRuntime(logger, version))
}

func check(fn string, p unsafe.Pointer) (unsafe.Pointer, error) {
	if p == nil {
		return nil, fmt.Errorf("%s: %w", fn, ErrNilObject)
	}
	return p, nil
}
