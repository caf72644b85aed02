// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && cgo

package dl

/*
#include <dlfcn.h>
*/
import "C"

const (
	RTLD_NODELETE = int(C.RTLD_NODELETE)
	RTLD_NOLOAD   = int(C.RTLD_NOLOAD)
	RTLD_DEEPBIND = int(C.RTLD_DEEPBIND)
)
