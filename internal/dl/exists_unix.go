// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package dl

import "golang.org/x/sys/unix"

// exists reports whether path is present. Permission failures count as
// present since dlopen will then report the more useful error.
func exists(path string) bool {
	return unix.Access(path, unix.F_OK) != unix.ENOENT
}
