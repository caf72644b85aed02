// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import "slices"

// Family is the built-in configuration of a backend family.
type Family struct {
	// Descriptor is the family's required symbol set.
	Descriptor Descriptor
	// Env is the name of the environment variable holding
	// an override library path.
	Env string
	// Candidates are the default fallback library paths
	// in the order they are tried.
	Candidates []string
}

// Name returns the family's name.
func (f Family) Name() string { return f.Descriptor.Name }

// Clone returns a deep copy of f.
func (f Family) Clone() Family {
	f.Descriptor.Symbols = slices.Clone(f.Descriptor.Symbols)
	f.Candidates = slices.Clone(f.Candidates)
	return f
}
