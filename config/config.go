// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides accel system configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/kortschak/accel/backend"
	"github.com/kortschak/accel/backend/cuda"
	"github.com/kortschak/accel/backend/nvml"
	"github.com/kortschak/accel/backend/tensorrt"
)

// System is a complete configuration.
type System struct {
	LogLevel  *slog.Level `json:"log_level,omitempty" toml:"log_level"`
	AddSource *bool       `json:"log_add_source,omitempty" toml:"log_add_source"`
	// Backends is the set of backend families to initialize,
	// keyed by family name. If Backends is empty, all the
	// families returned by Defaults are initialized.
	Backends map[string]*Backend `json:"backend,omitempty" toml:"backend"`

	Sum *Sum `json:"sum,omitempty"`
}

// Backend is the configuration for a backend family.
type Backend struct {
	// Env is the name of the environment variable holding
	// an override path. If Env is empty the family's default
	// variable is used.
	Env string `json:"env,omitempty" toml:"env"`
	// Path is an explicit override path. A non-empty value
	// of the environment variable named by Env takes
	// precedence over Path.
	Path string `json:"path,omitempty" toml:"path"`
	// Candidates is the ordered fallback list used when no
	// override is given. If Candidates is nil, the family's
	// built-in list is used.
	Candidates []string `json:"candidates,omitempty" toml:"candidates"`
	// Required indicates the system may not continue if
	// the backend cannot be initialized.
	Required bool `json:"required,omitempty" toml:"required"`

	Sum *Sum `json:"sum,omitempty"`
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	log_level?:      _#log_level
	log_add_source?: bool
	backend?:        _#backends
}

_#backends: {
	tensorrt?: _#backend
	cuda?:     _#backend
	nvml?:     _#backend
}

_#backend: {
	env?:        =~"^[A-Za-z_][A-Za-z0-9_]*$"
	path?:       !=""
	candidates?: [... !=""]
	required?:   bool
}

_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Defaults returns the built-in backend families keyed by name.
func Defaults() map[string]backend.Family {
	families := []backend.Family{
		tensorrt.Family(),
		cuda.Family(),
		nvml.Family(),
	}
	m := make(map[string]backend.Family, len(families))
	for _, f := range families {
		m[f.Name()] = f
	}
	return m
}

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
