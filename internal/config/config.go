// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides configuration loading, validation and backend
// selection planning functions.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"hash"
	"os"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/accel/backend"
	"github.com/kortschak/accel/config"
)

// Alias the publicly visible types.
type (
	System  = config.System
	Backend = config.Backend
	Sum     = config.Sum
)

const backendName = "backend"

// Load reads and validates the TOML configuration at path. The returned
// configuration and each of its backends carry a semantic hash.
func Load(path string) (*System, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(sha1.New(), b)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

// Parse returns the configuration held in the TOML data, validated
// against config.Schema. Semantic hashes are calculated using h.
func Parse(h hash.Hash, data []byte) (*System, error) {
	c := &System{}
	err := toml.Unmarshal(data, c)
	if err != nil {
		return nil, err
	}
	_, err = Vet(c)
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(h)
	for name, b := range c.Backends {
		if b == nil {
			delete(c.Backends, name)
			continue
		}
		err = enc.Encode(b)
		if err != nil {
			return nil, err
		}
		b.Sum = (*Sum)(h.Sum(nil))
		h.Reset()
	}
	err = enc.Encode(c)
	if err != nil {
		return nil, err
	}
	c.Sum = (*Sum)(h.Sum(nil))
	h.Reset()
	return c, nil
}

// Vet validates cfg against config.Schema, returning the invalid field
// paths and an error describing the problems found.
func Vet(cfg *System) (paths [][]string, err error) {
	return Validate(config.Schema, cfg)
}

// Plan is the resolved selection input for a backend family.
type Plan struct {
	Family   backend.Family
	Override backend.Override
	Required bool
}

// Plans returns the backend selection plans for cfg, sorted by family name.
// Families are taken from defaults and modified by their configuration in
// cfg. If cfg is nil or configures no backend, a plan is returned for every
// default family. Otherwise only configured families are planned.
//
// Override environment variables are read with lookup, which will usually
// be os.LookupEnv. A non-empty environment value takes precedence over a
// configured path.
func Plans(cfg *System, defaults map[string]backend.Family, lookup func(string) (string, bool)) ([]Plan, error) {
	var configured map[string]*Backend
	if cfg != nil {
		configured = cfg.Backends
	}
	names := make([]string, 0, len(defaults))
	if len(configured) == 0 {
		for name := range defaults {
			names = append(names, name)
		}
	} else {
		for name := range configured {
			if _, ok := defaults[name]; !ok {
				return nil, fmt.Errorf("unknown backend family: %s", name)
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	plans := make([]Plan, 0, len(names))
	for _, name := range names {
		f := defaults[name].Clone()
		b := configured[name]
		var required bool
		if b != nil {
			if b.Env != "" {
				f.Env = b.Env
			}
			if b.Candidates != nil {
				f.Candidates = slices.Clone(b.Candidates)
			}
			required = b.Required
		}
		plans = append(plans, Plan{
			Family:   f,
			Override: override(name, f.Env, b, lookup),
			Required: required,
		})
	}
	return plans, nil
}

// override returns the override for the named family. The environment
// variable env is consulted first and then the configured path.
func override(name, env string, b *Backend, lookup func(string) (string, bool)) backend.Override {
	var (
		val string
		ok  bool
	)
	if env != "" && lookup != nil {
		val, ok = lookup(env)
	}
	if val != "" {
		return backend.Override{Source: env, Value: val, Present: true}
	}
	if b != nil && b.Path != "" {
		return backend.Override{
			Source:  fmt.Sprintf("%s.%s.path", backendName, name),
			Value:   b.Path,
			Present: true,
		}
	}
	return backend.Override{Source: env, Present: ok}
}
