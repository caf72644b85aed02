// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"log/slog"
	"sync"
)

// Override is an explicit library location. An Override with a non-empty
// Value takes absolute precedence over fallback candidates.
type Override struct {
	// Source describes where the value came from, for
	// example an environment variable name.
	Source string
	// Value is the library path.
	Value string
	// Present indicates the value was set, even if empty.
	Present bool
}

// Attempt sources.
const (
	FromOverride  = "override"
	FromCandidate = "candidate"
)

// Attempt records one library load attempt made by a Selector.
type Attempt struct {
	Path   string `json:"path"`
	Source string `json:"source"`
	State  string `json:"state"`
	Err    string `json:"error,omitempty"`
}

// Status is a summary of a Selector's outcome.
type Status struct {
	Backend     string    `json:"backend"`
	Initialized bool      `json:"initialized"`
	Path        string    `json:"path,omitempty"`
	Attempts    []Attempt `json:"attempts,omitempty"`
}

// Selector chooses and holds at most one usable Loader for a backend family.
type Selector struct {
	name string
	log  *slog.Logger

	mu       sync.Mutex
	loader   *Loader
	attempts []Attempt
}

// NewSelector performs the library selection for the backend described by d.
//
// If override has a non-empty value, exactly one load is attempted using
// that path and candidates are never consulted, whatever the outcome.
// Otherwise candidates are tried in order until one is initialized. A
// Loader that is superseded by a later attempt is closed before the next
// attempt is made.
//
// NewSelector never fails; IsInitialized reports whether a usable backend
// was found. A single summary of the outcome is logged.
func NewSelector(opener Opener, d Descriptor, override Override, candidates []string, log *slog.Logger) *Selector {
	s := &Selector{
		name: d.Name,
		log:  discard(log).With(slog.String("component", "backend."+d.Name)),
	}
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	if override.Value != "" {
		s.try(opener, d, override.Value, FromOverride, log)
	} else {
		if override.Present {
			s.log.LogAttrs(ctx, slog.LevelWarn, "ignoring override",
				slog.Any("error", &ConfigurationError{Source: override.Source, Reason: "empty value"}))
		} else if override.Source != "" {
			s.log.LogAttrs(ctx, slog.LevelDebug, "override not set, using candidates", slog.String("source", override.Source))
		}
		for _, path := range candidates {
			if s.loader != nil {
				err := s.loader.Close()
				if err != nil {
					s.log.LogAttrs(ctx, slog.LevelWarn, "failed to close superseded backend", slog.String("path", s.loader.Path()), slog.Any("error", err))
				}
			}
			s.try(opener, d, path, FromCandidate, log)
			if s.loader.IsInitialized() {
				break
			}
		}
	}

	if s.loader.IsInitialized() {
		s.log.LogAttrs(ctx, slog.LevelInfo, "backend initialized", slog.String("path", s.loader.Path()))
	} else {
		s.log.LogAttrs(ctx, slog.LevelError, "no backend available", slog.Any("attempts", s.attempts))
	}
	return s
}

func (s *Selector) try(opener Opener, d Descriptor, path, source string, log *slog.Logger) {
	s.loader = NewLoader(opener, path, d, log)
	a := Attempt{
		Path:   path,
		Source: source,
		State:  s.loader.State().String(),
	}
	if err := s.loader.Err(); err != nil {
		a.Err = err.Error()
	}
	s.attempts = append(s.attempts, a)
}

// Name returns the backend family name.
func (s *Selector) Name() string { return s.name }

// IsInitialized returns whether the Selector holds a usable Loader.
func (s *Selector) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loader.IsInitialized()
}

// Loader returns the Selector's Loader. If no load was attempted it
// returns nil. If no attempt succeeded, the last attempted Loader is
// returned for diagnostics.
func (s *Selector) Loader() *Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loader
}

// Attempts returns the load attempts made by the Selector in order.
func (s *Selector) Attempts() []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.attempts...)
}

// Status returns a summary of the Selector's outcome.
func (s *Selector) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Backend:     s.name,
		Initialized: s.loader.IsInitialized(),
		Attempts:    append([]Attempt(nil), s.attempts...),
	}
	if st.Initialized {
		st.Path = s.loader.Path()
	}
	return st
}

// Close releases the Selector's library. It must only be called once no
// calls through the library's symbols are in flight.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loader.Close()
}
