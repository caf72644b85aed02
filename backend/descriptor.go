// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package backend

import (
	"errors"
	"fmt"
	"reflect"
)

// Symbol is a required library entry point.
type Symbol struct {
	// Name is the exact exported symbol name.
	Name string
	// Signature is the Go function type the symbol is called
	// through. A nil Signature marks an address-only symbol
	// that cannot be bound with Loader.Bind.
	Signature reflect.Type
}

// Func returns a Symbol for name called through functions of type F.
func Func[F any](name string) Symbol {
	return Symbol{Name: name, Signature: reflect.TypeFor[F]()}
}

// Descriptor is the set of symbols a backend family requires, in the order
// they are resolved.
type Descriptor struct {
	Name    string
	Symbols []Symbol
}

// Names returns the symbol names of d in declared order.
func (d Descriptor) Names() []string {
	names := make([]string, len(d.Symbols))
	for i, s := range d.Symbols {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the named symbol.
func (d Descriptor) Lookup(name string) (Symbol, bool) {
	for _, s := range d.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Validate checks that d has a name and that its symbols are uniquely named
// with function signatures.
func (d Descriptor) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("missing descriptor name"))
	}
	seen := make(map[string]bool)
	for i, s := range d.Symbols {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("symbol %d: missing name", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("symbol %d: duplicate name %s", i, s.Name))
		}
		seen[s.Name] = true
		if s.Signature != nil && s.Signature.Kind() != reflect.Func {
			errs = append(errs, fmt.Errorf("symbol %d: %s signature is %s not func", i, s.Name, s.Signature.Kind()))
		}
	}
	return errors.Join(errs...)
}

// Binding is a resolved symbol. A zero Addr indicates the symbol was not
// resolved.
type Binding struct {
	Name string
	Addr uintptr
}

// Resolved returns whether the binding holds a symbol address.
func (b Binding) Resolved() bool { return b.Addr != 0 }

// resolve resolves the symbols of d from h in declared order. Resolution
// stops at the first failure, leaving that and all later bindings
// unresolved. The returned slice always has one element per symbol in d.
func resolve(h Handle, d Descriptor) ([]Binding, error) {
	bindings := make([]Binding, len(d.Symbols))
	for i, s := range d.Symbols {
		bindings[i].Name = s.Name
	}
	for i, s := range d.Symbols {
		p, err := h.Symbol(s.Name)
		if err != nil {
			return bindings, &SymbolError{Symbol: s.Name, Err: err}
		}
		if p == nil {
			return bindings, &SymbolError{Symbol: s.Name, Err: errors.New("nil address")}
		}
		bindings[i].Addr = uintptr(p)
	}
	return bindings, nil
}
