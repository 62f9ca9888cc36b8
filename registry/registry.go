// Copyright 2016-2025, Pulumi Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/resource"
)

// Registry is the write-once-per-kind, read-mostly table described in §4.1
// and §9's global-registry lifecycle note. The package-level default
// instance is what production code uses; Registry is exported as a type
// mainly so tests can construct isolated instances instead of mutating
// shared global state (see Reset for the process-wide default's
// equivalent).
type Registry struct {
	mu      sync.RWMutex
	entries map[resource.Kind]entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[resource.Kind]entry)}
}

// Register binds kind to fn. Registering the same kind twice with an
// equivalent handler and options is a no-op (idempotent registration,
// §4.1); registering it with a different handler or options returns
// ErrKindConflict. Two ProviderFuncs are considered equivalent when they
// reference the same underlying function (by pointer identity) -- the
// common case of a package's init() registering its provider more than
// once, e.g. via multiple import paths pulling in the same package.
func (r *Registry) Register(kind resource.Kind, fn ProviderFunc, opts Options) error {
	if fn == nil {
		return fmt.Errorf("registry: cannot register nil provider for kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[kind]
	if !ok {
		r.entries[kind] = entry{fn: fn, opts: opts}
		return nil
	}
	if funcsEqual(existing.fn, fn) && existing.opts == opts {
		return nil
	}
	return fmt.Errorf("%w: kind %q already registered with a different provider", errs.ErrKindConflict, kind)
}

// Lookup returns the registered handler and options for kind, or
// (nil, Options{}, false) if nothing is registered.
func (r *Registry) Lookup(kind resource.Kind) (ProviderFunc, Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	if !ok {
		return nil, Options{}, false
	}
	return e.fn, e.opts, true
}

// Reset clears every registration. Production code never calls this; it
// exists for test isolation (§9: "Tests must reset between runs (provide
// a resetGlobals() for test isolation)").
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[resource.Kind]entry)
}

func funcsEqual(a, b ProviderFunc) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Default is the process-wide registry every Runner consults unless a
// test substitutes its own Registry (§4.1, §9 "Global registries ...
// process-wide").
var Default = New()

// Register registers fn with the Default registry.
func Register(kind resource.Kind, fn ProviderFunc, opts Options) error {
	return Default.Register(kind, fn, opts)
}

// Lookup looks fn up in the Default registry.
func Lookup(kind resource.Kind) (ProviderFunc, Options, bool) {
	return Default.Lookup(kind)
}

// ResetDefault clears the Default registry; test helper (§9 resetGlobals).
func ResetDefault() {
	Default.Reset()
}
