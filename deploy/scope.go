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

// Package deploy implements the engine core: the Scope tree, the Runner
// that drives one resource's lifecycle, the Planner (dry-run), the
// Finalizer (orphan cleanup), and the bounded-concurrency primitives they
// share.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/resource"
)

// Mode is the top-level operation the root scope was started for; it
// determines how the Runner and Finalizer treat resources (§4.4 step 3,
// §4.6).
type Mode string

const (
	ModeApply   Mode = "apply"
	ModePlan    Mode = "plan"
	ModeDestroy Mode = "destroy"
)

// handle is what a claimed resource id resolves to in scope.resources: an
// Output the Runner will eventually resolve, plus the kind it was claimed
// under so a second same-id claim under a different kind can be detected
// as a kind conflict (§4.2 register).
type handle struct {
	kind   resource.Kind
	output *resource.Output
}

// Scope is the engine's namespacing and ordering unit (§4.2). Every
// resource instance owns an inner Scope for whatever nested resources its
// lifecycle handler creates; a Scope's `resources` map is where the
// lock-free claim protocol (§5) lives.
type Scope struct {
	name   string
	parent *Scope
	fqn    resource.FQN
	stage  string
	mode   Mode
	local  bool

	mu        sync.Mutex
	resources map[resource.ID]*handle
	children  []*Scope

	seq int64

	failedFlag    atomic.Bool
	finalizedFlag atomic.Bool
}

// scopeKey is the context.Context key current-scope propagation hangs
// off of (§5: "a per-task context (current scope) propagates across
// suspensions"). Go's context.Context, threaded through every call that
// can suspend, is this engine's task-local storage.
type scopeKey struct{}

// NewRoot creates the top-level scope for one plan/apply/destroy run.
func NewRoot(name string, mode Mode, stage string) *Scope {
	fqn, err := resource.NewFQN("", name)
	if err != nil {
		panic(fmt.Sprintf("deploy: invalid root scope name %q: %s", name, err))
	}
	return &Scope{
		name:      name,
		fqn:       fqn,
		stage:     stage,
		mode:      mode,
		resources: make(map[resource.ID]*handle),
	}
}

// WithScope returns a context carrying s as the current scope.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// Current returns the innermost active scope for ctx, or nil if none was
// ever set (§4.2 current()).
func Current(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// FQN is this scope's fully qualified name.
func (s *Scope) FQN() resource.FQN { return s.fqn }

// Mode is the run this scope belongs to.
func (s *Scope) Mode() Mode { return s.mode }

// Stage is the app-stage string resources in this scope inherit.
func (s *Scope) Stage() string { return s.stage }

// IsLocal reports whether this scope tree is running in dev/local mode
// (§4.3 LifecycleContext.isLocal).
func (s *Scope) IsLocal() bool { return s.local }

// SetLocal marks the scope tree as local/dev-mode; call on the root
// before any resources run.
func (s *Scope) SetLocal(local bool) { s.local = local }

// nextSeq atomically increments and returns the scope's sequence counter
// (§4.2 nextSeq(); §3 invariant I4: seq is monotonic per scope).
func (s *Scope) nextSeq() int64 {
	return atomic.AddInt64(&s.seq, 1)
}

// child creates a nested scope, e.g. a resource's own inner scope for the
// resources it creates in its lifecycle handler (§3: "each resource
// instance has an inner scope").
func (s *Scope) child(name string) (*Scope, error) {
	fqn, err := resource.NewFQN(s.fqn, name)
	if err != nil {
		return nil, err
	}
	c := &Scope{
		name:      name,
		parent:    s,
		fqn:       fqn,
		stage:     s.stage,
		mode:      s.mode,
		local:     s.local,
		resources: make(map[resource.ID]*handle),
	}
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
	return c, nil
}

// Run creates a child scope named name, runs fn with it as current, and
// returns fn's result (§4.2 run(name, fn)). If fn returns an error the
// child (and every enclosing scope) is marked failed.
func Run[T any](ctx context.Context, name string, fn func(ctx context.Context, s *Scope) (T, error)) (T, error) {
	parent := Current(ctx)
	if parent == nil {
		panic("deploy: Run called with no current scope in context; start from a root scope via WithScope")
	}
	child, err := parent.child(name)
	if err != nil {
		var zero T
		return zero, err
	}
	childCtx := WithScope(ctx, child)
	val, err := fn(childCtx, child)
	if err != nil {
		child.fail()
	}
	return val, err
}

// claim registers a pending handle for id under kind, or returns the
// existing handle if id is already claimed. The second return is true
// when a NEW handle was created (caller must run the provider); false
// means an existing invocation owns id and the caller should simply await
// its output. A same-id claim under a different kind is a KindConflict.
//
// Invariant: the handle becomes visible in s.resources synchronously with
// this call, before any provider runs (§4.2: "BEFORE the provider
// completes. This is what allows dependents to discover and await").
func (s *Scope) claim(id resource.ID, kind resource.Kind) (*handle, bool, error) {
	if s.finalizedFlag.Load() {
		return nil, false, fmt.Errorf("%w: scope %s", errs.ErrScopeFinalized, s.fqn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.resources[id]; ok {
		if h.kind != kind {
			return nil, false, fmt.Errorf("%w: id %q already bound to kind %q, cannot claim as %q",
				errs.ErrKindConflict, id, h.kind, kind)
		}
		return h, false, nil
	}
	fqn, err := resource.NewFQN(s.fqn, string(id))
	if err != nil {
		return nil, false, fmt.Errorf("deploy: %w", err)
	}
	h := &handle{kind: kind, output: resource.NewOutput(fqn)}
	s.resources[id] = h
	return h, true, nil
}

// fail marks s and every enclosing scope as failed (§4.2 fail()),
// preventing the Finalizer from treating undiscovered resources as
// orphans.
func (s *Scope) fail() {
	for cur := s; cur != nil; cur = cur.parent {
		cur.failedFlag.Store(true)
	}
}

// Failed reports whether s or any scope nested under it has failed
// (fail() marks every enclosing scope, so a root sees its whole tree).
func (s *Scope) Failed() bool {
	return s.failedFlag.Load()
}

// Handles returns a snapshot of the ids claimed directly in this scope.
func (s *Scope) Handles() map[resource.ID]resource.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[resource.ID]resource.Kind, len(s.resources))
	for id, h := range s.resources {
		out[id] = h.kind
	}
	return out
}

// Children returns a snapshot of this scope's direct child scopes.
func (s *Scope) Children() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Scope(nil), s.children...)
}

// Parent returns the enclosing scope, or nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// AllTouched returns the FQN -> kind of every resource claimed anywhere in
// s's subtree (s included), recursively. The Finalizer (§4.6) uses this
// to tell which previously-recorded state entries were "touched" by the
// current run and which are orphans.
func (s *Scope) AllTouched() map[resource.FQN]resource.Kind {
	out := make(map[resource.FQN]resource.Kind)
	s.collectTouched(out)
	return out
}

func (s *Scope) collectTouched(out map[resource.FQN]resource.Kind) {
	s.mu.Lock()
	for id, h := range s.resources {
		fqn, err := resource.NewFQN(s.fqn, string(id))
		if err == nil {
			out[fqn] = h.kind
		}
	}
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()
	for _, c := range children {
		c.collectTouched(out)
	}
}

// Finalized reports whether MarkFinalized has been called on s.
func (s *Scope) Finalized() bool { return s.finalizedFlag.Load() }

// MarkFinalized marks s as finalized: no further resource creation is
// permitted in it (§3 Scope.finalized).
func (s *Scope) MarkFinalized() { s.finalizedFlag.Store(true) }
