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

package deploy

import (
	"context"
	"sync"

	"github.com/alchemy-run/alchemy/resource"
)

// lifecycleContext is the concrete type satisfying registry.LifecycleContext
// (§4.3). One is built fresh per provider invocation and invalidated the
// moment the provider call returns, per the Open Question resolution in
// SPEC_FULL.md: a provider that retains ctx past its call and tries to use
// replace()/destroy() later panics instead of silently mutating state that
// no longer corresponds to an in-flight invocation.
type lifecycleContext struct {
	phase     resource.Phase
	prev      resource.PropertyMap
	prevProps resource.PropertyMap
	id        resource.ID
	fqn       resource.FQN
	kind      resource.Kind
	stage     string
	scope     *Scope
	isLocal   bool
	innerCtx  context.Context

	mu        sync.Mutex
	valid     bool
	replaceFl bool
}

// newLifecycleContext builds the context for one provider invocation.
// innerCtx already carries the invocation's own inner scope as current
// (§3: every resource instance owns an inner scope for nested resources
// it creates), set up by the Runner before calling the provider.
func newLifecycleContext(scope *Scope, innerCtx context.Context, phase resource.Phase, fqn resource.FQN, id resource.ID, kind resource.Kind, prev, prevProps resource.PropertyMap) *lifecycleContext {
	return &lifecycleContext{
		phase:     phase,
		prev:      prev,
		prevProps: prevProps,
		id:        id,
		fqn:       fqn,
		kind:      kind,
		stage:     scope.Stage(),
		scope:     scope,
		isLocal:   scope.IsLocal(),
		innerCtx:  innerCtx,
		valid:     true,
	}
}

// Context returns the context.Context a provider passes to any nested
// Runner.Invoke call it makes to create child resources.
func (c *lifecycleContext) Context() context.Context { return c.innerCtx }

// invalidate is called by the Runner immediately before it returns from
// the invocation this context was built for.
func (c *lifecycleContext) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func (c *lifecycleContext) checkValid() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		panic("deploy: LifecycleContext used after its provider invocation returned")
	}
}

func (c *lifecycleContext) Phase() resource.Phase         { return c.phase }
func (c *lifecycleContext) Prev() resource.PropertyMap    { return c.prev }
func (c *lifecycleContext) PrevProps() resource.PropertyMap { return c.prevProps }
func (c *lifecycleContext) ID() resource.ID               { return c.id }
func (c *lifecycleContext) FQN() resource.FQN             { return c.fqn }
func (c *lifecycleContext) Kind() resource.Kind           { return c.kind }
func (c *lifecycleContext) Stage() string                 { return c.stage }
func (c *lifecycleContext) IsLocal() bool                 { return c.isLocal }

// Replace marks that this invocation's changes require destroy-then-create
// (§4.3). Called during create it is a no-op: there is no old physical
// object yet to schedule a delete for.
func (c *lifecycleContext) Replace() {
	c.checkValid()
	if c.phase != resource.PhaseUpdate {
		return
	}
	c.mu.Lock()
	c.replaceFl = true
	c.mu.Unlock()
}

func (c *lifecycleContext) wantsReplace() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaceFl
}

// Destroy returns the destroy-sentinel (nil output) signalling clean
// removal from the delete phase (§4.3). It panics if called outside
// PhaseDelete, since returning it from any other phase would be
// indistinguishable from "the resource has no attributes."
func (c *lifecycleContext) Destroy() resource.PropertyMap {
	c.checkValid()
	if c.phase != resource.PhaseDelete {
		panic("deploy: ctx.Destroy() called outside the delete phase")
	}
	return nil
}
