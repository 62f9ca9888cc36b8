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

// Package registry implements the global Resource Registry (§4.1): the
// process-wide kind -> provider function table every Runner invocation
// consults to find the handler for a resource's kind.
package registry

import (
	"context"

	"github.com/alchemy-run/alchemy/resource"
)

// LifecycleContext is the interface the deploy package's concrete context
// satisfies; registry depends only on this narrow view so provider
// authors can be written and tested against registry without importing
// the (much larger) deploy package, mirroring how the teacher's
// deploytest.Provider mocks the plugin.Provider interface with bare
// function fields instead of a real gRPC-backed implementation.
type LifecycleContext interface {
	Phase() resource.Phase
	Prev() resource.PropertyMap
	PrevProps() resource.PropertyMap
	ID() resource.ID
	FQN() resource.FQN
	Kind() resource.Kind
	Stage() string
	Replace()
	Destroy() resource.PropertyMap
	IsLocal() bool

	// Context returns a context.Context carrying this invocation's own
	// inner scope as current (§3: "each resource instance has an inner
	// scope for nested resources it creates in its lifecycle handler").
	// A provider that creates nested resources passes this context to
	// whatever constructor/Runner.Invoke call it makes; registry depends
	// only on context.Context here, never on the deploy package, to keep
	// this interface importable without a cycle.
	Context() context.Context
}

// ProviderFunc is a resource kind's lifecycle handler (§4.1: "a provider
// function has the contract: inputs a LifecycleContext and props; output
// a value conforming to the resource's attribute schema"). Returning
// (nil, nil) during ctx.Phase() == PhaseDelete signals clean destruction
// (the Destroy() sentinel, §4.3); any error aborts the invocation.
type ProviderFunc func(ctx LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error)

// Options holds the per-kind registration flags from §4.1.
type Options struct {
	// AlwaysUpdate skips the input-equality short-circuit in phase
	// selection (§4.4 step 4), forcing `update` on every apply even when
	// props are unchanged from prior state.
	AlwaysUpdate bool
}

// entry is what the registry actually stores: the handler plus the
// options it was registered with, so a later identical registration can
// be recognized as idempotent rather than a conflict.
type entry struct {
	fn   ProviderFunc
	opts Options
}
