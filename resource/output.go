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

package resource

import (
	"context"
	"sync"
)

// Output is the future a resource constructor hands back immediately: the
// runtime's stand-in for the unresolved result a dependent resource's
// props may embed (§3 Resource state record `deps`; §4.4 step 2; §9
// "Dependency discovery via futures"). A Go program has no implicit
// async/await, so Output is the explicit value that plays that role: the
// Runner walks props looking for *Output nodes and Awaits each one before
// invoking the dependent's provider.
type Output struct {
	// Producer is the FQN of the resource instance that will resolve
	// this Output. Recorded into a dependent's `deps` once awaited.
	Producer FQN

	mu     sync.Mutex
	done   chan struct{}
	value  PropertyValue
	err    error
	closed bool
}

// NewOutput creates an unresolved Output attributed to producer.
func NewOutput(producer FQN) *Output {
	return &Output{Producer: producer, done: make(chan struct{})}
}

// Resolved creates an already-resolved Output, useful for tests and for
// plan-phase synthetic placeholders (§4.5 step 2).
func Resolved(producer FQN, value PropertyValue) *Output {
	o := &Output{Producer: producer, done: make(chan struct{})}
	o.Resolve(value, nil)
	return o
}

// Resolve fulfills the Output exactly once; later calls are no-ops. This
// mirrors a sync.Once-guarded promise: the producer's Runner invocation
// calls it exactly once, on its own return path (success or failure).
func (o *Output) Resolve(value PropertyValue, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.value, o.err = value, err
	o.closed = true
	close(o.done)
}

// Await blocks until the Output resolves or ctx is cancelled. It is safe
// to call from multiple goroutines.
func (o *Output) Await(ctx context.Context) (PropertyValue, error) {
	select {
	case <-o.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.value, o.err
	case <-ctx.Done():
		return PropertyValue{}, ctx.Err()
	}
}

// Ready reports whether the Output has already resolved, without blocking.
func (o *Output) Ready() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}
