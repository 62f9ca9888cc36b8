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
	"sync"

	"github.com/alchemy-run/alchemy/resource"
)

// resourceLock is the per-FQN mutual exclusion primitive backing §5's
// shared-resource policy ("a simple per-FQN mutex in the Runner prevents
// overlapping writes for the same instance"). A single goroutine holds
// the lock's own mutex (via lock()/unlock()) while it decides which FQN
// it needs and marks it held; LockResource blocks inside that critical
// section (via a condition variable, which releases the mutex while
// waiting) until the FQN it wants is free.
type resourceLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	locked map[resource.FQN]bool
}

func newResourceLock() *resourceLock {
	l := &resourceLock{locked: make(map[resource.FQN]bool)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// lock/unlock guard the critical section in which a caller decides what
// to lock and calls LockResource/UnlockResource. They are separate
// methods (lowercase, deploy-internal) rather than folded into
// LockResource itself so a caller can make the decision and the call
// atomically against the "what's currently locked" snapshot.
func (l *resourceLock) lock()   { l.mu.Lock() }
func (l *resourceLock) unlock() { l.mu.Unlock() }

// LockResource blocks until fqn is free, then marks it held. Caller must
// already hold l (via lock()).
func (l *resourceLock) LockResource(fqn resource.FQN) {
	for l.locked[fqn] {
		l.cond.Wait()
	}
	l.locked[fqn] = true
}

// UnlockResource releases fqn and wakes any waiters.
func (l *resourceLock) UnlockResource(fqn resource.FQN) {
	delete(l.locked, fqn)
	l.cond.Broadcast()
}
