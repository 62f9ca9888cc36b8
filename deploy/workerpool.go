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
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// workerPool bounds how many resource invocations run concurrently (§5:
// "Implementations on multi-threaded runtimes may distribute tasks across
// threads"). AddWorker never blocks the caller past acquiring a slot;
// errors from completed tasks accumulate and call the owner's cancel
// func, so tasks that watch the owner's context can stop early. The pool
// itself still runs every task it is given, and tasks already in-flight
// are left to finish (G2/G4's "within one level deletes may be parallel"
// still wants already-running work to land cleanly).
type workerPool struct {
	numWorkers int
	cancel     context.CancelFunc
	sem        chan struct{}
	wg         sync.WaitGroup

	mu   sync.Mutex
	errs *multierror.Error
}

// newWorkerPool creates a pool with numWorkers concurrent slots; <= 0
// means GOMAXPROCS(0). cancel is invoked the first time any worker
// returns an error, so the owner's context observes the failure without
// the pool itself needing to know what "the owner" is.
func newWorkerPool(numWorkers int, cancel context.CancelFunc) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &workerPool{
		numWorkers: numWorkers,
		cancel:     cancel,
		sem:        make(chan struct{}, numWorkers),
	}
}

// AddWorker enqueues fn to run on the next free slot.
func (p *workerPool) AddWorker(fn func() error) {
	p.wg.Add(1)
	p.sem <- struct{}{}
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()

		if err := fn(); err != nil {
			p.mu.Lock()
			p.errs = multierror.Append(p.errs, err)
			p.mu.Unlock()
			if p.cancel != nil {
				p.cancel()
			}
		}
	}()
}

// Wait returns the errors accumulated so far. When final is true it first
// blocks until every enqueued worker has completed; when false it reports
// whatever has landed without waiting, letting a caller poll progress
// mid-run.
func (p *workerPool) Wait(final bool) error {
	if final {
		p.wg.Wait()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs.ErrorOrNil()
}
