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
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWorkerPoolNoError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	pool := newWorkerPool(0, cancel)

	const numTasks = 100
	for i := 0; i < numTasks; i++ {
		pool.AddWorker(func() error {
			runtime.Gosched()
			return nil
		})
	}

	err := pool.Wait(true)
	assert.NoError(t, err)
	assert.Nil(t, ctx.Err())
}

func TestWorkerPoolAccumulatesErrors(t *testing.T) {
	t.Parallel()

	_, cancel := context.WithCancel(context.Background())
	pool := newWorkerPool(0, cancel)

	const numTasks = 100
	wantErrs := make([]error, numTasks)
	for i := range wantErrs {
		wantErrs[i] = fmt.Errorf("error %d", i)
	}

	for _, e := range wantErrs {
		e := e
		pool.AddWorker(func() error { return e })
	}

	err := pool.Wait(true)
	require.Error(t, err)
	for _, e := range wantErrs {
		assert.ErrorIs(t, err, e)
	}
}

func TestWorkerPoolOneErrorCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	pool := newWorkerPool(0, cancel)

	const numTasks = 10
	giveErr := errors.New("great sadness")
	for i := 0; i < numTasks; i++ {
		i := i
		pool.AddWorker(func() error {
			if i == 7 {
				return giveErr
			}
			return nil
		})
	}

	err := pool.Wait(true)
	require.Error(t, err)
	assert.ErrorIs(t, err, giveErr)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWorkerPoolWorkerCount(t *testing.T) {
	t.Parallel()

	gomaxprocs := runtime.GOMAXPROCS(0)

	tests := []struct {
		desc            string
		numWorkers      int
		expectedWorkers int
	}{
		{desc: "default", expectedWorkers: gomaxprocs},
		{desc: "negative", numWorkers: -1, expectedWorkers: gomaxprocs},
		{desc: "explicit", numWorkers: 2, expectedWorkers: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.desc, func(t *testing.T) {
			t.Parallel()
			_, cancel := context.WithCancel(context.Background())
			pool := newWorkerPool(tt.numWorkers, cancel)
			assert.Equal(t, tt.expectedWorkers, pool.numWorkers)
		})
	}
}

// No sequence of AddWorker/Wait calls should deadlock or panic.
func TestWorkerPoolRandomActions(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ctx, cancel := context.WithCancel(context.Background())
		pool := newWorkerPool(0, cancel)

		var pending atomic.Int64
		var mu sync.Mutex
		var seen []error

		t.Run(map[string]func(*rapid.T){
			"addWorkerNoError": func(t *rapid.T) {
				pending.Add(1)
				pool.AddWorker(func() error {
					defer pending.Add(-1)
					runtime.Gosched()
					return nil
				})
			},
			"addWorkerWithError": func(t *rapid.T) {
				pending.Add(1)
				pool.AddWorker(func() error {
					defer pending.Add(-1)
					runtime.Gosched()
					mu.Lock()
					defer mu.Unlock()
					e := fmt.Errorf("%d", len(seen))
					seen = append(seen, e)
					return e
				})
			},
			"wait": func(t *rapid.T) {
				err := pool.Wait(false)
				mu.Lock()
				defer mu.Unlock()
				if len(seen) == 0 {
					assert.NoError(t, err)
				} else {
					for _, e := range seen {
						assert.ErrorIs(t, err, e)
					}
				}
			},
		})

		err := pool.Wait(true)
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			assert.NoError(t, err)
			assert.Nil(t, ctx.Err())
		} else {
			for _, e := range seen {
				assert.ErrorIs(t, err, e)
			}
			assert.ErrorIs(t, ctx.Err(), context.Canceled)
		}
		assert.Zero(t, pending.Load())
	})
}
