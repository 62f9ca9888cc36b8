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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/registry"
	"github.com/alchemy-run/alchemy/resource"
)

// S4 — orphan cleanup: a resource recorded in prior state but not touched
// by the current run is deleted, with its prior output passed to the
// delete invocation, and its state record removed.
func TestFinalizerDeletesOrphanWithPriorOutput(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	var gotPrevOutput resource.PropertyMap
	var mu sync.Mutex
	reg := registry.New()
	require.NoError(t, reg.Register("test::Echo", func(ctx registry.LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error) {
		if ctx.Phase() == resource.PhaseDelete {
			mu.Lock()
			gotPrevOutput = ctx.Prev()
			mu.Unlock()
			return ctx.Destroy(), nil
		}
		return echoProvider(ctx, props)
	}, registry.Options{}))
	runner := NewRunner(store, reg, nil, nil)

	root1 := NewRoot("app", ModeApply, "test")
	ctx1 := WithScope(context.Background(), root1)
	for _, id := range []string{"A", "B"} {
		_, err := runner.Invoke(ctx1, "test::Echo", resource.ID(id), resource.PropertyMap{
			"msg": resource.NewStringProperty("hi"),
		})
		require.NoError(t, err)
	}
	_, err := NewFinalizer(runner).Finalize(ctx1, root1, false)
	require.NoError(t, err)

	root2 := NewRoot("app", ModeApply, "test")
	ctx2 := WithScope(context.Background(), root2)
	_, err = runner.Invoke(ctx2, "test::Echo", "A", resource.PropertyMap{
		"msg": resource.NewStringProperty("hi"),
	})
	require.NoError(t, err)

	fr, err := NewFinalizer(runner).Finalize(ctx2, root2, false)
	require.NoError(t, err)
	assert.False(t, fr.Skipped)
	assert.Equal(t, []resource.FQN{"app/B"}, fr.Deleted)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, gotPrevOutput)
	assert.Equal(t, "hi", gotPrevOutput["echoed"].StringValue())

	st, err := store.Get(ctx2, resource.FQN("app/B"))
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestFinalizerSkipsOnCancellation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	runner, _ := newTestRunner(t, store, nil)
	root := NewRoot("app", ModeApply, "test")

	fr, err := NewFinalizer(runner).Finalize(context.Background(), root, true)
	require.Error(t, err)
	assert.True(t, fr.Skipped)
	assert.Equal(t, "cancelled", fr.Reason)
}

func TestFinalizerMarksScopeFinalized(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	runner, _ := newTestRunner(t, store, nil)
	root := NewRoot("app", ModeApply, "test")

	assert.False(t, root.Finalized())
	_, err := NewFinalizer(runner).Finalize(context.Background(), root, false)
	require.NoError(t, err)
	assert.True(t, root.Finalized())

	ctx := WithScope(context.Background(), root)
	_, err = runner.Invoke(ctx, "test::Echo", "A", resource.PropertyMap{
		"msg": resource.NewStringProperty("hi"),
	})
	assert.ErrorIs(t, err, errs.ErrScopeFinalized)
}

// reverseDependencyOrder must delete a dependent before the resource it
// depends on.
func TestReverseDependencyOrderRespectsDeps(t *testing.T) {
	t.Parallel()

	a := &resource.State{FQN: "app/A", Seq: 1}
	b := &resource.State{FQN: "app/B", Seq: 2, Deps: []resource.FQN{"app/A"}}
	c := &resource.State{FQN: "app/C", Seq: 3, Deps: []resource.FQN{"app/B"}}

	levels, err := reverseDependencyOrder([]*resource.State{a, b, c})
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, []*resource.State{c}, levels[0])
	assert.Equal(t, []*resource.State{b}, levels[1])
	assert.Equal(t, []*resource.State{a}, levels[2])
}

func TestReverseDependencyOrderDetectsCycle(t *testing.T) {
	t.Parallel()

	a := &resource.State{FQN: "app/A", Deps: []resource.FQN{"app/B"}}
	b := &resource.State{FQN: "app/B", Deps: []resource.FQN{"app/A"}}

	_, err := reverseDependencyOrder([]*resource.State{a, b})
	require.Error(t, err)
}

func TestReverseDependencyOrderTiesBrokenByDescendingSeq(t *testing.T) {
	t.Parallel()

	a := &resource.State{FQN: "app/A", Seq: 5}
	b := &resource.State{FQN: "app/B", Seq: 9}

	levels, err := reverseDependencyOrder([]*resource.State{a, b})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	require.Len(t, levels[0], 2)
	assert.Equal(t, resource.FQN("app/B"), levels[0][0].FQN)
	assert.Equal(t, resource.FQN("app/A"), levels[0][1].FQN)
}
