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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/alchemy-run/alchemy/registry"
	"github.com/alchemy-run/alchemy/resource"
	"github.com/alchemy-run/alchemy/secret"
	"github.com/alchemy-run/alchemy/state"
)

func newTestStore(t *testing.T) state.Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })
	return state.NewBlobStore(bucket)
}

// echoProvider returns {echoed: msg, v: <increasing counter>} and fails
// the invocation whenever props["shouldFail"] is true, for S5.
func echoProvider(ctx registry.LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error) {
	if ctx.Phase() == resource.PhaseDelete {
		return ctx.Destroy(), nil
	}
	if fail, ok := props["shouldFail"]; ok && fail.IsBool() && fail.BoolValue() {
		return nil, errors.New("provider refused")
	}
	v := float64(1)
	if ctx.Phase() == resource.PhaseUpdate {
		if prevV, ok := ctx.Prev()["v"]; ok && prevV.IsNumber() {
			v = prevV.NumberValue() + 1
		}
	}
	return resource.PropertyMap{
		"echoed": resource.NewStringProperty(props["msg"].StringValue()),
		"v":      resource.NewNumberProperty(v),
	}, nil
}

// passProvider returns props unchanged, used for dependent resources in
// the dependency-ordering scenario.
func passProvider(ctx registry.LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error) {
	if ctx.Phase() == resource.PhaseDelete {
		return ctx.Destroy(), nil
	}
	return props, nil
}

// replaceProvider requests replacement on every update.
func replaceProvider(ctx registry.LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error) {
	if ctx.Phase() == resource.PhaseDelete {
		return ctx.Destroy(), nil
	}
	if ctx.Phase() == resource.PhaseUpdate {
		ctx.Replace()
	}
	return resource.PropertyMap{"token": props["token"]}, nil
}

func newTestRunner(t *testing.T, store state.Store, key []byte) (*Runner, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("test::Echo", echoProvider, registry.Options{}))
	require.NoError(t, reg.Register("test::Pass", passProvider, registry.Options{}))
	require.NoError(t, reg.Register("test::Replace", replaceProvider, registry.Options{}))
	return NewRunner(store, reg, key, nil), reg
}

// S1 — create, update, skip.
func TestRunnerCreateUpdateSkip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	runner, _ := newTestRunner(t, store, nil)

	runRound := func(msg string) *InvokeResult {
		root := NewRoot("app", ModeApply, "test")
		ctx := WithScope(context.Background(), root)
		res, err := runner.Invoke(ctx, "test::Echo", "A", resource.PropertyMap{
			"msg": resource.NewStringProperty(msg),
		})
		require.NoError(t, err)
		return res
	}

	res1 := runRound("hi")
	assert.Equal(t, ResultStateSuccess, res1.Result)
	assert.Equal(t, resource.StatusCreated, res1.State.Status)
	assert.Equal(t, float64(1), res1.State.Output["v"].NumberValue())

	st, err := store.Get(context.Background(), resource.FQN("app/A"))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, resource.StatusCreated, st.Status)

	res2 := runRound("hi")
	assert.Equal(t, ResultStateSkipped, res2.Result)

	res3 := runRound("bye")
	assert.Equal(t, ResultStateSuccess, res3.Result)
	assert.Equal(t, resource.StatusUpdated, res3.State.Status)
	assert.Equal(t, "bye", res3.State.Output["echoed"].StringValue())
	assert.Equal(t, float64(2), res3.State.Output["v"].NumberValue())
}

// S2 — dependency ordering: B's props embed A's Output, and the Runner
// must await it before invoking B's provider, recording A's FQN in B's
// persisted deps.
func TestRunnerDependencyOrdering(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	runner, _ := newTestRunner(t, store, nil)

	root := NewRoot("app", ModeApply, "test")
	ctx := WithScope(context.Background(), root)

	resA, err := runner.Invoke(ctx, "test::Echo", "A", resource.PropertyMap{
		"msg": resource.NewStringProperty("hi"),
	})
	require.NoError(t, err)

	resB, err := runner.Invoke(ctx, "test::Pass", "B", resource.PropertyMap{
		"inputRef": resource.NewOutputProperty(resA.Output),
	})
	require.NoError(t, err)

	require.Len(t, resB.State.Deps, 1)
	assert.Equal(t, resource.FQN("app/A"), resB.State.Deps[0])

	resolved := resB.State.Output["inputRef"]
	require.True(t, resolved.IsObject())
	assert.Equal(t, "hi", resolved.ObjectValue()["echoed"].StringValue())
}

// S3 — replacement: an update that calls ctx.Replace() persists the new
// output immediately and queues the old output for a deferred delete that
// only runs during finalization.
func TestRunnerReplacement(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	runner, _ := newTestRunner(t, store, nil)

	root1 := NewRoot("app", ModeApply, "test")
	ctx1 := WithScope(context.Background(), root1)
	_, err := runner.Invoke(ctx1, "test::Replace", "A", resource.PropertyMap{
		"token": resource.NewStringProperty("old-token"),
	})
	require.NoError(t, err)
	_, err = NewFinalizer(runner).Finalize(ctx1, root1, false)
	require.NoError(t, err)

	root2 := NewRoot("app", ModeApply, "test")
	ctx2 := WithScope(context.Background(), root2)
	res2, err := runner.Invoke(ctx2, "test::Replace", "A", resource.PropertyMap{
		"token": resource.NewStringProperty("new-token"),
	})
	require.NoError(t, err)
	assert.True(t, res2.State.PendingReplacement)
	assert.Equal(t, "new-token", res2.State.Output["token"].StringValue())

	var deletedWithOldToken bool
	reg := registry.New()
	require.NoError(t, reg.Register("test::Replace", func(ctx registry.LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error) {
		if ctx.Phase() == resource.PhaseDelete {
			if ctx.Prev()["token"].StringValue() == "old-token" {
				deletedWithOldToken = true
			}
			return ctx.Destroy(), nil
		}
		return replaceProvider(ctx, props)
	}, registry.Options{}))
	runner.Registry = reg

	fr, err := NewFinalizer(runner).Finalize(ctx2, root2, false)
	require.NoError(t, err)
	assert.True(t, deletedWithOldToken)
	assert.Contains(t, fr.Deleted, resource.FQN("app/A"))

	st, err := store.Get(ctx2, resource.FQN("app/A"))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "new-token", st.Output["token"].StringValue())
}

// S5 — a failure anywhere in the tree gates orphan deletion for the whole
// run, even for branches that never re-declared their resource.
func TestRunnerFailureGatesOrphanDeletion(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	runner, _ := newTestRunner(t, store, nil)

	root1 := NewRoot("app", ModeApply, "test")
	ctx1 := WithScope(context.Background(), root1)
	for _, id := range []string{"A", "B", "C"} {
		_, err := runner.Invoke(ctx1, "test::Echo", resource.ID(id), resource.PropertyMap{
			"msg": resource.NewStringProperty("hi"),
		})
		require.NoError(t, err)
	}
	_, err := NewFinalizer(runner).Finalize(ctx1, root1, false)
	require.NoError(t, err)

	root2 := NewRoot("app", ModeApply, "test")
	ctx2 := WithScope(context.Background(), root2)
	_, errA := runner.Invoke(ctx2, "test::Echo", "A", resource.PropertyMap{
		"msg":        resource.NewStringProperty("hi"),
		"shouldFail": resource.NewBoolProperty(true),
	})
	require.Error(t, errA)
	_, errB := runner.Invoke(ctx2, "test::Echo", "B", resource.PropertyMap{
		"msg": resource.NewStringProperty("hi"),
	})
	require.NoError(t, errB)
	// C is intentionally not declared in this run's program.

	assert.True(t, root2.Failed())

	fr, err := NewFinalizer(runner).Finalize(ctx2, root2, false)
	require.NoError(t, err)
	assert.True(t, fr.Skipped)
	assert.Empty(t, fr.Deleted)

	stC, err := store.Get(ctx2, resource.FQN("app/C"))
	require.NoError(t, err)
	require.NotNil(t, stC)
	assert.True(t, stC.Status.Live())
}

// S6 — secrets persist as envelopes, never as plaintext, and only the
// right key opens them; rotation re-keys every record in place.
func TestRunnerSecretRoundTripAndRotation(t *testing.T) {
	t.Parallel()
	salt := []byte("0123456789abcdef")
	keyP1, err := secret.DeriveKey("p1", salt)
	require.NoError(t, err)
	keyP2, err := secret.DeriveKey("p2", salt)
	require.NoError(t, err)

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })
	store := state.NewBlobStore(bucket)

	reg := registry.New()
	require.NoError(t, reg.Register("test::Secret", func(ctx registry.LifecycleContext, props resource.PropertyMap) (resource.PropertyMap, error) {
		if ctx.Phase() == resource.PhaseDelete {
			return ctx.Destroy(), nil
		}
		return props, nil
	}, registry.Options{}))
	runner := NewRunner(store, reg, keyP1, nil)

	root := NewRoot("app", ModeApply, "test")
	ctx := WithScope(context.Background(), root)
	_, err = runner.Invoke(ctx, "test::Secret", "A", resource.PropertyMap{
		"apiKey": resource.NewSecretProperty(&resource.Secret{Type: "string", Plain: "sk_123"}),
	})
	require.NoError(t, err)

	raw, err := bucket.ReadAll(ctx, "app/A.json")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk_123")
	assert.Contains(t, strings.ToLower(string(raw)), "ciphertext")

	require.NoError(t, secret.Rotate(ctx, store, keyP1, keyP2, resource.FQN("app")))

	runnerP2 := NewRunner(store, reg, keyP2, nil)
	st, err := runnerP2.loadState(ctx, resource.FQN("app/A"))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "sk_123", st.Props["apiKey"].SecretValue().Plain)

	runnerStaleKey := NewRunner(store, reg, keyP1, nil)
	_, err = runnerStaleKey.loadState(ctx, resource.FQN("app/A"))
	require.Error(t, err)
}
