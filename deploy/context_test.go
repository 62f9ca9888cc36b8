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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alchemy-run/alchemy/resource"
)

func TestLifecycleContextDestroyOutsideDeletePanics(t *testing.T) {
	t.Parallel()
	root := NewRoot("app", ModeApply, "test")
	lctx := newLifecycleContext(root, context.Background(), resource.PhaseCreate, "app/A", "A", "test::Echo", nil, nil)

	assert.Panics(t, func() { lctx.Destroy() })
}

func TestLifecycleContextReplaceNoopOutsideUpdate(t *testing.T) {
	t.Parallel()
	root := NewRoot("app", ModeApply, "test")
	lctx := newLifecycleContext(root, context.Background(), resource.PhaseCreate, "app/A", "A", "test::Echo", nil, nil)

	lctx.Replace()
	assert.False(t, lctx.wantsReplace())
}

func TestLifecycleContextReplaceDuringUpdate(t *testing.T) {
	t.Parallel()
	root := NewRoot("app", ModeApply, "test")
	lctx := newLifecycleContext(root, context.Background(), resource.PhaseUpdate, "app/A", "A", "test::Echo", nil, nil)

	lctx.Replace()
	assert.True(t, lctx.wantsReplace())
}

func TestLifecycleContextPanicsAfterInvalidate(t *testing.T) {
	t.Parallel()
	root := NewRoot("app", ModeApply, "test")
	lctx := newLifecycleContext(root, context.Background(), resource.PhaseUpdate, "app/A", "A", "test::Echo", nil, nil)
	lctx.invalidate()

	assert.Panics(t, func() { lctx.Replace() })
}

func TestLifecycleContextCarriesInnerScope(t *testing.T) {
	t.Parallel()
	root := NewRoot("app", ModeApply, "test")
	inner, err := root.child("A")
	require.NoError(t, err)
	innerCtx := WithScope(context.Background(), inner)

	lctx := newLifecycleContext(root, innerCtx, resource.PhaseCreate, "app/A", "A", "test::Echo", nil, nil)
	assert.Same(t, inner, Current(lctx.Context()))
}
