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

package secret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/alchemy-run/alchemy/resource"
	"github.com/alchemy-run/alchemy/state"
)

func TestRotateReencryptsEveryRecordUnderScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := state.NewBlobStore(memblob.OpenBucket(nil))

	salt, err := NewSalt()
	require.NoError(t, err)
	oldKey := mustKey(t, "p1", salt)
	newKey := mustKey(t, "p2", salt)

	sealedProps, err := Seal(resource.PropertyMap{
		"apiKey": resource.NewSecretProperty(&resource.Secret{Type: "string", Plain: "sk_123"}),
	}, oldKey)
	require.NoError(t, err)

	fqn := resource.FQN("app/db")
	require.NoError(t, store.Set(ctx, fqn, &resource.State{
		Kind: "test::Database", FQN: fqn, Status: resource.StatusCreated, Props: sealedProps,
	}))

	// A sibling record with no secrets should be left alone entirely.
	plainFQN := resource.FQN("app/web")
	require.NoError(t, store.Set(ctx, plainFQN, &resource.State{
		Kind: "test::Web", FQN: plainFQN, Status: resource.StatusCreated,
		Props: resource.PropertyMap{"port": resource.NewNumberProperty(8080)},
	}))

	require.NoError(t, Rotate(ctx, store, oldKey, newKey, resource.FQN("app")))

	rotated, err := store.Get(ctx, fqn)
	require.NoError(t, err)
	opened, err := Open(rotated.Props, newKey)
	require.NoError(t, err)
	assert.Equal(t, "sk_123", opened["apiKey"].SecretValue().Plain)

	_, err = Open(rotated.Props, oldKey)
	require.Error(t, err)

	untouched, err := store.Get(ctx, plainFQN)
	require.NoError(t, err)
	assert.True(t, untouched.Props.Equal(resource.PropertyMap{"port": resource.NewNumberProperty(8080)}))
}

func TestRotateTwiceWithSwappedKeysRoundTrips(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := state.NewBlobStore(memblob.OpenBucket(nil))

	salt, err := NewSalt()
	require.NoError(t, err)
	oldKey := mustKey(t, "p1", salt)
	newKey := mustKey(t, "p2", salt)

	sealedProps, err := Seal(resource.PropertyMap{
		"apiKey": resource.NewSecretProperty(&resource.Secret{Type: "string", Plain: "sk_123"}),
	}, oldKey)
	require.NoError(t, err)

	fqn := resource.FQN("app/db")
	require.NoError(t, store.Set(ctx, fqn, &resource.State{
		Kind: "test::Database", FQN: fqn, Status: resource.StatusCreated, Props: sealedProps,
	}))

	require.NoError(t, Rotate(ctx, store, oldKey, newKey, resource.FQN("app")))
	require.NoError(t, Rotate(ctx, store, newKey, oldKey, resource.FQN("app")))

	final, err := store.Get(ctx, fqn)
	require.NoError(t, err)
	opened, err := Open(final.Props, oldKey)
	require.NoError(t, err)
	assert.Equal(t, "sk_123", opened["apiKey"].SecretValue().Plain)
}
