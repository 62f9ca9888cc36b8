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

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/alchemy-run/alchemy/resource"
)

func TestInitWritesManifestOnce(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Init(ctx, resource.FQN("app")))
	data, err := store.bucket.ReadAll(ctx, manifestKey)
	require.NoError(t, err)

	var m manifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	assert.Equal(t, ManifestVersion, m.Version)

	require.NoError(t, store.Init(ctx, resource.FQN("app")))
	data2, err := store.bucket.ReadAll(ctx, manifestKey)
	require.NoError(t, err)
	assert.Equal(t, data, data2)
}

func TestInitRejectsNewerManifest(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	future, err := yaml.Marshal(&manifest{Version: ManifestVersion + 1})
	require.NoError(t, err)
	require.NoError(t, store.bucket.WriteAll(ctx, manifestKey, future, nil))

	err = store.Init(ctx, resource.FQN("app"))
	require.Error(t, err)
}
