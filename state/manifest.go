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
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/alchemy-run/alchemy/errs"
)

// manifestKey is a bucket-root file, outside any scope's FQN chain, so it
// never collides with a resource record.
const manifestKey = "alchemy.meta.yaml"

// ManifestVersion is bumped whenever the on-disk record layout (the JSON
// shape written by BlobStore.Set) changes incompatibly.
const ManifestVersion = 1

// manifest is the bucket's own version marker, mirroring the teacher's
// `.pulumi/meta.yaml` stack-level bookkeeping file.
type manifest struct {
	Version int `yaml:"version"`
}

// ensureManifest reads the bucket's manifest, writing a fresh one the first
// time a bucket is used, and fails closed if a bucket written by a future,
// incompatible version of this store is opened by this version.
func (s *BlobStore) ensureManifest(ctx context.Context) error {
	var existing []byte
	err := withRetry(ctx, func() error {
		exists, err := s.bucket.Exists(ctx, manifestKey)
		if err != nil {
			return fmt.Errorf("%w: checking manifest: %s", errs.ErrStateStore, err)
		}
		if !exists {
			return nil
		}
		existing, err = s.bucket.ReadAll(ctx, manifestKey)
		if err != nil {
			return fmt.Errorf("%w: reading manifest: %s", errs.ErrStateStore, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if existing == nil {
		data, err := yaml.Marshal(&manifest{Version: ManifestVersion})
		if err != nil {
			return fmt.Errorf("%w: encoding manifest: %s", errs.ErrSerialization, err)
		}
		return withRetry(ctx, func() error {
			if err := s.bucket.WriteAll(ctx, manifestKey, data, nil); err != nil {
				return fmt.Errorf("%w: writing manifest: %s", errs.ErrStateStore, err)
			}
			return nil
		})
	}

	var m manifest
	if err := yaml.Unmarshal(existing, &m); err != nil {
		return fmt.Errorf("%w: decoding manifest: %s", errs.ErrSerialization, err)
	}
	if m.Version > ManifestVersion {
		return fmt.Errorf("%w: bucket manifest version %d is newer than this store supports (%d)",
			errs.ErrStateStore, m.Version, ManifestVersion)
	}
	return nil
}
