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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/resource"
)

// BlobStore is the normative StateStore backend (§6.2): it lays resource
// records out under a blob.Bucket using the scope chain as a directory
// path, one JSON file per resource FQN. Any gocloud.dev/blob driver works
// (fileblob for a local directory, memblob in tests, or a cloud driver via
// a different URL scheme) since BlobStore only calls the driver-agnostic
// blob.Bucket surface, the way the teacher's filestate backend layers its
// reference store atop a bucket rather than a specific filesystem API.
type BlobStore struct {
	bucket *blob.Bucket
}

// NewBlobStore wraps an already-opened bucket. Callers own the bucket's
// lifetime (Close it when done); BlobStore never closes it itself.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

// key maps a resource FQN to its blob path. Since resource ids may not
// contain Separator (resource.NewFQN enforces this), the FQN's own "/"
// structure already matches the desired scope-chain directory nesting, so
// the blob key is just the FQN with a .json suffix.
func key(fqn resource.FQN) string {
	return fqn.String() + ".json"
}

func fqnFromKey(k string) resource.FQN {
	return resource.FQN(strings.TrimSuffix(k, ".json"))
}

// withRetry wraps a single blob operation with the store's standard
// retry policy: 10 attempts, 100ms initial backoff, factor 2, capped at
// 10s. gocloud's generic blob.Bucket gives no retry guarantee of its own
// (unlike a cloud SDK client), so the store supplies one at this layer.
func withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(10),
	)
	return err
}

func (s *BlobStore) Init(ctx context.Context, scopeFQN resource.FQN) error {
	// blob.Bucket has no notion of an empty directory; nothing scope-specific
	// to create up front. The bucket as a whole does need its version
	// manifest checked/bootstrapped once, which ensureManifest handles
	// idempotently regardless of which scope Init is called for first.
	return s.ensureManifest(ctx)
}

func (s *BlobStore) Get(ctx context.Context, fqn resource.FQN) (*resource.State, error) {
	var data []byte
	err := withRetry(ctx, func() error {
		exists, err := s.bucket.Exists(ctx, key(fqn))
		if err != nil {
			return fmt.Errorf("%w: checking %s: %s", errs.ErrStateStore, fqn, err)
		}
		if !exists {
			return nil
		}
		data, err = s.bucket.ReadAll(ctx, key(fqn))
		if err != nil {
			return fmt.Errorf("%w: reading %s: %s", errs.ErrStateStore, fqn, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var st resource.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %s", errs.ErrSerialization, fqn, err)
	}
	return &st, nil
}

func (s *BlobStore) Set(ctx context.Context, fqn resource.FQN, record *resource.State) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %s", errs.ErrSerialization, fqn, err)
	}
	return withRetry(ctx, func() error {
		if err := s.bucket.WriteAll(ctx, key(fqn), data, nil); err != nil {
			return fmt.Errorf("%w: writing %s: %s", errs.ErrStateStore, fqn, err)
		}
		return nil
	})
}

func (s *BlobStore) Delete(ctx context.Context, fqn resource.FQN) error {
	return withRetry(ctx, func() error {
		err := s.bucket.Delete(ctx, key(fqn))
		if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: deleting %s: %s", errs.ErrStateStore, fqn, err)
		}
		return nil
	})
}

func (s *BlobStore) List(ctx context.Context, scopeFQN resource.FQN) ([]resource.FQN, error) {
	prefix := string(scopeFQN)
	if prefix != "" {
		prefix += resource.Separator
	}
	var out []resource.FQN
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: resource.Separator})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: listing %s: %s", errs.ErrStateStore, scopeFQN, err)
		}
		if obj.IsDir {
			continue
		}
		out = append(out, fqnFromKey(obj.Key))
	}
	return out, nil
}

func (s *BlobStore) All(ctx context.Context, scopeFQN resource.FQN) ([]*resource.State, error) {
	prefix := string(scopeFQN)
	if prefix != "" {
		prefix += resource.Separator
	}
	var out []*resource.State
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: listing %s: %s", errs.ErrStateStore, scopeFQN, err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		data, err := s.bucket.ReadAll(ctx, obj.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %s", errs.ErrStateStore, obj.Key, err)
		}
		var st resource.State
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("%w: decoding %s: %s", errs.ErrSerialization, obj.Key, err)
		}
		out = append(out, &st)
	}
	return out, nil
}
