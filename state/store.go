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

// Package state implements the durable per-resource StateStore (§4.7),
// backed by gocloud.dev/blob so the same code serves a local directory, an
// in-memory bucket in tests, or (via a different URL scheme) a cloud
// object store, exactly as the teacher's filestate backend layers its
// reference store atop blob.Bucket.
package state

import (
	"context"

	"github.com/alchemy-run/alchemy/resource"
)

// Store is the durable record of every resource under management. Scopes
// and the Runner never touch a backend directly; they go through Store so
// swapping the backing bucket (disk, memory, S3, ...) never touches
// engine logic.
type Store interface {
	// Init prepares the store for a scope, creating any backing
	// structure (directories, prefixes) it needs. Init is idempotent.
	Init(ctx context.Context, scopeFQN resource.FQN) error

	// Get returns the current record for fqn, or (nil, nil) if none
	// exists yet.
	Get(ctx context.Context, fqn resource.FQN) (*resource.State, error)

	// Set persists record, overwriting whatever was there before.
	Set(ctx context.Context, fqn resource.FQN, record *resource.State) error

	// Delete removes the record for fqn. Deleting a record that doesn't
	// exist is not an error.
	Delete(ctx context.Context, fqn resource.FQN) error

	// List returns every FQN persisted directly under scopeFQN (not
	// recursively), in no particular order.
	List(ctx context.Context, scopeFQN resource.FQN) ([]resource.FQN, error)

	// All returns every record persisted anywhere under scopeFQN,
	// including nested child scopes. The Finalizer (§4.6) uses this to
	// find orphans across an entire subtree in one pass.
	All(ctx context.Context, scopeFQN resource.FQN) ([]*resource.State, error)
}
