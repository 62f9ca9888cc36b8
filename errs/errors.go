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

// Package errs defines the engine's error taxonomy (§7): a small set of
// sentinel tags that every layer wraps its errors around with %w, so
// callers can branch with errors.Is regardless of which component failed.
package errs

import "errors"

var (
	// ErrKindConflict: same id bound to a different kind, or duplicate
	// registry entry for a kind with a different provider function.
	ErrKindConflict = errors.New("kind conflict")

	// ErrStateStore: backend I/O failure, surfaced after retries are
	// exhausted.
	ErrStateStore = errors.New("state store error")

	// ErrSerialization: a prop/output value could not be serialized
	// (function, channel, or other opaque Go value reached the encoder).
	ErrSerialization = errors.New("serialization error")

	// ErrDependencyCycle: the Finalizer detected a cycle in `deps` while
	// ordering resources for deletion.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrProvider: a provider function returned an error from create/
	// update/delete/read.
	ErrProvider = errors.New("provider error")

	// ErrSecretKeyMissing: a passphrase was required to decrypt a secret
	// and none (or the wrong one) was supplied.
	ErrSecretKeyMissing = errors.New("secret key missing")

	// ErrCancellationSkipped: the root scope was cancelled, so
	// finalization (orphan cleanup) was skipped; state may be partial.
	ErrCancellationSkipped = errors.New("finalization skipped due to cancellation")

	// ErrBadProviderReference: a resource's Provider reference could not
	// be resolved to a registered provider (SPEC_FULL supplement 2).
	ErrBadProviderReference = errors.New("bad provider reference")

	// ErrScopeFinalized: an attempt was made to create a resource in a
	// scope that has already finished finalizing.
	ErrScopeFinalized = errors.New("scope already finalized")
)
