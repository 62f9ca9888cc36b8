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
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/alchemy-run/alchemy/resource"
	"github.com/alchemy-run/alchemy/state"
)

// Store is the narrow slice of state.Store Rotate needs: enumerate every
// record under a scope and rewrite it. Declared locally (rather than
// importing the concrete state.Store interface signature by name) so
// secret only depends on the method set it actually calls.
type Store interface {
	All(ctx context.Context, scopeFQN resource.FQN) ([]*resource.State, error)
	Set(ctx context.Context, fqn resource.FQN, record *resource.State) error
}

var _ Store = (state.Store)(nil)

// Rotate implements §4.9's rotate(oldPassphrase, newPassphrase, scopeFqn):
// every state record under scopeFQN is decrypted with the old key and
// re-encrypted with the new one, then rewritten atomically per record.
// Rotate processes records independently, so a failure partway through
// leaves a mix of old- and new-keyed records; re-running Rotate with the
// same (old, new) pair is idempotent per record (§4.9 P5), since a record
// already keyed to newKey fails to decrypt under oldKey and is reported
// rather than silently skipped -- callers that want strict idempotence
// across a partially-rotated tree should inspect the returned error for
// per-record failures and retry only those.
func Rotate(ctx context.Context, store Store, oldKey, newKey []byte, scopeFQN resource.FQN) error {
	records, err := store.All(ctx, scopeFQN)
	if err != nil {
		return fmt.Errorf("secret: listing records under %s: %w", scopeFQN, err)
	}

	var errs *multierror.Error
	for _, rec := range records {
		if !rec.Props.HasSecrets() && !rec.Output.HasSecrets() {
			continue
		}
		if err := rotateRecord(ctx, store, rec, oldKey, newKey); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", rec.FQN, err))
		}
	}
	return errs.ErrorOrNil()
}

func rotateRecord(ctx context.Context, store Store, rec *resource.State, oldKey, newKey []byte) error {
	plainProps, err := Open(rec.Props, oldKey)
	if err != nil {
		return fmt.Errorf("decrypting props: %w", err)
	}
	plainOutput, err := Open(rec.Output, oldKey)
	if err != nil {
		return fmt.Errorf("decrypting output: %w", err)
	}

	sealedProps, err := Seal(plainProps, newKey)
	if err != nil {
		return fmt.Errorf("re-encrypting props: %w", err)
	}
	sealedOutput, err := Seal(plainOutput, newKey)
	if err != nil {
		return fmt.Errorf("re-encrypting output: %w", err)
	}

	rewritten := rec.Copy()
	rewritten.Props = sealedProps
	rewritten.Output = sealedOutput
	return store.Set(ctx, rec.FQN, rewritten)
}
