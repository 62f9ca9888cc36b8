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

package resource

import "time"

// Status is the lifecycle status of a persisted resource instance (§3 I1).
type Status string

const (
	StatusCreating Status = "creating"
	StatusCreated  Status = "created"
	StatusUpdating Status = "updating"
	StatusUpdated  Status = "updated"
	StatusDeleting Status = "deleting"
	StatusDeleted  Status = "deleted"
	StatusFailed   Status = "failed"
)

// Live reports whether s is a live status per invariant I1 (created or
// updated; everything else is a tombstone, in-flight, or needs attention).
func (s Status) Live() bool {
	return s == StatusCreated || s == StatusUpdated
}

// Phase is the lifecycle stage the engine has selected for an invocation.
type Phase string

const (
	PhaseCreate Phase = "create"
	PhaseUpdate Phase = "update"
	PhaseDelete Phase = "delete"
	PhaseRead   Phase = "read"
)

// State is the durable, per-resource-instance record (§3).
type State struct {
	Kind   Kind   `json:"kind"`
	ID     string `json:"id"`
	FQN    FQN    `json:"fqn"`
	Status Status `json:"status"`
	Phase  Phase  `json:"phase"`
	Seq    int64  `json:"seq"`

	Props  PropertyMap `json:"props"`
	Output PropertyMap `json:"output"`
	Deps   []FQN       `json:"deps"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Stage     string    `json:"stage"`

	// InitErrors records a partial-failure reported by the provider
	// alongside an otherwise-persisted output (SPEC_FULL supplement 1).
	InitErrors []string `json:"initErrors,omitempty"`

	// PendingReplacement marks a resource whose old physical object is
	// still awaiting a deferred delete from a replacement that was
	// interrupted before finalization ran (SPEC_FULL supplement 5).
	PendingReplacement bool `json:"pendingReplacement,omitempty"`
}

// Copy deep-copies s, including its Props/Output maps and Deps slice.
func (s *State) Copy() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Props = s.Props.Copy()
	out.Output = s.Output.Copy()
	if s.Deps != nil {
		out.Deps = make([]FQN, len(s.Deps))
		copy(out.Deps, s.Deps)
	}
	if s.InitErrors != nil {
		out.InitErrors = make([]string, len(s.InitErrors))
		copy(out.InitErrors, s.InitErrors)
	}
	return &out
}

// HasDep reports whether s declares a dependency on fqn.
func (s *State) HasDep(fqn FQN) bool {
	for _, d := range s.Deps {
		if d == fqn {
			return true
		}
	}
	return false
}
