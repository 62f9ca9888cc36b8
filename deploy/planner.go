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
	"fmt"
	"sort"

	"github.com/alchemy-run/alchemy/resource"
)

// PlanEntry is one line of a plan: the intended action for a single
// resource instance (§4.5 step 3).
type PlanEntry struct {
	FQN    resource.FQN
	Kind   resource.Kind
	Action Action
}

// ReviewFunc is the interactive (or scripted) callback a caller supplies
// to approve or reject a computed plan before Apply runs any provider
// (§4.5 step 4, §6.4 plan/apply split).
type ReviewFunc func(entries []PlanEntry) bool

// Planner computes a plan without invoking any provider side effects
// (§4.5). It reuses the Runner's phase-selection logic (run in ModePlan,
// which short-circuits every applyBranch call to a synthetic result) so
// the plan can never diverge from what Apply would actually do.
type Planner struct {
	runner *Runner
}

// NewPlanner builds a Planner against r. r is also the Runner used for
// the subsequent Apply, so Plan and Apply agree on phase selection by
// construction.
func NewPlanner(r *Runner) *Planner {
	return &Planner{runner: r}
}

// Plan runs program against root (which must have been created with
// ModePlan) and returns one PlanEntry per resource instance the program
// touches, plus a `delete` entry for every previously-live resource under
// root's FQN that the program did NOT touch this time (§4.5 steps 1-3).
func (p *Planner) Plan(ctx context.Context, root *Scope, program func(ctx context.Context) error) ([]PlanEntry, error) {
	if root.Mode() != ModePlan {
		return nil, fmt.Errorf("deploy: Plan requires a root scope created with ModePlan")
	}
	// Drain any entries a previous, unrelated Plan call left behind.
	p.runner.PlanEntries()

	progCtx := WithScope(ctx, root)
	if err := program(progCtx); err != nil {
		return nil, err
	}
	entries := p.runner.PlanEntries()

	prior, err := p.runner.Store.All(ctx, root.FQN())
	if err != nil {
		return nil, err
	}
	touched := root.AllTouched()
	for _, rec := range prior {
		if _, ok := touched[rec.FQN]; ok {
			continue
		}
		if !rec.Status.Live() {
			continue
		}
		entries = append(entries, PlanEntry{FQN: rec.FQN, Kind: rec.Kind, Action: ActionDelete})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].FQN < entries[j].FQN })
	return entries, nil
}

// Review runs entries past approve; nil approve always accepts. A
// rejecting Review means the caller must abort before ever calling Apply
// -- the Planner itself never invokes a provider, so there is nothing to
// roll back.
func Review(entries []PlanEntry, approve ReviewFunc) bool {
	if approve == nil {
		return true
	}
	return approve(entries)
}
