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
	"sync"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/resource"
)

// FinalizeResult reports what the Finalizer actually did.
type FinalizeResult struct {
	Deleted []resource.FQN
	Skipped bool
	Reason  string
}

// Finalizer implements §4.6: orphan detection and cleanup on root scope
// release, and the reverse-dependency-ordered teardown a full Destroy
// needs.
type Finalizer struct {
	runner *Runner
}

// NewFinalizer builds a Finalizer that shares r's store, registry and
// resource lock.
func NewFinalizer(r *Runner) *Finalizer {
	return &Finalizer{runner: r}
}

// Finalize runs when root releases, normally at the end of Apply/Destroy
// (§4.6). cancelled reports whether the root's cancellation signal fired;
// when true, finalization is skipped entirely and ErrCancellationSkipped
// is returned to the caller (§5). A scope anywhere in the tree having
// failed also skips finalization -- including the replacement-triggered
// deferred deletes -- since an apply that didn't finish cleanly is
// exactly the case §4.6 means to protect against ("to avoid deleting
// resources that merely failed to refresh").
func (f *Finalizer) Finalize(ctx context.Context, root *Scope, cancelled bool) (*FinalizeResult, error) {
	defer root.MarkFinalized()

	if cancelled {
		f.runner.Sink.Warnf("%s: finalization skipped, run was cancelled", root.FQN())
		return &FinalizeResult{Skipped: true, Reason: "cancelled"}, errs.ErrCancellationSkipped
	}
	if root.Failed() {
		f.runner.Sink.Warnf("%s: finalization skipped, scope tree failed", root.FQN())
		return &FinalizeResult{Skipped: true, Reason: "scope failed"}, nil
	}

	if root.Mode() == ModeDestroy {
		return f.finalizeDestroy(ctx, root)
	}
	return f.finalizeApply(ctx, root)
}

// finalizeApply implements the orphan-cleanup half of §4.6: resources
// recorded in prior state but not touched by this run are deleted in
// reverse dependency order, after first running any replacement deferred
// deletes this apply queued (§4.4 step 6, §5 G5).
func (f *Finalizer) finalizeApply(ctx context.Context, root *Scope) (*FinalizeResult, error) {
	res := &FinalizeResult{}

	for _, pd := range f.runner.PendingDeletes() {
		f.runner.Sink.Infof("%s: deleting replaced object", pd.fqn)
		if err := f.deleteOld(ctx, pd); err != nil {
			return res, err
		}
		res.Deleted = append(res.Deleted, pd.fqn)

		// The old object is gone, so the live record no longer owes a delete.
		st, err := f.runner.loadState(ctx, pd.fqn)
		if err != nil {
			return res, err
		}
		if st != nil && st.PendingReplacement {
			st.PendingReplacement = false
			if err := f.runner.persist(ctx, pd.fqn, st); err != nil {
				return res, err
			}
		}
	}

	all, err := f.runner.Store.All(ctx, root.FQN())
	if err != nil {
		return res, err
	}
	touched := root.AllTouched()

	var orphans []*resource.State
	for _, rec := range all {
		if _, ok := touched[rec.FQN]; ok {
			continue
		}
		if !rec.Status.Live() {
			continue
		}
		orphans = append(orphans, rec)
	}

	ordered, err := reverseDependencyOrder(orphans)
	if err != nil {
		return res, err
	}
	deleted, err := f.deleteLevels(ctx, root, ordered)
	res.Deleted = append(res.Deleted, deleted...)
	if err != nil {
		return res, err
	}
	return res, f.purgeTombstones(ctx, root)
}

// finalizeDestroy implements §4.6's destroy-phase root behaviour: every
// live state record under root, not just orphans, is deleted in reverse
// dependency order and then the records themselves are removed
// (deleteRecord already does both).
func (f *Finalizer) finalizeDestroy(ctx context.Context, root *Scope) (*FinalizeResult, error) {
	res := &FinalizeResult{}

	all, err := f.runner.Store.All(ctx, root.FQN())
	if err != nil {
		return res, err
	}
	var live []*resource.State
	for _, rec := range all {
		if rec.Status.Live() {
			live = append(live, rec)
		}
	}

	ordered, err := reverseDependencyOrder(live)
	if err != nil {
		return res, err
	}
	deleted, err := f.deleteLevels(ctx, root, ordered)
	res.Deleted = deleted
	if err != nil {
		return res, err
	}
	return res, f.purgeTombstones(ctx, root)
}

// purgeTombstones strips every StatusDeleted record left under root from
// the store. A record reaches this state when a user program invokes a
// resource directly under a ModeDestroy scope (Runner.destroyBranch):
// the provider's delete phase has already run and the record was left as
// a tombstone rather than removed immediately, so a dependent destroyed
// later in the same pass could still load its prev output (§4.4 step 7).
// By the time finalization runs, every invocation in the pass has
// resolved, so nothing can still need that tombstone and it is safe to
// drop.
func (f *Finalizer) purgeTombstones(ctx context.Context, root *Scope) error {
	all, err := f.runner.Store.All(ctx, root.FQN())
	if err != nil {
		return err
	}
	for _, rec := range all {
		if rec.Status != resource.StatusDeleted {
			continue
		}
		if err := f.runner.Store.Delete(ctx, rec.FQN); err != nil {
			return err
		}
	}
	return nil
}

// deleteOld issues the deferred delete for a replaced resource's OLD
// physical object (§4.4 step 6). The live state record under pd.fqn
// already belongs to the replacement's new output, so this never touches
// the store -- it only invokes the provider against the stashed prev.
func (f *Finalizer) deleteOld(ctx context.Context, pd pendingDelete) error {
	fn, _, ok := f.runner.Registry.Lookup(pd.kind)
	if !ok {
		return fmt.Errorf("%w: no provider registered for kind %q (replacement delete %s)", errs.ErrBadProviderReference, pd.kind, pd.fqn)
	}
	inner, err := pd.scope.child("replaced-" + pd.id)
	if err != nil {
		return err
	}
	innerCtx := WithScope(ctx, inner)
	lctx := newLifecycleContext(pd.scope, innerCtx, resource.PhaseDelete, pd.fqn, resource.ID(pd.id), pd.kind, pd.output, nil)
	_, err = fn(lctx, pd.output)
	lctx.invalidate()
	if err != nil {
		return fmt.Errorf("%w: deleting replaced object for %s: %s", errs.ErrProvider, pd.fqn, err)
	}
	return nil
}

// deleteLevels runs reverseDependencyOrder's levels in sequence, with
// every record inside one level deleted in parallel (§5 G4).
func (f *Finalizer) deleteLevels(ctx context.Context, root *Scope, levels [][]*resource.State) ([]resource.FQN, error) {
	var mu sync.Mutex
	var deleted []resource.FQN

	for _, level := range levels {
		levelCtx, cancel := context.WithCancel(ctx)
		pool := newWorkerPool(0, cancel)
		for _, rec := range level {
			rec := rec
			pool.AddWorker(func() error {
				if err := f.deleteRecord(levelCtx, root, rec); err != nil {
					return err
				}
				mu.Lock()
				deleted = append(deleted, rec.FQN)
				mu.Unlock()
				return nil
			})
		}
		err := pool.Wait(true)
		cancel()
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// deleteRecord invokes the provider's delete phase for rec, then removes
// its state record.
func (f *Finalizer) deleteRecord(ctx context.Context, root *Scope, rec *resource.State) error {
	f.runner.Sink.Infof("%s: deleting", rec.FQN)
	fn, _, ok := f.runner.Registry.Lookup(rec.Kind)
	if !ok {
		return fmt.Errorf("%w: no provider registered for kind %q (orphan %s)", errs.ErrBadProviderReference, rec.Kind, rec.FQN)
	}
	inner, err := root.child("finalize-" + rec.ID)
	if err != nil {
		return err
	}
	innerCtx := WithScope(ctx, inner)
	lctx := newLifecycleContext(root, innerCtx, resource.PhaseDelete, rec.FQN, resource.ID(rec.ID), rec.Kind, rec.Output, rec.Props)
	_, err = fn(lctx, rec.Props)
	lctx.invalidate()
	if err != nil {
		return fmt.Errorf("%w: deleting %s: %s", errs.ErrProvider, rec.FQN, err)
	}
	return f.runner.Store.Delete(ctx, rec.FQN)
}

// reverseDependencyOrder groups orphaned/live resources into deletion
// levels: a resource appears in a level only once everything that
// depends on it (among the set being ordered) has already been placed in
// an earlier level (§4.6: "a resource is deleted only after all
// resources that depend on it have been deleted"). Resources within a
// level have no ordering constraint between them and may be deleted in
// parallel (§5 G4); ties are broken by descending seq, per §4.6.
func reverseDependencyOrder(resources []*resource.State) ([][]*resource.State, error) {
	byFQN := make(map[resource.FQN]*resource.State, len(resources))
	for _, r := range resources {
		byFQN[r.FQN] = r
	}
	// dependents[X] counts how many resources in the set still depend on
	// X; X can only be deleted once this drops to zero.
	dependents := make(map[resource.FQN]int, len(resources))
	for _, r := range resources {
		if _, ok := dependents[r.FQN]; !ok {
			dependents[r.FQN] = 0
		}
		for _, d := range r.Deps {
			if _, ok := byFQN[d]; ok {
				dependents[d]++
			}
		}
	}

	processed := make(map[resource.FQN]bool, len(resources))
	var levels [][]*resource.State
	remaining := len(resources)

	for remaining > 0 {
		var level []*resource.State
		for _, r := range resources {
			if processed[r.FQN] || dependents[r.FQN] > 0 {
				continue
			}
			level = append(level, r)
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("%w: among resources scheduled for deletion", errs.ErrDependencyCycle)
		}
		sort.Slice(level, func(i, j int) bool {
			if level[i].Seq != level[j].Seq {
				return level[i].Seq > level[j].Seq
			}
			return level[i].FQN < level[j].FQN
		})
		for _, r := range level {
			processed[r.FQN] = true
			remaining--
			for _, d := range r.Deps {
				if _, ok := byFQN[d]; ok {
					dependents[d]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}
