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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alchemy-run/alchemy/errs"
	"github.com/alchemy-run/alchemy/registry"
	"github.com/alchemy-run/alchemy/resource"
	"github.com/alchemy-run/alchemy/secret"
	"github.com/alchemy-run/alchemy/state"
)

var _ registry.LifecycleContext = (*lifecycleContext)(nil)

// Action is a Planner/Runner verdict for one resource instance (§4.5).
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSkip   Action = "skip"
)

// ResultState is the three-way registration outcome returned to the
// caller, decoupled from the persisted resource.Status field (SPEC_FULL
// supplement 6, grounded on retry_lifecycle_test.go's ResultState*
// constants).
type ResultState string

const (
	ResultStateSuccess ResultState = "success"
	ResultStateSkipped ResultState = "skipped"
	ResultStateFailed  ResultState = "failed"
)

// InvokeOptions carries per-invocation resource options (§4.4, SPEC_FULL
// supplement 4).
type InvokeOptions struct {
	// IgnoreChanges lists top-level prop keys whose drift alone must not
	// trigger an update.
	IgnoreChanges []string
}

// InvokeResult is what Runner.Invoke hands back to the caller: the future
// a dependent resource awaits (Output), the registration outcome, and the
// persisted (or synthetic, in plan mode) state record.
type InvokeResult struct {
	Output *resource.Output
	Result ResultState
	State  *resource.State
}

// ErrRetryable marks a provider failure during create as transient: the
// Runner makes up to Runner.RetryCap attempts in all before giving up
// (SPEC_FULL supplement 7). Providers wrap their own errors with it via
// fmt.Errorf("...: %w", deploy.ErrRetryable).
var ErrRetryable = errors.New("provider requested retry")

// PartialFailure is returned by a provider when it made partial progress
// before failing: the output it did manage to produce is still persisted,
// annotated with the error strings that describe what went wrong
// (SPEC_FULL supplement 1, the teacher's InitErrors/StatusPartialFailure
// pattern). Use NewPartialFailure to build one.
type PartialFailure struct {
	Output resource.PropertyMap
	Errors []string
}

func (p *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure: %v", p.Errors)
}

// NewPartialFailure builds a PartialFailure error from a completed output
// and one or more error messages describing what didn't finish.
func NewPartialFailure(output resource.PropertyMap, errs ...string) error {
	return &PartialFailure{Output: output, Errors: errs}
}

// Runner orchestrates one provider invocation end-to-end (§4.4): claiming
// the instance in its scope, resolving dependencies, selecting a phase,
// calling the provider, and persisting the result.
type Runner struct {
	Store    state.Store
	Registry *registry.Registry
	Key      []byte // symmetric key for secret seal/open; nil disables secret support
	Sink     Sink
	Lock     *resourceLock
	RetryCap int

	deleteMu sync.Mutex
	deletes  []pendingDelete

	planMu      sync.Mutex
	planEntries []PlanEntry
}

// pendingDelete is a deferred delete queued by a replacement (§4.4 step
// 6): the old physical object must be destroyed only after the new one's
// consumers have themselves completed, i.e. during finalization (§5 G5).
type pendingDelete struct {
	id     string // synthetic id (uuid), distinct from the live replacement's id
	scope  *Scope
	fqn    resource.FQN
	kind   resource.Kind
	output resource.PropertyMap
}

// NewRunner builds a Runner. reg defaults to registry.Default; sink
// defaults to NoopSink. RetryCap defaults to 10, matching the StateStore
// backoff cap (SPEC_FULL Open Question resolution).
func NewRunner(store state.Store, reg *registry.Registry, key []byte, sink Sink) *Runner {
	if reg == nil {
		reg = registry.Default
	}
	return &Runner{
		Store:    store,
		Registry: reg,
		Key:      key,
		Sink:     sinkOrNoop(sink),
		Lock:     newResourceLock(),
		RetryCap: 10,
	}
}

func (r *Runner) retryCap() int {
	if r.RetryCap <= 0 {
		return 1
	}
	return r.RetryCap
}

// Invoke is the entry point user code (via a resource constructor) and
// providers (for nested resources) call. ctx must carry a current scope
// (see Current/WithScope).
func (r *Runner) Invoke(ctx context.Context, kind resource.Kind, id resource.ID, props resource.PropertyMap, opts ...InvokeOptions) (*InvokeResult, error) {
	var opt InvokeOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	scope := Current(ctx)
	if scope == nil {
		panic("deploy: Invoke called with no current scope in context")
	}

	h, isNew, err := scope.claim(id, kind)
	if err != nil {
		scope.fail()
		return nil, err
	}
	if !isNew {
		// Lock-free claim protocol (§5): a second invocation for the
		// same (scope, id) awaits the first's resolution rather than
		// re-running the provider.
		if _, err := h.output.Await(ctx); err != nil {
			return nil, err
		}
		return &InvokeResult{Output: h.output, Result: ResultStateSuccess}, nil
	}

	fqn, ferr := resource.NewFQN(scope.fqn, string(id))
	if ferr != nil {
		err := fmt.Errorf("deploy: %w", ferr)
		scope.fail()
		h.output.Resolve(resource.PropertyValue{}, err)
		return nil, err
	}

	res, err := r.runInvocation(ctx, scope, fqn, kind, id, props, opt)
	if err != nil {
		r.Sink.Errorf("%s: %s", fqn, err)
		scope.fail()
		h.output.Resolve(resource.PropertyValue{}, err)
		return nil, err
	}

	outVal := resource.NewObjectProperty(resource.PropertyMap{})
	if res.State != nil && res.State.Output != nil {
		outVal = resource.NewObjectProperty(res.State.Output)
	}
	h.output.Resolve(outVal, nil)
	res.Output = h.output
	return res, nil
}

// runInvocation implements §4.4 steps 2-8 for a newly claimed instance.
func (r *Runner) runInvocation(ctx context.Context, scope *Scope, fqn resource.FQN, kind resource.Kind, id resource.ID, rawProps resource.PropertyMap, opt InvokeOptions) (*InvokeResult, error) {
	seq := scope.nextSeq()

	// Step 2: dependency resolution.
	resolvedProps, deps, err := resolveOutputs(ctx, rawProps)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving dependencies of %s: %s", errs.ErrProvider, fqn, err)
	}

	// Step 3: state load.
	prior, err := r.loadState(ctx, fqn)
	if err != nil {
		return nil, err
	}

	if scope.Mode() == ModeDestroy {
		return r.destroyBranch(ctx, scope, fqn, seq, kind, id, prior, resolvedProps, deps)
	}

	fn, regOpts, ok := r.Registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: no provider registered for kind %q (fqn %s)", errs.ErrBadProviderReference, kind, fqn)
	}

	// Step 4: phase selection.
	changed := prior == nil || diffProps(prior.Props, resolvedProps, opt.IgnoreChanges)
	action, err := selectAction(prior, kind, regOpts.AlwaysUpdate, changed)
	if err != nil {
		return nil, err
	}

	if scope.Mode() == ModePlan {
		return r.planBranch(fqn, kind, action, prior, deps), nil
	}

	if action == ActionSkip {
		// Open Question resolution: a skip never bumps updatedAt, seq,
		// or status -- the state record is untouched, only the in-memory
		// handle resolves.
		r.Sink.Debugf("%s: unchanged, skipping", fqn)
		return &InvokeResult{Result: ResultStateSkipped, State: prior}, nil
	}

	phase := resource.PhaseCreate
	if action == ActionUpdate {
		phase = resource.PhaseUpdate
	}
	r.Sink.Infof("%s: %s", fqn, phase)
	return r.applyBranch(ctx, scope, fn, fqn, seq, kind, id, phase, prior, resolvedProps, deps)
}

// loadState reads prior state and opens any sealed secrets it carries, so
// diffing/provider invocation always sees plaintext Secret values, never
// SecretEnvelopes. §4.9: "reading a state record that contains any secret
// without the passphrase is a hard error."
func (r *Runner) loadState(ctx context.Context, fqn resource.FQN) (*resource.State, error) {
	st, err := r.Store.Get(ctx, fqn)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	if st.Props.HasSecrets() || st.Output.HasSecrets() {
		if len(r.Key) == 0 {
			return nil, fmt.Errorf("%w: %s carries secrets but no passphrase was supplied", errs.ErrSecretKeyMissing, fqn)
		}
	}
	if len(r.Key) > 0 {
		props, err := secret.Open(st.Props, r.Key)
		if err != nil {
			return nil, err
		}
		output, err := secret.Open(st.Output, r.Key)
		if err != nil {
			return nil, err
		}
		st = st.Copy()
		st.Props, st.Output = props, output
	}
	return st, nil
}

// planBranch implements §4.5 step 2: no provider call, a deterministic
// synthetic output (the prior output if any, else an empty structural
// placeholder), and one PlanEntry recorded for the caller to read back
// after the program finishes running.
func (r *Runner) planBranch(fqn resource.FQN, kind resource.Kind, action Action, prior *resource.State, deps []resource.FQN) *InvokeResult {
	r.planMu.Lock()
	r.planEntries = append(r.planEntries, PlanEntry{FQN: fqn, Kind: kind, Action: action})
	r.planMu.Unlock()

	st := &resource.State{Kind: kind, FQN: fqn, Status: resource.StatusCreated, Output: resource.PropertyMap{}, Deps: deps}
	if prior != nil {
		st.Output = prior.Output
	}
	result := ResultStateSuccess
	if action == ActionSkip {
		result = ResultStateSkipped
	}
	return &InvokeResult{Result: result, State: st}
}

// applyBranch implements §4.4 steps 5, 6 and 8: invoke the provider
// (with the create-phase retry protocol, SPEC_FULL supplement 7), handle
// a mid-update Replace() request, persist the resulting state.
func (r *Runner) applyBranch(
	ctx context.Context,
	scope *Scope,
	fn registry.ProviderFunc,
	fqn resource.FQN,
	seq int64,
	kind resource.Kind,
	id resource.ID,
	phase resource.Phase,
	prior *resource.State,
	props resource.PropertyMap,
	deps []resource.FQN,
) (*InvokeResult, error) {
	r.Lock.lock()
	r.Lock.LockResource(fqn)
	r.Lock.unlock()
	defer func() {
		r.Lock.lock()
		r.Lock.UnlockResource(fqn)
		r.Lock.unlock()
	}()

	var prev, prevProps resource.PropertyMap
	if prior != nil {
		prev, prevProps = prior.Output, prior.Props
	}

	inner, err := scope.child(string(id))
	if err != nil {
		return nil, fmt.Errorf("deploy: creating inner scope for %s: %w", fqn, err)
	}
	innerCtx := WithScope(ctx, inner)

	maxAttempts := 1
	if phase == resource.PhaseCreate {
		maxAttempts = r.retryCap()
	}

	var output resource.PropertyMap
	var initErrors []string
	var replaced bool
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lctx := newLifecycleContext(scope, innerCtx, phase, fqn, id, kind, prev, prevProps)
		out, err := fn(lctx, props)
		lctx.invalidate()

		var pf *PartialFailure
		switch {
		case err == nil:
			output = out
			replaced = phase == resource.PhaseUpdate && lctx.wantsReplace()
			lastErr = nil
		case errors.As(err, &pf):
			output = pf.Output
			initErrors = pf.Errors
			lastErr = nil
		case phase == resource.PhaseCreate && errors.Is(err, ErrRetryable) && attempt < maxAttempts:
			r.Sink.Warnf("%s: attempt %d/%d failed, retrying: %s", fqn, attempt, maxAttempts, err)
			lastErr = err
			continue
		default:
			lastErr = err
		}
		break
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s: %s", errs.ErrProvider, fqn, lastErr)
	}

	status := resource.StatusCreated
	if phase == resource.PhaseUpdate {
		status = resource.StatusUpdated
	}

	now := timeNow()
	rec := &resource.State{
		Kind:       kind,
		ID:         string(id),
		FQN:        fqn,
		Status:     status,
		Phase:      phase,
		Seq:        seq,
		Props:      props,
		Output:     output,
		Deps:       deps,
		CreatedAt:  now,
		UpdatedAt:  now,
		Stage:      scope.Stage(),
		InitErrors: initErrors,
	}
	if prior != nil {
		rec.CreatedAt = prior.CreatedAt
	}

	// Step 6: replacement. The new output is live under fqn; the OLD
	// physical object is queued for deletion during finalization so
	// every consumer of the new output has itself completed first (§5
	// G5) rather than being deleted inline here. PendingReplacement
	// marks the live record so a run that never reaches finalization
	// (cancelled, crashed) leaves visible evidence that an old object is
	// still owed a delete. The Finalizer clears it once that delete has
	// run, and reaching this point again on any later create or update
	// rewrites it (SPEC_FULL supplement 5's
	// RemovePendingReplaceStep, folded into the normal apply path rather
	// than kept as a separate no-op step).
	rec.PendingReplacement = replaced
	if replaced && prior != nil {
		r.Sink.Infof("%s: replacing (old object queued for delete after apply)", fqn)
		r.queueReplacementDelete(scope, fqn, kind, prior.Output)
	}

	if err := r.persist(ctx, fqn, rec); err != nil {
		return nil, err
	}

	result := ResultStateSuccess
	if len(initErrors) > 0 {
		result = ResultStateFailed
		r.Sink.Errorf("%s: partial failure: %v", fqn, initErrors)
	} else {
		r.Sink.Infof("%s: %sd", fqn, phase)
	}
	return &InvokeResult{Result: result, State: rec}, nil
}

// queueReplacementDelete records the old output for a fresh synthetic id
// so the Finalizer can issue its delete invocation after this apply's
// user-initiated invocations have all resolved.
func (r *Runner) queueReplacementDelete(scope *Scope, fqn resource.FQN, kind resource.Kind, oldOutput resource.PropertyMap) {
	r.deleteMu.Lock()
	defer r.deleteMu.Unlock()
	r.deletes = append(r.deletes, pendingDelete{
		id:     uuid.NewString(),
		scope:  scope,
		fqn:    fqn,
		kind:   kind,
		output: oldOutput,
	})
}

// destroyBranch implements §4.4 step 7: invoke the provider with
// phase=delete and prev attached, regardless of whatever phase selection
// would otherwise have chosen.
func (r *Runner) destroyBranch(
	ctx context.Context,
	scope *Scope,
	fqn resource.FQN,
	seq int64,
	kind resource.Kind,
	id resource.ID,
	prior *resource.State,
	props resource.PropertyMap,
	deps []resource.FQN,
) (*InvokeResult, error) {
	if prior == nil {
		// Nothing to destroy; this is a synthetic/no-state instance
		// (e.g. a destroy invocation replayed against a resource the
		// store never recorded). Resolve to an empty tombstone.
		return &InvokeResult{Result: ResultStateSuccess, State: &resource.State{
			Kind: kind, ID: string(id), FQN: fqn, Status: resource.StatusDeleted, Phase: resource.PhaseDelete, Seq: seq,
		}}, nil
	}

	fn, _, ok := r.Registry.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: no provider registered for kind %q (fqn %s)", errs.ErrBadProviderReference, kind, fqn)
	}

	r.Lock.lock()
	r.Lock.LockResource(fqn)
	r.Lock.unlock()
	defer func() {
		r.Lock.lock()
		r.Lock.UnlockResource(fqn)
		r.Lock.unlock()
	}()

	inner, err := scope.child(string(id))
	if err != nil {
		return nil, fmt.Errorf("deploy: creating inner scope for %s: %w", fqn, err)
	}
	innerCtx := WithScope(ctx, inner)

	r.Sink.Infof("%s: deleting", fqn)
	lctx := newLifecycleContext(scope, innerCtx, resource.PhaseDelete, fqn, id, kind, prior.Output, prior.Props)
	_, err = fn(lctx, prior.Props)
	lctx.invalidate()
	if err != nil {
		r.Sink.Errorf("%s: %s", fqn, err)
		return nil, fmt.Errorf("%w: %s: %s", errs.ErrProvider, fqn, err)
	}

	now := timeNow()
	rec := prior.Copy()
	rec.Status = resource.StatusDeleted
	rec.Phase = resource.PhaseDelete
	rec.UpdatedAt = now

	// §4.4 step 7: the record is left in the store as a tombstone (status
	// StatusDeleted, no longer Live) rather than removed here, so a
	// dependent destroyed later in the same pass can still load this
	// resource's prev output. Parent finalization is what actually strips
	// tombstones from the store (Finalizer.purgeTombstones).
	if err := r.persist(ctx, fqn, rec); err != nil {
		return nil, err
	}
	r.Sink.Infof("%s: deleted", fqn)
	return &InvokeResult{Result: ResultStateSuccess, State: rec}, nil
}

// persist seals secrets (when a key is configured) and writes rec to the
// store (§4.4 step 8).
func (r *Runner) persist(ctx context.Context, fqn resource.FQN, rec *resource.State) error {
	toWrite := rec
	if len(r.Key) > 0 {
		sealedProps, err := secret.Seal(rec.Props, r.Key)
		if err != nil {
			return err
		}
		sealedOutput, err := secret.Seal(rec.Output, r.Key)
		if err != nil {
			return err
		}
		toWrite = rec.Copy()
		toWrite.Props, toWrite.Output = sealedProps, sealedOutput
	} else if rec.Props.HasSecrets() || rec.Output.HasSecrets() {
		return fmt.Errorf("%w: %s produced a secret value but no passphrase was configured", errs.ErrSecretKeyMissing, fqn)
	}
	return r.Store.Set(ctx, fqn, toWrite)
}

// PlanEntries drains and returns the plan entries accumulated since the
// last call, for Planner to read back after running the user program in
// plan mode.
func (r *Runner) PlanEntries() []PlanEntry {
	r.planMu.Lock()
	defer r.planMu.Unlock()
	out := r.planEntries
	r.planEntries = nil
	return out
}

// PendingDeletes drains and returns the replacement-triggered deferred
// deletes accumulated since the last call, for the Finalizer to execute.
func (r *Runner) PendingDeletes() []pendingDelete {
	r.deleteMu.Lock()
	defer r.deleteMu.Unlock()
	out := r.deletes
	r.deletes = nil
	return out
}

// selectAction implements §4.4 step 4 / §4.5's action mapping, shared by
// the Runner and the Planner so the two can never disagree.
func selectAction(prior *resource.State, kind resource.Kind, alwaysUpdate bool, propsChanged bool) (Action, error) {
	if prior == nil {
		return ActionCreate, nil
	}
	if prior.Kind != kind {
		return "", fmt.Errorf("%w: %s previously kind %q, now %q", errs.ErrKindConflict, prior.FQN, prior.Kind, kind)
	}
	if propsChanged || alwaysUpdate {
		return ActionUpdate, nil
	}
	return ActionSkip, nil
}

// diffProps reports whether next differs from prior once any top-level
// key in ignoreChanges is masked out of both sides (SPEC_FULL supplement
// 4). A key is compared by name only -- dotted/nested paths are not
// supported, since no example in the corpus needed a nested-path diff
// engine for this.
func diffProps(prior, next resource.PropertyMap, ignoreChanges []string) bool {
	if prior.Equal(next) {
		return false
	}
	if len(ignoreChanges) == 0 {
		return true
	}
	ignore := make(map[string]bool, len(ignoreChanges))
	for _, k := range ignoreChanges {
		ignore[k] = true
	}
	return !maskKeys(prior, ignore).Equal(maskKeys(next, ignore))
}

func maskKeys(m resource.PropertyMap, ignore map[string]bool) resource.PropertyMap {
	if m == nil {
		return nil
	}
	out := make(resource.PropertyMap, len(m))
	for k, v := range m {
		if ignore[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// resolveOutputs walks props, awaiting every *resource.Output it finds and
// substituting its resolved value in place, recording each producer's FQN
// as a dependency (§4.4 step 2, §9 "dependency discovery via futures").
func resolveOutputs(ctx context.Context, props resource.PropertyMap) (resource.PropertyMap, []resource.FQN, error) {
	deps := make(map[resource.FQN]struct{})
	resolved, err := resolveMap(ctx, props, deps)
	if err != nil {
		return nil, nil, err
	}
	out := make([]resource.FQN, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return resolved, out, nil
}

func resolveMap(ctx context.Context, m resource.PropertyMap, deps map[resource.FQN]struct{}) (resource.PropertyMap, error) {
	if m == nil {
		return nil, nil
	}
	out := make(resource.PropertyMap, len(m))
	for k, v := range m {
		rv, err := resolveValue(ctx, v, deps)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func resolveValue(ctx context.Context, v resource.PropertyValue, deps map[resource.FQN]struct{}) (resource.PropertyValue, error) {
	switch {
	case v.IsOutput():
		o := v.OutputValue()
		val, err := o.Await(ctx)
		if err != nil {
			return resource.PropertyValue{}, fmt.Errorf("awaiting %s: %w", o.Producer, err)
		}
		deps[o.Producer] = struct{}{}
		return val, nil
	case v.IsArray():
		src := v.ArrayValue()
		out := make([]resource.PropertyValue, len(src))
		for i, el := range src {
			rv, err := resolveValue(ctx, el, deps)
			if err != nil {
				return resource.PropertyValue{}, err
			}
			out[i] = rv
		}
		return resource.NewArrayProperty(out), nil
	case v.IsObject():
		om, err := resolveMap(ctx, v.ObjectValue(), deps)
		if err != nil {
			return resource.PropertyValue{}, err
		}
		return resource.NewObjectProperty(om), nil
	default:
		return v, nil
	}
}

// timeNow is its own function (rather than a direct time.Now() call at
// every use site) purely so tests can see exactly where "now" is read.
func timeNow() time.Time { return time.Now().UTC() }
