// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package agent

import (
	"context"
)

// ActionFunc is the work done by an Action.
type ActionFunc func(ctx context.Context, args ...string) error

// Action is work deferred until the session is ready.
//
// Actions are run in the order they were registered each time the agent
// authenticates.
// A Oneshot action is forgotten after it has run once.
type Action struct {
	Name    string
	Args    []string
	Oneshot bool
	Func    ActionFunc
}

// RegisterAuthAction registers an action to run once the session is ready.
//
// If the session is already ready the action is run immediately, and is only
// kept for later sessions if it is not Oneshot.
// Otherwise it is queued and run after the next authentication.
func (a *Agent) RegisterAuthAction(ctx context.Context, act Action) {
	if a.State() == Ready {
		a.run(ctx, act)
		if act.Oneshot {
			return
		}
	}
	a.actionsMu.Lock()
	defer a.actionsMu.Unlock()
	a.actions = append(a.actions, act)
}

// PendingActions returns a copy of the queued actions.
func (a *Agent) PendingActions() []Action {
	a.actionsMu.Lock()
	defer a.actionsMu.Unlock()
	return append([]Action(nil), a.actions...)
}

func (a *Agent) run(ctx context.Context, act Action) {
	a.logger.Debug("running action", "name", act.Name, "args", act.Args)
	if act.Func == nil {
		return
	}
	if err := act.Func(ctx, act.Args...); err != nil {
		a.logger.Error("error running action", "name", act.Name, "err", err)
	}
}

// drain runs the queued actions and drops the Oneshot ones that ran.
// It stops early if the session stops being ready; the actions that did not
// run stay queued.
func (a *Agent) drain(ctx context.Context) {
	a.actionsMu.Lock()
	pending := append([]Action(nil), a.actions...)
	a.actionsMu.Unlock()

	ran := 0
	for _, act := range pending {
		if a.State() != Ready {
			break
		}
		a.run(ctx, act)
		ran++
	}

	kept := make([]Action, 0, len(pending))
	for _, act := range pending[:ran] {
		if !act.Oneshot {
			kept = append(kept, act)
		}
	}
	kept = append(kept, pending[ran:]...)

	a.actionsMu.Lock()
	defer a.actionsMu.Unlock()
	// Actions registered while draining are appended after the snapshot.
	if len(a.actions) > len(pending) {
		kept = append(kept, a.actions[len(pending):]...)
	}
	a.actions = kept
}
