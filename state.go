// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package agent

// State is the state of the session of an agent.
type State uint32

// A list of session states.
const (
	Disconnected State = iota
	Connecting
	Authenticating
	Registering
	Ready
	Restarting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Registering:
		return "registering"
	case Ready:
		return "ready"
	case Restarting:
		return "restarting"
	}
	return "unknown"
}

// State returns the current state of the session.
func (a *Agent) State() State {
	return State(a.state.Load())
}

func (a *Agent) setState(s State) {
	old := State(a.state.Swap(uint32(s)))
	if old != s {
		a.logger.Debug("state change", "from", old, "to", s)
	}
}

// transition changes the state from old to s and reports whether it did.
// It fails if the state was changed by somebody else since it was read.
func (a *Agent) transition(old, s State) bool {
	if !a.state.CompareAndSwap(uint32(old), uint32(s)) {
		return false
	}
	a.logger.Debug("state change", "from", old, "to", s)
	return true
}
