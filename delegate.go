// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package agent

import (
	"context"

	"mellium.im/agent/presence"
	"mellium.im/xmpp/jid"
)

// The following methods are shortcuts for the components of the agent.
// They assume the session is ready.

// AddContact adds j to the roster and subscribes to its presence.
func (a *Agent) AddContact(ctx context.Context, j jid.JID, groups ...string) error {
	return a.roster.AddContact(ctx, j, groups...)
}

// RemoveContact removes j from the roster.
func (a *Agent) RemoveContact(ctx context.Context, j jid.JID) error {
	return a.roster.RemoveContact(ctx, j)
}

// IsSubscribed reports whether j is in the roster.
func (a *Agent) IsSubscribed(j jid.JID) bool {
	return a.roster.IsSubscribed(j)
}

// SetPresence changes the availability and status of the agent.
func (a *Agent) SetPresence(ctx context.Context, show presence.Show, status string) error {
	return a.presence.SetPresence(ctx, show, status)
}

// SetStatus changes the status of the agent.
func (a *Agent) SetStatus(ctx context.Context, status string) error {
	return a.presence.SetStatus(ctx, status)
}

// SetIdentity publishes the vCard of the agent.
func (a *Agent) SetIdentity(ctx context.Context, entityType, avatarFile string) error {
	return a.presence.SetIdentity(ctx, entityType, avatarFile)
}

// PushChange notifies the contacts that are not in the excluded groups of a
// change.
func (a *Agent) PushChange(ctx context.Context, namespace, change string, excluded ...string) error {
	return a.push.PushChange(ctx, namespace, change, excluded...)
}

// Shout sends a message to the contacts that are not in the excluded groups.
func (a *Agent) Shout(ctx context.Context, subject, body string, excluded ...string) error {
	return a.push.Shout(ctx, subject, body, excluded...)
}
