// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"mellium.im/agent/transport"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ErrNotFound is returned when looking up an address that is not in the
// roster.
var ErrNotFound = errors.New("roster: item not found")

// List is a local copy of the roster stored on the server.
// Changes are sent to the server before being applied locally.
type List struct {
	s transport.Sender

	mu    sync.Mutex
	ver   string
	items map[string]Item
}

// NewList returns a list containing items that sends its requests using s.
func NewList(s transport.Sender, items ...Item) *List {
	l := &List{
		s:     s,
		items: make(map[string]Item, len(items)),
	}
	for _, item := range items {
		l.apply(item)
	}
	return l
}

// Fetch requests the roster and returns a list containing its items
// (blocking until a response is received).
func Fetch(ctx context.Context, s transport.Sender) (*List, error) {
	iq := IQ{IQ: stanza.IQ{ID: transport.NewID(), Type: stanza.GetIQ}}
	q := query{}
	err := s.UnmarshalIQ(ctx, iq.TokenReader(), &q)
	if err != nil {
		return nil, fmt.Errorf("roster: fetching roster: %w", err)
	}
	l := NewList(s, q.Item...)
	l.ver = q.Ver
	return l, nil
}

// Ver returns the roster version reported by the server, if any.
func (l *List) Ver() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ver
}

func (l *List) apply(item Item) {
	item.JID = item.JID.Bare()
	if item.Subscription == SubRemove {
		delete(l.items, item.JID.String())
		return
	}
	if item.Subscription == "" {
		item.Subscription = SubNone
	}
	l.items[item.JID.String()] = item
}

// Apply updates the local copy with items pushed by the server.
func (l *List) Apply(ver string, items ...Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range items {
		l.apply(item)
	}
	if ver != "" {
		l.ver = ver
	}
}

// Items returns the roster items sorted by address.
func (l *List) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]Item, 0, len(l.items))
	for _, item := range l.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].JID.String() < items[j].JID.String()
	})
	return items
}

// Item returns the item for the bare address of j.
func (l *List) Item(j jid.JID) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.items[j.Bare().String()]
	return item, ok
}

// Subscription returns the subscription state of j.
// If j is not in the roster ErrNotFound is returned.
func (l *List) Subscription(j jid.JID) (string, error) {
	item, ok := l.Item(j)
	if !ok {
		return "", ErrNotFound
	}
	return item.Subscription, nil
}

// Set creates or updates the roster item for j.
// The subscription state of an existing item is kept.
func (l *List) Set(ctx context.Context, j jid.JID, groups ...string) error {
	item := Item{JID: j.Bare(), Group: groups}
	iq := IQ{IQ: stanza.IQ{ID: transport.NewID(), Type: stanza.SetIQ}}
	iq.Query.Item = []Item{item}
	if err := l.s.UnmarshalIQ(ctx, iq.TokenReader(), nil); err != nil {
		return fmt.Errorf("roster: setting item %s: %w", item.JID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.items[item.JID.String()]; ok {
		item.Name = old.Name
		item.Subscription = old.Subscription
	}
	l.apply(item)
	return nil
}

// Delete removes the roster item for j.
func (l *List) Delete(ctx context.Context, j jid.JID) error {
	item := Item{JID: j.Bare(), Subscription: SubRemove}
	iq := IQ{IQ: stanza.IQ{ID: transport.NewID(), Type: stanza.SetIQ}}
	iq.Query.Item = []Item{item}
	if err := l.s.UnmarshalIQ(ctx, iq.TokenReader(), nil); err != nil {
		return fmt.Errorf("roster: deleting item %s: %w", item.JID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.apply(item)
	return nil
}

func (l *List) presence(ctx context.Context, j jid.JID, typ stanza.PresenceType) error {
	p := stanza.Presence{
		ID:   transport.NewID(),
		To:   j.Bare(),
		Type: typ,
	}
	if err := l.s.Send(ctx, p.Wrap(nil)); err != nil {
		return fmt.Errorf("roster: sending %s presence to %s: %w", typ, p.To, err)
	}
	return nil
}

// Authorize allows j to see our presence.
func (l *List) Authorize(ctx context.Context, j jid.JID) error {
	return l.presence(ctx, j, stanza.SubscribedPresence)
}

// Unauthorize revokes the right of j to see our presence.
func (l *List) Unauthorize(ctx context.Context, j jid.JID) error {
	return l.presence(ctx, j, stanza.UnsubscribedPresence)
}

// Subscribe asks j for the right to see its presence.
func (l *List) Subscribe(ctx context.Context, j jid.JID) error {
	return l.presence(ctx, j, stanza.SubscribePresence)
}

// Unsubscribe stops receiving the presence of j.
func (l *List) Unsubscribe(ctx context.Context, j jid.JID) error {
	return l.presence(ctx, j, stanza.UnsubscribePresence)
}
