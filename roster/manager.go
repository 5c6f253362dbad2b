// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package roster

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"mellium.im/agent/transport"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// ErrNoRoster is returned by Manager operations that need the server roster
// before it has been fetched.
var ErrNoRoster = errors.New("roster: roster not fetched")

// Push namespace and change sent to the other contacts when a contact is
// added.
const (
	PushNS    = "subscription"
	PushAdded = "added"
)

// Notifier broadcasts a change to the contacts of the agent.
type Notifier interface {
	PushChange(ctx context.Context, namespace, change string, excluded ...string) error
}

// Resource is the last presence received from one resource of a contact.
type Resource struct {
	Show   string
	Status string
}

// Entry is a contact with the resources it currently has online.
type Entry struct {
	JID          jid.JID
	Groups       []string
	Subscription string
	Resources    map[string]Resource
}

// InGroup reports whether the entry belongs to any of the groups.
func (e Entry) InGroup(groups ...string) bool {
	return InGroup(Item{Group: e.Groups}, groups...)
}

func (e Entry) copy() Entry {
	c := e
	c.Groups = append([]string(nil), e.Groups...)
	c.Resources = make(map[string]Resource, len(e.Resources))
	for k, v := range e.Resources {
		c.Resources[k] = v
	}
	return c
}

// Manager keeps the contacts of an agent.
type Manager struct {
	self   jid.JID
	logger *slog.Logger

	mu       sync.Mutex
	notifier Notifier
	list     *List
	entries  map[string]*Entry
}

// NewManager returns a manager for the contacts of self.
// A nil logger discards all output.
func NewManager(self jid.JID, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		self:    self.Bare(),
		logger:  logger,
		entries: make(map[string]*Entry),
	}
}

// SetNotifier sets the notifier used when contacts are added.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Resync replaces the contacts with the content of l.
// Known resources are dropped; they are learned again from the presence
// received after the new session starts.
func (m *Manager) Resync(l *List) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = l
	m.entries = make(map[string]*Entry)
	for _, item := range l.Items() {
		m.upsert(item.JID, item.Group, item.Subscription)
	}
	m.logger.Debug("roster synchronized", "items", len(m.entries))
}

// List returns the server roster last passed to Resync.
func (m *Manager) List() *List {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list
}

// Must be called with m.mu held.
func (m *Manager) upsert(j jid.JID, groups []string, sub string) *Entry {
	key := j.Bare().String()
	e, ok := m.entries[key]
	if !ok {
		e = &Entry{
			JID:       j.Bare(),
			Resources: make(map[string]Resource),
		}
		m.entries[key] = e
	}
	e.Groups = append([]string(nil), groups...)
	if sub != "" {
		e.Subscription = sub
	} else if e.Subscription == "" {
		e.Subscription = SubNone
	}
	return e
}

// Entries returns a copy of the contacts sorted by address.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e.copy())
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].JID.String() < entries[j].JID.String()
	})
	return entries
}

// Entry returns the contact with the bare address of j.
func (m *Manager) Entry(j jid.JID) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[j.Bare().String()]
	if !ok {
		return Entry{}, false
	}
	return e.copy(), true
}

func (m *Manager) state() (*List, Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list, m.notifier
}

// AddContact adds j to the roster, authorizes it to see our presence and
// subscribes to its presence.
// The other contacts are then notified of the new subscription.
// Adding a contact that already exists updates its groups.
func (m *Manager) AddContact(ctx context.Context, j jid.JID, groups ...string) error {
	list, notifier := m.state()
	if list == nil {
		return ErrNoRoster
	}
	j = j.Bare()
	m.logger.Info("adding contact", "jid", j, "groups", groups)

	if err := list.Set(ctx, j, groups...); err != nil {
		return err
	}
	m.mu.Lock()
	m.upsert(j, groups, "")
	m.mu.Unlock()
	if err := list.Authorize(ctx, j); err != nil {
		return err
	}
	if err := list.Subscribe(ctx, j); err != nil {
		return err
	}

	if notifier != nil {
		if err := notifier.PushChange(ctx, PushNS, PushAdded); err != nil {
			m.logger.Warn("error pushing subscription change", "jid", j, "err", err)
		}
	}
	return nil
}

// RemoveContact unsubscribes from j, revokes its authorization and deletes it
// from the roster.
// Unlike AddContact no notification is sent to the other contacts.
func (m *Manager) RemoveContact(ctx context.Context, j jid.JID) error {
	list, _ := m.state()
	if list == nil {
		return ErrNoRoster
	}
	j = j.Bare()
	m.logger.Info("removing contact", "jid", j)

	m.mu.Lock()
	delete(m.entries, j.String())
	m.mu.Unlock()

	if err := list.Unsubscribe(ctx, j); err != nil {
		return err
	}
	if err := list.Unauthorize(ctx, j); err != nil {
		return err
	}
	return list.Delete(ctx, j)
}

// IsSubscribed reports whether j has a subscription entry in the roster.
// Unknown addresses are not subscribed.
func (m *Manager) IsSubscribed(j jid.JID) bool {
	list, _ := m.state()
	if list == nil {
		return false
	}
	if _, err := list.Subscription(j); err != nil {
		m.logger.Debug("stanza sent from unauthorized jid", "jid", j.Bare())
		return false
	}
	m.logger.Debug("stanza sent from authorized jid", "jid", j.Bare())
	return true
}

// HandleSubscribe adds the sender of a subscription request to the roster.
func (m *Manager) HandleSubscribe(ctx context.Context, s transport.Stanza) transport.Result {
	m.logger.Info("subscription request received", "from", s.From, "type", s.Type)
	if err := m.AddContact(ctx, s.From); err != nil {
		m.logger.Error("error adding contact", "jid", s.From.Bare(), "err", err)
	}
	return transport.Handled
}

// HandleUnsubscribe removes the sender of an unsubscription request from the
// roster.
func (m *Manager) HandleUnsubscribe(ctx context.Context, s transport.Stanza) transport.Result {
	m.logger.Info("unsubscription request received", "from", s.From, "type", s.Type)
	if err := m.RemoveContact(ctx, s.From); err != nil {
		m.logger.Error("error removing contact", "jid", s.From.Bare(), "err", err)
	}
	return transport.Handled
}

// HandleAvailability records the resources of contacts as they come online
// and go offline.
// The stanza is always passed on.
func (m *Manager) HandleAvailability(_ context.Context, s transport.Stanza) transport.Result {
	res := s.From.Resourcepart()
	if res == "" {
		return transport.PassThrough
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[s.From.Bare().String()]
	if !ok {
		return transport.PassThrough
	}
	switch stanza.PresenceType(s.Type) {
	case stanza.AvailablePresence:
		e.Resources[res] = Resource{Show: s.Show, Status: s.Status}
	case stanza.UnavailablePresence:
		delete(e.Resources, res)
	}
	return transport.PassThrough
}

// HandlePush applies roster pushes sent by the server and acknowledges them.
func (m *Manager) HandlePush(ctx context.Context, s transport.Stanza) transport.Result {
	name := xml.Name{Space: NS, Local: "query"}
	if s.Payload() != name {
		return transport.PassThrough
	}
	list, _ := m.state()
	if list == nil {
		return transport.PassThrough
	}
	// Pushes from anybody but our own server are spoofed.
	if !s.From.Equal(jid.JID{}) && !s.From.Equal(m.self) && !s.From.Equal(m.self.Domain()) {
		m.logger.Warn("ignoring roster push from foreign entity", "from", s.From)
		return transport.Handled
	}

	q := query{}
	if err := s.Decode(name, &q); err != nil {
		m.logger.Warn("error decoding roster push", "err", err)
		return transport.Handled
	}
	list.Apply(q.Ver, q.Item...)

	m.mu.Lock()
	for _, item := range q.Item {
		if item.Subscription == SubRemove {
			delete(m.entries, item.JID.Bare().String())
			continue
		}
		m.upsert(item.JID, item.Group, item.Subscription)
	}
	m.mu.Unlock()

	reply := stanza.IQ{ID: s.ID, To: s.From, Type: stanza.ResultIQ}
	if err := list.s.Send(ctx, reply.Wrap(nil)); err != nil {
		m.logger.Warn("error acknowledging roster push", "id", s.ID, "err", err)
	}
	return transport.Handled
}

// Register adds the roster handlers to t.
// Subscription requests are registered first so that they never reach the
// availability handler.
func (m *Manager) Register(t interface {
	Handle(kind transport.Kind, typ string, h transport.Handler)
}) {
	t.Handle(transport.KindPresence, string(stanza.UnsubscribePresence), transport.HandlerFunc(m.HandleUnsubscribe))
	t.Handle(transport.KindPresence, string(stanza.SubscribePresence), transport.HandlerFunc(m.HandleSubscribe))
	t.Handle(transport.KindPresence, "", transport.HandlerFunc(m.HandleAvailability))
	t.Handle(transport.KindIQ, string(stanza.SetIQ), transport.HandlerFunc(m.HandlePush))
}
