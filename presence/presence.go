// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package presence publishes the availability and identity of an agent.
package presence // import "mellium.im/agent/presence"

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"mellium.im/agent/transport"
	"mellium.im/agent/vcard"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// Show is the availability sub-state of an entity.
type Show string

// A list of availability states.
// The empty Show means available.
const (
	ShowAvailable Show = ""
	ShowAway      Show = "away"
	ShowChat      Show = "chat"
	ShowDND       Show = "dnd"
	ShowXA        Show = "xa"
)

// DefaultAvatar is the file used when no avatar file is given.
const DefaultAvatar = "default.png"

const avatarType = "image/png"

// State is the current presence of the agent.
type State struct {
	Show   Show
	Status string
}

// Avatar configures the avatar published in the vCard.
type Avatar struct {
	Enabled bool
	Dir     string
	Fs      afero.Fs
}

// Manager keeps the presence and vCard of an agent.
type Manager struct {
	self   jid.JID
	s      transport.Sender
	avatar Avatar
	logger *slog.Logger

	mu    sync.Mutex
	state State
	card  vcard.Card
}

// New returns a manager publishing the presence of self.
// If avatar.Fs is nil the operating system file system is used.
// A nil logger discards all output.
func New(self jid.JID, s transport.Sender, avatar Avatar, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if avatar.Fs == nil {
		avatar.Fs = afero.NewOsFs()
	}
	return &Manager{
		self:   self,
		s:      s,
		avatar: avatar,
		logger: logger,
	}
}

// State returns the current presence.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Card returns the last vCard fetched or published.
func (m *Manager) Card() vcard.Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.card
}

func (m *Manager) send(ctx context.Context, st State, payload ...xml.TokenReader) error {
	var inner []xml.TokenReader
	if st.Show != ShowAvailable {
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(st.Show)),
			xml.StartElement{Name: xml.Name{Local: "show"}},
		))
	}
	if st.Status != "" {
		inner = append(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(st.Status)),
			xml.StartElement{Name: xml.Name{Local: "status"}},
		))
	}
	inner = append(inner, payload...)
	p := stanza.Presence{
		ID:   transport.NewID(),
		From: m.self,
		Type: stanza.AvailablePresence,
	}
	return m.s.Send(ctx, p.Wrap(xmlstream.MultiReader(inner...)))
}

// SetPresence changes the availability and status and broadcasts them.
func (m *Manager) SetPresence(ctx context.Context, show Show, status string) error {
	m.mu.Lock()
	m.state = State{Show: show, Status: status}
	st := m.state
	m.mu.Unlock()

	m.logger.Info("status change", "status", status, "show", show)
	return m.send(ctx, st)
}

// SetStatus changes the status text and keeps the last availability.
func (m *Manager) SetStatus(ctx context.Context, status string) error {
	m.mu.Lock()
	m.state.Status = status
	st := m.state
	m.mu.Unlock()

	m.logger.Info("status change", "status", status, "show", st.Show)
	return m.send(ctx, st)
}

// FetchIdentity requests the vCard of the agent.
// A missing vCard is not an error.
func (m *Manager) FetchIdentity(ctx context.Context) error {
	m.logger.Debug("asking for own vCard")
	card := vcard.Card{}
	err := m.s.UnmarshalIQ(ctx, vcard.GetIQ(stanza.IQ{ID: transport.NewID()}), &card)
	if err != nil {
		var se stanza.Error
		if errors.As(err, &se) && se.Condition == stanza.ItemNotFound {
			card = vcard.Card{}
		} else {
			return fmt.Errorf("presence: fetching vCard: %w", err)
		}
	}
	m.mu.Lock()
	m.card = card
	m.mu.Unlock()
	m.logger.Debug("own vCard retrieved", "type", card.Type)
	return nil
}

// SetIdentity publishes a vCard declaring the entity type of the agent.
//
// If avatars are enabled the file avatarFile (or DefaultAvatar) is read from
// the avatar directory and published as the vCard photo.
// If neither the photo nor the entity type changed since the last fetch the
// vCard is not uploaded again and only a presence advertising the photo hash
// is sent.
// Otherwise the presence is sent once the server confirms the new vCard.
func (m *Manager) SetIdentity(ctx context.Context, entityType, avatarFile string) error {
	card := vcard.Card{Type: entityType}
	if !m.avatar.Enabled {
		m.upload(ctx, card, "")
		return nil
	}

	if avatarFile == "" {
		avatarFile = DefaultAvatar
	}
	data, err := afero.ReadFile(m.avatar.Fs, filepath.Join(m.avatar.Dir, avatarFile))
	if err != nil {
		return fmt.Errorf("presence: reading avatar: %w", err)
	}
	card.Photo = vcard.NewPhoto(avatarType, data)
	hash := card.Photo.Hash()

	m.mu.Lock()
	old := m.card
	m.mu.Unlock()
	if old.Type == entityType && old.Photo != nil && old.Photo.BinVal == card.Photo.BinVal {
		m.logger.Info("vCard photo has not changed")
		return m.sendUpdate(ctx, hash)
	}

	m.upload(ctx, card, hash)
	return nil
}

func (m *Manager) upload(ctx context.Context, card vcard.Card, hash string) {
	m.s.UnmarshalIQFunc(ctx, vcard.SetIQ(stanza.IQ{ID: transport.NewID()}, card), nil, func(ctx context.Context, err error) {
		if err != nil {
			m.logger.Error("error publishing vCard", "err", err)
			return
		}
		m.mu.Lock()
		m.card = card
		m.mu.Unlock()
		if err := m.sendUpdate(ctx, hash); err != nil {
			m.logger.Error("error sending vCard update presence", "err", err)
		}
	})
	m.logger.Info("vCard information sent", "type", card.Type)
}

// sendUpdate broadcasts the current presence with the avatar hash.
func (m *Manager) sendUpdate(ctx context.Context, hash string) error {
	var payload []xml.TokenReader
	if hash != "" {
		payload = append(payload, vcard.Update{Photo: hash}.TokenReader())
	}
	err := m.send(ctx, m.State(), payload...)
	if err == nil {
		m.logger.Debug("vCard update presence sent", "hash", hash)
	}
	return err
}
