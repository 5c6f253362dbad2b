// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package push broadcasts notifications to every online resource of the
// contacts of an agent.
//
// Two kinds of broadcast exist: structured change notifications, which
// carry an element in a namespace below NS that clients use to refresh their
// view of the agent, and plain text messages ("shouts").
// Both are sent as headline messages and are best effort: there is no
// delivery receipt and no retry.
package push // import "mellium.im/agent/push"

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"

	"mellium.im/agent/roster"
	"mellium.im/agent/transport"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// NS is the namespace prefix of change notifications.
// The namespace of a notification is NS + ":" + its own namespace.
const NS = "archipel:push"

// Change is the payload of a change notification.
type Change struct {
	Namespace string
	Change    string
}

// Name returns the name of the notification element.
func (c Change) Name() xml.Name {
	return xml.Name{Space: NS + ":" + c.Namespace, Local: "x"}
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (c Change) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{
		Name: c.Name(),
		Attr: []xml.Attr{{Name: xml.Name{Local: "change"}, Value: c.Change}},
	})
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (c Change) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, c.TokenReader())
}

// Contacts lists the contacts to broadcast to.
type Contacts interface {
	Entries() []roster.Entry
}

// Broadcaster sends notifications to the contacts of an agent.
type Broadcaster struct {
	self     jid.JID
	contacts Contacts
	s        transport.Sender
	logger   *slog.Logger
}

// New returns a broadcaster that sends to contacts on behalf of self.
// A nil logger discards all output.
func New(self jid.JID, contacts Contacts, s transport.Sender, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Broadcaster{
		self:     self.Bare(),
		contacts: contacts,
		s:        s,
		logger:   logger,
	}
}

// recipients returns the full address of every online resource of the
// contacts that are not in one of the excluded groups.
func (b *Broadcaster) recipients(excluded []string) []jid.JID {
	var to []jid.JID
	for _, e := range b.contacts.Entries() {
		if e.JID.Equal(b.self) {
			continue
		}
		if len(excluded) > 0 && e.InGroup(excluded...) {
			continue
		}
		for res := range e.Resources {
			full, err := e.JID.WithResource(res)
			if err != nil {
				b.logger.Debug("skipping invalid resource", "jid", e.JID, "resource", res, "err", err)
				continue
			}
			to = append(to, full)
		}
	}
	return to
}

func (b *Broadcaster) fanOut(ctx context.Context, excluded []string, payload func() xml.TokenReader) error {
	var errs []error
	for _, to := range b.recipients(excluded) {
		msg := stanza.Message{
			ID:   transport.NewID(),
			To:   to,
			Type: stanza.HeadlineMessage,
		}
		if err := b.s.Send(ctx, msg.Wrap(payload())); err != nil {
			b.logger.Warn("error sending broadcast", "to", to, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PushChange notifies the contacts that change happened in namespace.
// Contacts in any of the excluded groups are skipped.
//
// A failed send does not stop the broadcast; all errors are returned once
// every contact has been tried.
func (b *Broadcaster) PushChange(ctx context.Context, namespace, change string, excluded ...string) error {
	c := Change{Namespace: namespace, Change: change}
	b.logger.Info("pushing change", "ns", c.Name().Space, "change", change)
	return b.fanOut(ctx, excluded, c.TokenReader)
}

// Shout sends a text message to the contacts.
// Contacts in any of the excluded groups are skipped.
func (b *Broadcaster) Shout(ctx context.Context, subject, body string, excluded ...string) error {
	b.logger.Info("shouting message", "subject", subject, "body", body)
	return b.fanOut(ctx, excluded, func() xml.TokenReader {
		var parts []xml.TokenReader
		if subject != "" {
			parts = append(parts, xmlstream.Wrap(
				xmlstream.Token(xml.CharData(subject)),
				xml.StartElement{Name: xml.Name{Local: "subject"}},
			))
		}
		parts = append(parts, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(body)),
			xml.StartElement{Name: xml.Name{Local: "body"}},
		))
		return xmlstream.MultiReader(parts...)
	})
}
