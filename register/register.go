// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package register implements XEP-0077: In-Band Registration.
package register // import "mellium.im/agent/register"

import (
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/agent/transport"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// NS is the XML namespace used by in-band registration. It is provided as a
// convenience.
const NS = `jabber:iq:register`

// Query is a registration request.
// If Remove is set the account is deleted and the other fields are ignored.
type Query struct {
	Username string
	Password string
	Remove   bool
}

func text(local, value string) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(value)),
		xml.StartElement{Name: xml.Name{Local: local}},
	)
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (q Query) TokenReader() xml.TokenReader {
	var inner xml.TokenReader
	if q.Remove {
		inner = xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "remove"}})
	} else {
		inner = xmlstream.MultiReader(
			text("username", q.Username),
			text("password", q.Password),
		)
	}
	return xmlstream.Wrap(inner, xml.StartElement{Name: xml.Name{Space: NS, Local: "query"}})
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (q Query) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, q.TokenReader())
}

// IQ is a registration request addressed to a server.
type IQ struct {
	stanza.IQ

	Query Query
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (iq IQ) TokenReader() xml.TokenReader {
	iq.IQ.Type = stanza.SetIQ
	return iq.IQ.Wrap(iq.Query.TokenReader())
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (iq IQ) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, iq.TokenReader())
}

// Account creates the account with the localpart of addr on the server
// hosting it and waits for the result.
// If the server refuses the registration the stanza error is returned.
func Account(ctx context.Context, s transport.Sender, addr jid.JID, password string) error {
	iq := IQ{
		IQ: stanza.IQ{ID: transport.NewID(), To: addr.Domain()},
		Query: Query{
			Username: addr.Localpart(),
			Password: password,
		},
	}
	if err := s.UnmarshalIQ(ctx, iq.TokenReader(), nil); err != nil {
		return fmt.Errorf("register: registering %s: %w", addr.Bare(), err)
	}
	return nil
}

// Cancel deletes the account of the session from the server hosting domain.
// It does not wait for a response since the server may close the stream
// before sending one.
func Cancel(ctx context.Context, s transport.Sender, domain jid.JID) error {
	iq := IQ{
		IQ:    stanza.IQ{ID: transport.NewID(), To: domain.Domain()},
		Query: Query{Remove: true},
	}
	return s.Send(ctx, iq.TokenReader())
}
