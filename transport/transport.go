// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport defines the connection used by an agent to talk to its
// XMPP server and provides an implementation backed by mellium.im/xmpp.
//
// The agent never touches the XML stream directly. It asks the transport to
// connect, authenticate and send stanzas, and it registers handlers that the
// transport calls from Process, the only place where inbound stanzas are
// delivered.
package transport // import "mellium.im/agent/transport"

import (
	"bytes"
	"context"
	"encoding/xml"
	"time"

	"mellium.im/xmpp/jid"
)

// Kind is the kind of a top level stanza.
type Kind uint8

// A list of stanza kinds.
const (
	KindUnknown Kind = iota
	KindMessage
	KindPresence
	KindIQ
)

// KindOf returns the stanza kind of an element name.
func KindOf(name xml.Name) Kind {
	switch name.Local {
	case "message":
		return KindMessage
	case "presence":
		return KindPresence
	case "iq":
		return KindIQ
	}
	return KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPresence:
		return "presence"
	case KindIQ:
		return "iq"
	}
	return "unknown"
}

// Result is returned by handlers to tell the router whether the stanza may be
// passed on to handlers registered after them.
type Result uint8

// A list of handler results.
const (
	PassThrough Result = iota
	Handled
)

// Stanza is an inbound stanza decoded by the transport.
// Only the fields used by agents are decoded; the raw payload is kept in Inner
// for handlers that need more.
type Stanza struct {
	XMLName xml.Name
	ID      string  `xml:"id,attr,omitempty"`
	To      jid.JID `xml:"to,attr,omitempty"`
	From    jid.JID `xml:"from,attr,omitempty"`
	Type    string  `xml:"type,attr,omitempty"`
	Subject string  `xml:"subject,omitempty"`
	Body    string  `xml:"body,omitempty"`
	Thread  string  `xml:"thread,omitempty"`
	Show    string  `xml:"show,omitempty"`
	Status  string  `xml:"status,omitempty"`
	Inner   []byte  `xml:",innerxml"`
}

// Kind returns the kind of the stanza.
func (s Stanza) Kind() Kind {
	return KindOf(s.XMLName)
}

// Payload returns the name of the first child element of the stanza, or the
// zero name if it has none.
func (s Stanza) Payload() xml.Name {
	d := xml.NewDecoder(bytes.NewReader(s.Inner))
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.Name{}
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name
		}
	}
}

// Decode unmarshals the first child element named name into v.
// It returns io.EOF if no such element exists.
func (s Stanza) Decode(name xml.Name, v interface{}) error {
	d := xml.NewDecoder(bytes.NewReader(s.Inner))
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name == name {
			return d.DecodeElement(v, &start)
		}
		if err := d.Skip(); err != nil {
			return err
		}
	}
}

// Handler responds to an inbound stanza.
type Handler interface {
	HandleStanza(ctx context.Context, s Stanza) Result
}

// HandlerFunc is an adapter to allow the use of ordinary functions as
// handlers.
type HandlerFunc func(ctx context.Context, s Stanza) Result

// HandleStanza calls f(ctx, s).
func (f HandlerFunc) HandleStanza(ctx context.Context, s Stanza) Result {
	return f(ctx, s)
}

// Sender sends stanzas over an established session.
//
// UnmarshalIQ sends an IQ, blocks until the response is received and decodes
// the first child of the response into v (if v is non-nil).
// If the response is an error IQ, the stanza error is returned.
//
// UnmarshalIQFunc is like UnmarshalIQ but it returns immediately and calls f
// with the result from within Process.
type Sender interface {
	Send(ctx context.Context, r xml.TokenReader) error
	UnmarshalIQ(ctx context.Context, iq xml.TokenReader, v interface{}) error
	UnmarshalIQFunc(ctx context.Context, iq xml.TokenReader, v interface{}, f func(context.Context, error))
}

// Transport is a connection to an XMPP server.
//
// Handlers registered with Handle are dropped when a new connection is made
// and must be registered again after each successful authentication.
type Transport interface {
	Sender

	Connect(ctx context.Context, domain jid.JID) error
	IsConnected() bool
	Disconnect() error
	Authenticate(ctx context.Context, node, password, resource string) error
	SendInitialPresence(ctx context.Context) error

	// Handle registers h for stanzas of the given kind and type.
	// An empty typ matches every type.
	Handle(kind Kind, typ string, h Handler)

	// Process delivers pending inbound stanzas and callbacks to their handlers
	// for up to timeout.
	// It returns a non-nil error if the underlying session failed.
	Process(ctx context.Context, timeout time.Duration) error
}
