// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transporttest provides an in-memory transport for testing agents.
package transporttest // import "mellium.im/agent/internal/transporttest"

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"

	"mellium.im/agent/transport"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
)

// Responder returns the raw XML of the response to the IQ req.
// Returning an empty string sends an empty result IQ.
type Responder func(req transport.Stanza) (string, error)

type event struct {
	stanza *transport.Stanza
	err    error
	f      func(context.Context)
}

// Transport is a transport.Transport that records everything it sends and
// delivers the stanzas and errors queued with Deliver and Fail.
//
// The zero value is a disconnected transport whose IQs all receive empty
// results.
type Transport struct {
	router transport.Router

	// ConnectErr and AuthErr, if set, are returned by Connect and
	// Authenticate.
	ConnectErr func(n int) error
	AuthErr    func(n int) error

	// Respond answers IQs sent with UnmarshalIQ and UnmarshalIQFunc.
	Respond Responder

	// OnProcess, if set, is called at the start of each call to Process.
	OnProcess func(n int)

	mu        sync.Mutex
	connected bool
	connects  int
	auths     int
	processes int
	sent      []string
	queue     []event
	domain    jid.JID
	node      string
	resource  string
}

// New returns a transport that is already connected.
func New() *Transport {
	return &Transport{connected: true}
}

// Connect marks the transport connected unless ConnectErr fails.
// Like a real session it does nothing if the transport is already connected.
func (t *Transport) Connect(_ context.Context, domain jid.JID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	t.connects++
	if t.ConnectErr != nil {
		if err := t.ConnectErr(t.connects); err != nil {
			return err
		}
	}
	t.connected = true
	t.domain = domain
	t.router.Reset()
	return nil
}

// Connects returns the number of calls to Connect.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Auths returns the number of calls to Authenticate.
func (t *Transport) Auths() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.auths
}

// Processes returns the number of calls to Process.
func (t *Transport) Processes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processes
}

// IsConnected reports whether Connect succeeded and Disconnect was not called
// since.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Disconnect marks the transport disconnected and drops queued events.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.queue = nil
	return nil
}

// Authenticate records the credentials unless AuthErr fails.
func (t *Transport) Authenticate(_ context.Context, node, _, resource string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.auths++
	t.node = node
	t.resource = resource
	if t.AuthErr != nil {
		return t.AuthErr(t.auths)
	}
	return nil
}

// Resource returns the resource passed to the last call to Authenticate.
func (t *Transport) Resource() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resource
}

// SendInitialPresence records an empty presence.
func (t *Transport) SendInitialPresence(ctx context.Context) error {
	return t.Send(ctx, xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "presence"}}))
}

// Handle registers h.
func (t *Transport) Handle(kind transport.Kind, typ string, h transport.Handler) {
	t.router.Handle(kind, typ, h)
}

// Handlers returns the number of registered handlers.
func (t *Transport) Handlers() int {
	return t.router.Len()
}

func encode(r xml.TokenReader) (string, error) {
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(e, r); err != nil {
		return "", err
	}
	if err := e.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Send records the stanza read from r.
func (t *Transport) Send(_ context.Context, r xml.TokenReader) error {
	out, err := encode(r)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return transport.ErrNotConnected
	}
	t.sent = append(t.sent, out)
	return nil
}

// UnmarshalIQ records the IQ and decodes the response returned by Respond.
func (t *Transport) UnmarshalIQ(ctx context.Context, iq xml.TokenReader, v interface{}) error {
	out, err := encode(iq)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return transport.ErrNotConnected
	}
	t.sent = append(t.sent, out)
	respond := t.Respond
	t.mu.Unlock()

	req := transport.Stanza{}
	if err := xml.Unmarshal([]byte(out), &req); err != nil {
		return err
	}
	resp := ""
	if respond != nil {
		resp, err = respond(req)
		if err != nil {
			return err
		}
	}
	if resp == "" {
		resp = fmt.Sprintf(`<iq type="result" id=%q/>`, req.ID)
	}
	return transport.DecodeIQ(xml.NewDecoder(strings.NewReader(resp)), v)
}

// UnmarshalIQFunc is like UnmarshalIQ but f is called by the next call to
// Process.
func (t *Transport) UnmarshalIQFunc(ctx context.Context, iq xml.TokenReader, v interface{}, f func(context.Context, error)) {
	err := t.UnmarshalIQ(ctx, iq, v)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, event{f: func(ctx context.Context) { f(ctx, err) }})
}

// Deliver queues raw stanzas to be handled by Process.
// It panics if a stanza cannot be decoded.
func (t *Transport) Deliver(raw ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range raw {
		st := transport.Stanza{}
		if err := xml.Unmarshal([]byte(r), &st); err != nil {
			panic(fmt.Sprintf("transporttest: bad stanza %q: %v", r, err))
		}
		t.queue = append(t.queue, event{stanza: &st})
	}
}

// Fail queues an error to be returned by Process.
// Once the error is returned the transport is disconnected, like a session
// whose stream was closed.
func (t *Transport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, event{err: err})
}

// Process handles the next queued event.
// It never blocks: if nothing is queued it returns immediately.
func (t *Transport) Process(ctx context.Context, _ time.Duration) error {
	t.mu.Lock()
	t.processes++
	n := t.processes
	onProcess := t.OnProcess
	t.mu.Unlock()
	if onProcess != nil {
		onProcess(n)
	}

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return transport.ErrNotConnected
	}
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return nil
	}
	ev := t.queue[0]
	t.queue = t.queue[1:]
	t.mu.Unlock()

	switch {
	case ev.err != nil:
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		return ev.err
	case ev.f != nil:
		ev.f(ctx)
	case ev.stanza != nil:
		t.router.Dispatch(ctx, *ev.stanza)
	}
	return nil
}

// Drain calls Process until the queue is empty or Process fails.
func (t *Transport) Drain(ctx context.Context) error {
	for {
		t.mu.Lock()
		n := len(t.queue)
		t.mu.Unlock()
		if n == 0 {
			return nil
		}
		if err := t.Process(ctx, 0); err != nil {
			return err
		}
	}
}

// Sent returns the raw XML of every stanza sent so far.
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// Stanzas returns the stanzas sent so far decoded.
func (t *Transport) Stanzas() []transport.Stanza {
	var out []transport.Stanza
	for _, raw := range t.Sent() {
		st := transport.Stanza{}
		if err := xml.Unmarshal([]byte(raw), &st); err != nil {
			panic(fmt.Sprintf("transporttest: bad sent stanza %q: %v", raw, err))
		}
		out = append(out, st)
	}
	return out
}

// Reset forgets the stanzas sent so far.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}
