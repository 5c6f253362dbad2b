// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/dial"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/ping"
	"mellium.im/xmpp/stanza"
)

const eventQueueLen = 64

// requestTimeout is how long an inbound IQ request waits for Process before
// the server is told that the service is unavailable.
const requestTimeout = 10 * time.Second

// ErrInRequest is returned by UnmarshalIQ when it is called by the handler of
// an inbound IQ request: no response can be read until the handler returns.
var ErrInRequest = errors.New("transport: cannot wait for an IQ response while answering a request")

// link is a single connection and the session negotiated over it.
type link struct {
	conn    net.Conn
	session *xmpp.Session
	events  chan func(context.Context)
	quit    chan struct{}
	done    chan struct{}
	err     error
}

func (l *link) closed() bool {
	if l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Session is a Transport that uses a mellium.im/xmpp client session.
//
// The XML stream is read on a separate goroutine; decoded stanzas and IQ
// callbacks are queued and run by Process on the caller's goroutine.
type Session struct {
	router Router

	// TLSConfig is used when negotiating StartTLS.
	// If nil, a config with the server name set to the domain is used.
	TLSConfig *tls.Config

	// Mechanisms are the SASL mechanisms to try, in order of preference.
	Mechanisms []sasl.Mechanism

	// TeeIn and TeeOut, if set, receive a copy of the raw XML read from and
	// written to the stream.
	TeeIn  io.Writer
	TeeOut io.Writer

	logger *slog.Logger
	dial   func(ctx context.Context, domain jid.JID) (net.Conn, error)

	mu     sync.Mutex
	domain jid.JID
	link   *link
}

// NewSession returns a transport that is not yet connected.
// A nil logger discards all output.
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		logger: logger,
		dial: func(ctx context.Context, domain jid.JID) (net.Conn, error) {
			return dial.Client(ctx, "tcp", domain)
		},
		Mechanisms: []sasl.Mechanism{
			sasl.ScramSha256Plus,
			sasl.ScramSha1Plus,
			sasl.ScramSha256,
			sasl.ScramSha1,
			sasl.Plain,
		},
	}
}

func (s *Session) current() *link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

func (s *Session) tlsConfig() *tls.Config {
	if s.TLSConfig != nil {
		return s.TLSConfig
	}
	return &tls.Config{
		ServerName: s.domain.Domainpart(),
		MinVersion: tls.VersionTLS12,
	}
}

// Connect dials the server responsible for domain.
// It does nothing if a connection exists and its stream is still being read.
// A connection whose stream was closed is torn down and replaced.
func (s *Session) Connect(ctx context.Context, domain jid.JID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.link; l != nil {
		if !l.closed() {
			return nil
		}
		s.link = nil
		if err := s.closeLink(l); err != nil {
			s.logger.Debug("error closing stale connection", "err", err)
		}
	}

	s.domain = domain.Domain()
	conn, err := s.dial(ctx, s.domain)
	if err != nil {
		return fmt.Errorf("transport: dialing %s: %w", s.domain, err)
	}
	s.link = &link{
		conn: conn,
		quit: make(chan struct{}),
	}
	s.router.Reset()
	s.logger.Debug("connected", "domain", s.domain)
	return nil
}

// IsConnected reports whether a connection exists and its stream is still
// being read.
func (s *Session) IsConnected() bool {
	l := s.current()
	return l != nil && !l.closed()
}

// Disconnect closes the session and the underlying connection.
// It also releases a connection whose stream was already closed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return s.closeLink(l)
}

func (s *Session) closeLink(l *link) error {
	close(l.quit)
	var err error
	if l.session != nil && !l.closed() {
		err = l.session.Close()
	}
	if cerr := l.conn.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	s.logger.Debug("disconnected", "domain", s.domain)
	return err
}

func (s *Session) negotiator(features ...xmpp.StreamFeature) xmpp.Negotiator {
	return xmpp.NewNegotiator(func(*xmpp.Session, *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Lang:     "en",
			Features: features,
			TeeIn:    s.TeeIn,
			TeeOut:   s.TeeOut,
		}
	})
}

// Authenticate negotiates TLS, authenticates as node@domain and binds
// resource.
//
// If authentication fails a new connection secured with TLS but not
// authenticated is opened so that an in-band registration request can be
// sent, and the authentication error is returned.
func (s *Session) Authenticate(ctx context.Context, node, password, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.link
	if l == nil {
		return ErrNotConnected
	}

	origin, err := jid.New(node, s.domain.Domainpart(), resource)
	if err != nil {
		return fmt.Errorf("transport: invalid address: %w", err)
	}

	session, err := xmpp.NewSession(ctx, s.domain, origin, l.conn, 0, s.negotiator(
		xmpp.BindResource(),
		xmpp.StartTLS(s.tlsConfig()),
		xmpp.SASL("", password, s.Mechanisms...),
	))
	if err != nil {
		authErr := fmt.Errorf("transport: authenticating %s: %w", origin.Bare(), err)
		/* #nosec */
		l.conn.Close()
		if rerr := s.openUnauthenticated(ctx, l, origin); rerr != nil {
			s.logger.Warn("could not open unauthenticated stream", "err", rerr)
		}
		return authErr
	}
	s.serve(l, session)
	return nil
}

// openUnauthenticated replaces the connection of l with a new one that is
// only secured with TLS.
// Must be called with s.mu held.
func (s *Session) openUnauthenticated(ctx context.Context, l *link, origin jid.JID) error {
	conn, err := s.dial(ctx, s.domain)
	if err != nil {
		return err
	}
	l.conn = conn
	session, err := xmpp.NewSession(ctx, s.domain, origin, conn, 0, s.negotiator(
		xmpp.StartTLS(s.tlsConfig()),
	))
	if err != nil {
		return err
	}
	s.serve(l, session)
	return nil
}

// decodeStanza reads the element started by start from r.
// The element is encoded again so that its inner XML can be kept.
func decodeStanza(start xml.StartElement, r xml.TokenReader) (Stanza, error) {
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	noNS := xmlstream.RemoveAttr(func(_ xml.StartElement, a xml.Attr) bool {
		return a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns")
	})
	_, err := xmlstream.Copy(e, noNS(xmlstream.MultiReader(xmlstream.Token(start.Copy()), r)))
	if err != nil {
		return Stanza{}, err
	}
	if err = e.Flush(); err != nil {
		return Stanza{}, err
	}
	st := Stanza{}
	err = xml.Unmarshal(buf.Bytes(), &st)
	return st, err
}

func isRequest(st Stanza) bool {
	return st.Kind() == KindIQ && (st.Type == string(stanza.GetIQ) || st.Type == string(stanza.SetIQ))
}

func (s *Session) serve(l *link, session *xmpp.Session) {
	l.session = session
	l.events = make(chan func(context.Context), eventQueueLen)
	l.done = make(chan struct{})
	go func() {
		l.err = session.Serve(xmpp.HandlerFunc(func(t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
			st, err := decodeStanza(*start, t)
			if err != nil {
				s.logger.Debug("error decoding stanza", "name", start.Name.Local, "err", err)
				return nil
			}
			if !isRequest(st) {
				select {
				case l.events <- func(ctx context.Context) { s.deliver(ctx, st) }:
				case <-l.quit:
				}
				return nil
			}

			if p := st.Payload(); st.Type == string(stanza.GetIQ) && p == (xml.Name{Space: ping.NS, Local: "ping"}) {
				iq, err := stanza.NewIQ(*start)
				if err != nil {
					return err
				}
				return ping.Handler{}.HandleIQ(iq, t, &xml.StartElement{Name: p})
			}
			return s.request(l, t, st)
		}))
		close(l.done)
	}()
}

// request queues an IQ request and waits for Process to handle it so that
// the response is written before the session considers the request
// unanswered.
func (s *Session) request(l *link, w xmlstream.TokenWriter, st Stanza) error {
	r := &responder{w: w, done: make(chan struct{})}
	ev := func(ctx context.Context) {
		if !r.start() {
			return
		}
		defer r.finish()
		s.deliver(context.WithValue(ctx, responderKey{}, r), st)
	}
	select {
	case l.events <- ev:
	case <-l.quit:
		return nil
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return nil
	case <-l.quit:
		return nil
	case <-timer.C:
	}
	if r.abandon() {
		s.logger.Warn("IQ request not handled in time", "id", st.ID, "from", st.From)
		return nil
	}
	select {
	case <-r.done:
	case <-l.quit:
	}
	return nil
}

type responderKey struct{}

// responder writes the stanzas sent by the handler of an inbound IQ request
// to the response writer of the session.
type responder struct {
	w    xmlstream.TokenWriter
	done chan struct{}

	mu        sync.Mutex
	running   bool
	finished  bool
	abandoned bool
}

func (r *responder) start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return false
	}
	r.running = true
	return true
}

func (r *responder) finish() {
	r.mu.Lock()
	r.finished = true
	r.mu.Unlock()
	close(r.done)
}

func (r *responder) abandon() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.abandoned = true
	return true
}

// active reports whether the handler is still running.
func (r *responder) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && !r.finished
}

// send writes tr to the response writer and reports whether it did.
// Once the handler has returned the writer is no longer usable.
func (r *responder) send(tr xml.TokenReader) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.finished {
		return false, nil
	}
	_, err := xmlstream.Copy(r.w, tr)
	return true, err
}

func responderFrom(ctx context.Context) *responder {
	r, _ := ctx.Value(responderKey{}).(*responder)
	return r
}

func (s *Session) deliver(ctx context.Context, st Stanza) {
	if s.router.Dispatch(ctx, st) {
		return
	}
	if !isRequest(st) {
		return
	}

	// Unhandled requests must be answered.
	reply := stanza.IQ{
		ID:   st.ID,
		To:   st.From,
		Type: stanza.ErrorIQ,
	}
	err := s.Send(ctx, reply.Wrap(stanza.Error{
		Type:      stanza.Cancel,
		Condition: stanza.ServiceUnavailable,
	}.TokenReader()))
	if err != nil {
		s.logger.Debug("error replying to unhandled IQ", "id", st.ID, "err", err)
	}
}

// Handle registers h for stanzas of the given kind and type.
func (s *Session) Handle(kind Kind, typ string, h Handler) {
	s.router.Handle(kind, typ, h)
}

// SendInitialPresence sends an available presence to the server.
func (s *Session) SendInitialPresence(ctx context.Context) error {
	return s.Send(ctx, stanza.Presence{Type: stanza.AvailablePresence}.Wrap(nil))
}

// Send transmits the first element read from r.
// Stanzas sent by the handler of an inbound IQ request are written to the
// response of that request.
func (s *Session) Send(ctx context.Context, r xml.TokenReader) error {
	if resp := responderFrom(ctx); resp != nil {
		if ok, err := resp.send(r); ok {
			return err
		}
	}
	l := s.current()
	if l == nil || l.session == nil {
		return ErrNotConnected
	}
	return l.session.Send(ctx, r)
}

// UnmarshalIQ sends an IQ and decodes the payload of the response into v.
// Handlers of inbound IQ requests must use UnmarshalIQFunc instead.
func (s *Session) UnmarshalIQ(ctx context.Context, iq xml.TokenReader, v interface{}) error {
	if resp := responderFrom(ctx); resp != nil && resp.active() {
		return ErrInRequest
	}
	l := s.current()
	if l == nil || l.session == nil {
		return ErrNotConnected
	}
	resp, err := l.session.SendIQ(ctx, iq)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	defer resp.Close()
	return DecodeIQ(resp, v)
}

// UnmarshalIQFunc sends an IQ and calls f from Process once the response has
// been decoded into v.
func (s *Session) UnmarshalIQFunc(ctx context.Context, iq xml.TokenReader, v interface{}, f func(context.Context, error)) {
	l := s.current()
	if l == nil || l.session == nil {
		f(ctx, ErrNotConnected)
		return
	}
	go func() {
		err := s.UnmarshalIQ(context.WithValue(ctx, responderKey{}, (*responder)(nil)), iq, v)
		select {
		case l.events <- func(ctx context.Context) { f(ctx, err) }:
		case <-l.quit:
		}
	}()
}

// Process runs queued handlers.
// It returns after the first queued event has been handled, when timeout
// elapses, or with an error when the stream is closed.
func (s *Session) Process(ctx context.Context, timeout time.Duration) error {
	l := s.current()
	if l == nil || l.session == nil {
		return ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-l.events:
		ev(ctx)
		return nil
	case <-l.done:
		if l.err != nil {
			return l.err
		}
		return ErrClosed
	case <-timer.C:
		return nil
	}
}
