// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport_test

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"testing"

	"mellium.im/agent/transport"
	"mellium.im/xmpp/stanza"
)

var (
	_ transport.Transport = (*transport.Session)(nil)
	_ transport.Handler   = transport.HandlerFunc(nil)
)

func TestKind(t *testing.T) {
	for _, tc := range [...]struct {
		local string
		kind  transport.Kind
		str   string
	}{
		{local: "message", kind: transport.KindMessage, str: "message"},
		{local: "presence", kind: transport.KindPresence, str: "presence"},
		{local: "iq", kind: transport.KindIQ, str: "iq"},
		{local: "stream", kind: transport.KindUnknown, str: "unknown"},
	} {
		t.Run(tc.local, func(t *testing.T) {
			k := transport.KindOf(xml.Name{Space: "jabber:client", Local: tc.local})
			if k != tc.kind {
				t.Errorf("wrong kind: want=%v, got=%v", tc.kind, k)
			}
			if s := k.String(); s != tc.str {
				t.Errorf("wrong string: want=%q, got=%q", tc.str, s)
			}
		})
	}
}

func TestStanzaFields(t *testing.T) {
	s := decode(t, `<message xmlns="jabber:client" type="chat" id="123" from="bob@example.net/pc" to="agent@example.net"><thread>t</thread><body>hi</body><x xmlns="urn:example" a="b"/></message>`)
	if s.Kind() != transport.KindMessage || s.Type != "chat" || s.ID != "123" {
		t.Errorf("wrong header: %+v", s)
	}
	if s.From.String() != "bob@example.net/pc" || s.To.String() != "agent@example.net" {
		t.Errorf("wrong addresses: from=%s, to=%s", s.From, s.To)
	}
	if s.Body != "hi" || s.Thread != "t" {
		t.Errorf("wrong content: body=%q, thread=%q", s.Body, s.Thread)
	}
	if p := s.Payload(); p.Local != "thread" {
		t.Errorf("wrong first payload: %v", p)
	}

	x := struct {
		A string `xml:"a,attr"`
	}{}
	if err := s.Decode(xml.Name{Space: "urn:example", Local: "x"}, &x); err != nil {
		t.Fatalf("error decoding payload: %v", err)
	}
	if x.A != "b" {
		t.Errorf("wrong payload: %+v", x)
	}
	if err := s.Decode(xml.Name{Space: "urn:missing", Local: "x"}, &x); err != io.EOF {
		t.Errorf("expected io.EOF for a missing payload, got %v", err)
	}
	if p := decode(t, `<presence/>`).Payload(); p != (xml.Name{}) {
		t.Errorf("expected no payload, got %v", p)
	}
}

var decodeIQTestCases = [...]struct {
	in   string
	out  string
	err  error
	cond stanza.Condition
}{
	0: {in: `<iq type="result" id="1"/>`},
	1: {in: `<iq type="result" id="1"><query xmlns="urn:example"><v>ok</v></query></iq>`, out: "ok"},
	2: {
		in:   `<iq type="error" id="1"><query xmlns="urn:example"/><error type="cancel"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`,
		cond: stanza.ItemNotFound,
	},
	3: {in: `<iq type="error" id="1"/>`, err: transport.ErrEmptyError},
}

func TestDecodeIQ(t *testing.T) {
	for i, tc := range decodeIQTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			v := struct {
				V string `xml:"v"`
			}{}
			err := transport.DecodeIQ(xml.NewDecoder(strings.NewReader(tc.in)), &v)
			if tc.cond != "" {
				var se stanza.Error
				if !errors.As(err, &se) {
					t.Fatalf("expected stanza error, got %v", err)
				}
				if se.Condition != tc.cond {
					t.Errorf("wrong condition: want=%v, got=%v", tc.cond, se.Condition)
				}
				return
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("wrong error: want=%v, got=%v", tc.err, err)
			}
			if v.V != tc.out {
				t.Errorf("wrong payload: want=%q, got=%q", tc.out, v.V)
			}
		})
	}

	t.Run("nil", func(t *testing.T) {
		err := transport.DecodeIQ(xml.NewDecoder(strings.NewReader(decodeIQTestCases[1].in)), nil)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestIsAccountRemoved(t *testing.T) {
	for _, tc := range [...]struct {
		err  error
		want bool
	}{
		{err: nil},
		{err: errors.New("connection reset")},
		{err: errors.New("not-authorized: User removed"), want: true},
		{err: fmt.Errorf("session: %w", errors.New("User removed")), want: true},
	} {
		if got := transport.IsAccountRemoved(tc.err); got != tc.want {
			t.Errorf("IsAccountRemoved(%v): want=%t, got=%t", tc.err, tc.want, got)
		}
	}
}

func TestNewID(t *testing.T) {
	a, b := transport.NewID(), transport.NewID()
	if a == "" || a == b {
		t.Errorf("IDs are not unique: %q, %q", a, b)
	}
}
