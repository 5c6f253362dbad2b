// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package register_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mellium.im/agent/internal/transporttest"
	"mellium.im/agent/register"
	"mellium.im/agent/transport"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

var (
	_ xmlstream.WriterTo  = register.IQ{}
	_ xmlstream.Marshaler = register.IQ{}
	_ xmlstream.Marshaler = register.Query{}
)

func TestAccount(t *testing.T) {
	tr := transporttest.New()
	addr := jid.MustParse("agent@example.net/host")
	if err := register.Account(context.Background(), tr, addr, "secret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("wrong number of stanzas: %v", sent)
	}
	for _, want := range []string{
		`to="example.net"`,
		`type="set"`,
		`<query xmlns="jabber:iq:register">`,
		`<username>agent</username>`,
		`<password>secret</password>`,
	} {
		if !strings.Contains(sent[0], want) {
			t.Errorf("request %s does not contain %s", sent[0], want)
		}
	}
}

func TestAccountRefused(t *testing.T) {
	tr := transporttest.New()
	tr.Respond = func(req transport.Stanza) (string, error) {
		return `<iq type="error" id="` + req.ID + `"><error type="cancel"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`, nil
	}
	err := register.Account(context.Background(), tr, jid.MustParse("agent@example.net"), "secret")
	var se stanza.Error
	if !errors.As(err, &se) {
		t.Fatalf("expected a stanza error, got %v", err)
	}
	if se.Condition != stanza.Conflict {
		t.Errorf("wrong condition: want=%v, got=%v", stanza.Conflict, se.Condition)
	}
}

func TestCancel(t *testing.T) {
	tr := transporttest.New()
	if err := register.Cancel(context.Background(), tr, jid.MustParse("agent@example.net")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "<remove></remove>") || strings.Contains(sent[0], "username") {
		t.Errorf("wrong cancel request: %v", sent)
	}
}
