// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package push_test

import (
	"context"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
	"testing"

	"mellium.im/agent/internal/transporttest"
	"mellium.im/agent/push"
	"mellium.im/agent/roster"
	"mellium.im/agent/transport"
	"mellium.im/xmpp/jid"
)

var self = jid.MustParse("agent@example.net")

type contacts []roster.Entry

func (c contacts) Entries() []roster.Entry { return c }

func entry(addr string, groups []string, resources ...string) roster.Entry {
	e := roster.Entry{
		JID:       jid.MustParse(addr),
		Groups:    groups,
		Resources: make(map[string]roster.Resource),
	}
	for _, r := range resources {
		e.Resources[r] = roster.Resource{}
	}
	return e
}

var testContacts = contacts{
	entry("agent@example.net", nil, "other"),
	entry("juliet@example.com", []string{"Friends"}, "balcony", "chamber"),
	entry("romeo@example.net", []string{"Montague"}, "orchard"),
	entry("nurse@example.com", nil),
	entry("tybalt@example.com", []string{"Capulet", "Enemies"}, "street"),
}

func recipients(sent []transport.Stanza) []string {
	var to []string
	for _, st := range sent {
		to = append(to, st.To.String())
	}
	sort.Strings(to)
	return to
}

var fanOutTests = [...]struct {
	name     string
	excluded []string
	want     []string
}{
	{
		name: "all",
		want: []string{
			"juliet@example.com/balcony",
			"juliet@example.com/chamber",
			"romeo@example.net/orchard",
			"tybalt@example.com/street",
		},
	},
	{
		name:     "excluded",
		excluded: []string{"Enemies", "Montague"},
		want: []string{
			"juliet@example.com/balcony",
			"juliet@example.com/chamber",
		},
	},
	{
		name:     "unknown group",
		excluded: []string{"Nobody"},
		want: []string{
			"juliet@example.com/balcony",
			"juliet@example.com/chamber",
			"romeo@example.net/orchard",
			"tybalt@example.com/street",
		},
	},
}

func TestPushChange(t *testing.T) {
	for _, tc := range fanOutTests {
		t.Run(tc.name, func(t *testing.T) {
			tr := transporttest.New()
			b := push.New(self, testContacts, tr, nil)
			err := b.PushChange(context.Background(), "vm", "started", tc.excluded...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sent := tr.Stanzas()
			got := recipients(sent)
			if strings.Join(got, " ") != strings.Join(tc.want, " ") {
				t.Errorf("wrong recipients:\nwant=%v\n got=%v", tc.want, got)
			}
			for _, st := range sent {
				if st.Type != "headline" {
					t.Errorf("wrong message type: want=headline, got=%q", st.Type)
				}
				want := xml.Name{Space: "archipel:push:vm", Local: "x"}
				if p := st.Payload(); p != want {
					t.Errorf("wrong payload: want=%v, got=%v", want, p)
				}
				if !strings.Contains(string(st.Inner), `change="started"`) {
					t.Errorf("change attribute missing from %q", st.Inner)
				}
			}
		})
	}
}

func TestShout(t *testing.T) {
	for _, tc := range fanOutTests {
		t.Run(tc.name, func(t *testing.T) {
			tr := transporttest.New()
			b := push.New(self, testContacts, tr, nil)
			err := b.Shout(context.Background(), "news", "hello all", tc.excluded...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			sent := tr.Stanzas()
			got := recipients(sent)
			if strings.Join(got, " ") != strings.Join(tc.want, " ") {
				t.Errorf("wrong recipients:\nwant=%v\n got=%v", tc.want, got)
			}
			for _, st := range sent {
				if st.Body != "hello all" || st.Subject != "news" || st.Type != "headline" {
					t.Errorf("wrong message: %+v", st)
				}
			}
		})
	}
}

type failingSender struct {
	*transporttest.Transport
	fail  string
	tries []string
}

func (s *failingSender) Send(ctx context.Context, r xml.TokenReader) error {
	d := xml.NewTokenDecoder(r)
	st := transport.Stanza{}
	if err := d.Decode(&st); err != nil {
		return err
	}
	s.tries = append(s.tries, st.To.String())
	if st.To.String() == s.fail {
		return errors.New("send failed")
	}
	return nil
}

func TestBestEffort(t *testing.T) {
	s := &failingSender{
		Transport: transporttest.New(),
		fail:      "juliet@example.com/balcony",
	}
	b := push.New(self, testContacts, s, nil)
	err := b.PushChange(context.Background(), "vm", "started")
	if err == nil {
		t.Errorf("expected the failed send to be reported")
	}
	if len(s.tries) != 4 {
		t.Errorf("a failed send should not stop the broadcast, tried %v", s.tries)
	}
}

func TestNeverSendToSelf(t *testing.T) {
	tr := transporttest.New()
	b := push.New(jid.MustParse("agent@example.net/host"), testContacts, tr, nil)
	if err := b.Shout(context.Background(), "", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, st := range tr.Stanzas() {
		if st.To.Bare().Equal(self) {
			t.Errorf("message sent to own address %v", st.To)
		}
	}
}
