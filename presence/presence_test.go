// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package presence_test

import (
	"context"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"mellium.im/agent/internal/transporttest"
	"mellium.im/agent/presence"
	"mellium.im/agent/transport"
	"mellium.im/agent/vcard"
	"mellium.im/xmpp/jid"
)

var self = jid.MustParse("agent@example.net/host")

var updateName = xml.Name{Space: vcard.NSUpdate, Local: "x"}

func TestSetPresence(t *testing.T) {
	tr := transporttest.New()
	m := presence.New(self, tr, presence.Avatar{}, nil)
	ctx := context.Background()

	if err := m.SetPresence(ctx, presence.ShowDND, "busy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetStatus(ctx, "still busy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := presence.State{Show: presence.ShowDND, Status: "still busy"}
	if st := m.State(); st != want {
		t.Errorf("wrong state: want=%+v, got=%+v", want, st)
	}

	sent := tr.Stanzas()
	if len(sent) != 2 {
		t.Fatalf("wrong number of stanzas sent: want=2, got=%d", len(sent))
	}
	if sent[0].Show != "dnd" || sent[0].Status != "busy" {
		t.Errorf("wrong first presence: %+v", sent[0])
	}
	if sent[1].Show != "dnd" || sent[1].Status != "still busy" {
		t.Errorf("status only change did not keep the availability: %+v", sent[1])
	}
}

func TestSetIdentityNoAvatar(t *testing.T) {
	tr := transporttest.New()
	m := presence.New(self, tr, presence.Avatar{}, nil)
	ctx := context.Background()

	if err := m.SetIdentity(ctx, "hypervisor", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := tr.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected the vCard to be sent, got %v", sent)
	}
	if !strings.Contains(sent[0], "<TYPE>hypervisor</TYPE>") || strings.Contains(sent[0], "PHOTO") {
		t.Errorf("wrong vCard: %s", sent[0])
	}

	// The presence is only sent once the server confirms the vCard.
	if err := tr.Drain(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent = tr.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected a presence after confirmation, got %v", sent)
	}
	st := tr.Stanzas()[1]
	if st.Kind() != transport.KindPresence || st.Payload() == updateName {
		t.Errorf("wrong update presence: %s", sent[1])
	}
	if m.Card().Type != "hypervisor" {
		t.Errorf("card not stored after confirmation: %+v", m.Card())
	}
}

func TestSetIdentityAvatar(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/avatars/default.png", []byte("png data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/avatars/vm.png", []byte("other data"), 0o644); err != nil {
		t.Fatal(err)
	}
	photo := vcard.NewPhoto("image/png", []byte("png data"))

	tr := transporttest.New()
	tr.Respond = func(req transport.Stanza) (string, error) {
		if req.Type == "get" {
			return `<iq type="result" id="` + req.ID + `"><vCard xmlns="vcard-temp"><TYPE>hypervisor</TYPE><PHOTO><TYPE>image/png</TYPE><BINVAL>` + photo.BinVal + `</BINVAL></PHOTO></vCard></iq>`, nil
		}
		return "", nil
	}
	m := presence.New(self, tr, presence.Avatar{Enabled: true, Dir: "/avatars", Fs: fs}, nil)
	ctx := context.Background()

	if err := m.FetchIdentity(ctx); err != nil {
		t.Fatalf("error fetching identity: %v", err)
	}
	if m.Card().Photo.Hash() != photo.Hash() {
		t.Fatalf("fetched photo not stored")
	}

	t.Run("unchanged", func(t *testing.T) {
		tr.Reset()
		if err := m.SetIdentity(ctx, "hypervisor", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sent := tr.Stanzas()
		if len(sent) != 1 || sent[0].Kind() != transport.KindPresence {
			t.Fatalf("expected a single presence and no upload, got %v", tr.Sent())
		}
		if sent[0].Payload() != updateName || !strings.Contains(string(sent[0].Inner), photo.Hash()) {
			t.Errorf("presence does not carry the photo hash: %s", tr.Sent()[0])
		}
	})

	t.Run("type changed", func(t *testing.T) {
		tr.Reset()
		if err := m.SetIdentity(ctx, "virtualmachine", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sent := tr.Stanzas()
		if len(sent) != 1 || sent[0].Kind() != transport.KindIQ || sent[0].Type != "set" {
			t.Fatalf("expected the vCard upload for a new type, got %v", tr.Sent())
		}
		if !strings.Contains(tr.Sent()[0], "<TYPE>virtualmachine</TYPE>") {
			t.Errorf("new type not published: %s", tr.Sent()[0])
		}
		if err := tr.Drain(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c := m.Card(); c.Type != "virtualmachine" || c.Photo.Hash() != photo.Hash() {
			t.Errorf("wrong card after the upload: %+v", c)
		}
	})

	t.Run("changed", func(t *testing.T) {
		tr.Reset()
		if err := m.SetIdentity(ctx, "virtualmachine", "vm.png"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sent := tr.Stanzas()
		if len(sent) != 1 || sent[0].Kind() != transport.KindIQ || sent[0].Type != "set" {
			t.Fatalf("expected the vCard upload, got %v", tr.Sent())
		}
		if err := tr.Drain(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		sent = tr.Stanzas()
		if len(sent) != 2 || sent[1].Kind() != transport.KindPresence {
			t.Fatalf("expected a presence after the upload, got %v", tr.Sent())
		}
		newHash := vcard.NewPhoto("image/png", []byte("other data")).Hash()
		if !strings.Contains(string(sent[1].Inner), newHash) {
			t.Errorf("presence does not carry the new hash %s: %s", newHash, tr.Sent()[1])
		}
	})

	t.Run("missing", func(t *testing.T) {
		tr.Reset()
		if err := m.SetIdentity(ctx, "hypervisor", "nope.png"); err == nil {
			t.Errorf("expected an error for a missing avatar file")
		}
	})
}

func TestFetchIdentityMissing(t *testing.T) {
	tr := transporttest.New()
	tr.Respond = func(req transport.Stanza) (string, error) {
		return `<iq type="error" id="` + req.ID + `"><error type="cancel"><item-not-found xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/></error></iq>`, nil
	}
	m := presence.New(self, tr, presence.Avatar{}, nil)
	if err := m.FetchIdentity(context.Background()); err != nil {
		t.Errorf("a missing vCard should not be an error, got %v", err)
	}
}
