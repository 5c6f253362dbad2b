// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package vcard_test

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"testing"

	"mellium.im/agent/vcard"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/stanza"
)

var (
	_ xmlstream.WriterTo  = vcard.Card{}
	_ xmlstream.Marshaler = vcard.Card{}
	_ xmlstream.Marshaler = vcard.Update{}
)

func encode(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	if _, err := xmlstream.Copy(e, r); err != nil {
		t.Fatalf("error encoding: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("error flushing: %v", err)
	}
	return buf.String()
}

var encodeTestCases = [...]struct {
	r   xml.TokenReader
	out string
}{
	0: {
		r:   vcard.Card{}.TokenReader(),
		out: `<vCard xmlns="vcard-temp"></vCard>`,
	},
	1: {
		r:   vcard.Card{Type: "hypervisor"}.TokenReader(),
		out: `<vCard xmlns="vcard-temp"><TYPE>hypervisor</TYPE></vCard>`,
	},
	2: {
		r:   vcard.Card{Type: "vm", Photo: &vcard.Photo{Type: "image/png", BinVal: "AAAA"}}.TokenReader(),
		out: `<vCard xmlns="vcard-temp"><TYPE>vm</TYPE><PHOTO><TYPE>image/png</TYPE><BINVAL>AAAA</BINVAL></PHOTO></vCard>`,
	},
	3: {
		r:   vcard.Update{}.TokenReader(),
		out: `<x xmlns="vcard-temp:x:update"></x>`,
	},
	4: {
		r:   vcard.Update{Photo: "abc"}.TokenReader(),
		out: `<x xmlns="vcard-temp:x:update"><photo>abc</photo></x>`,
	},
}

func TestEncode(t *testing.T) {
	for i, tc := range encodeTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if out := encode(t, tc.r); out != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, out)
			}
		})
	}
}

func TestIQ(t *testing.T) {
	get := encode(t, vcard.GetIQ(stanza.IQ{ID: "1", Type: stanza.SetIQ}))
	set := encode(t, vcard.SetIQ(stanza.IQ{ID: "2"}, vcard.Card{Type: "vm"}))
	for _, tc := range [...]struct {
		out  string
		want []string
	}{
		{out: get, want: []string{`type="get"`, `id="1"`, `<vCard xmlns="vcard-temp"></vCard></iq>`}},
		{out: set, want: []string{`type="set"`, `id="2"`, `<vCard xmlns="vcard-temp"><TYPE>vm</TYPE></vCard></iq>`}},
	} {
		for _, w := range tc.want {
			if !strings.Contains(tc.out, w) {
				t.Errorf("%s does not contain %s", tc.out, w)
			}
		}
	}
}

func TestDecode(t *testing.T) {
	const in = `<vCard xmlns="vcard-temp"><FN>Agent</FN><TYPE>vm</TYPE><PHOTO><TYPE>image/png</TYPE><BINVAL>AAAA</BINVAL></PHOTO></vCard>`
	c := vcard.Card{}
	if err := xml.Unmarshal([]byte(in), &c); err != nil {
		t.Fatalf("error decoding: %v", err)
	}
	if c.Type != "vm" || c.Photo == nil || c.Photo.BinVal != "AAAA" || c.Photo.Type != "image/png" {
		t.Errorf("wrong card: %+v", c)
	}
}

func TestPhotoHash(t *testing.T) {
	var nilPhoto *vcard.Photo
	if h := nilPhoto.Hash(); h != "" {
		t.Errorf("nil photo has a hash: %q", h)
	}

	p := vcard.NewPhoto("image/png", []byte("hello"))
	if p.BinVal != "aGVsbG8=" {
		t.Errorf("wrong encoding: %q", p.BinVal)
	}
	// SHA-1 of "hello"
	const want = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"
	if h := p.Hash(); h != want {
		t.Errorf("wrong hash: want=%s, got=%s", want, h)
	}
	if p.Hash() != vcard.NewPhoto("image/jpeg", []byte("hello")).Hash() {
		t.Errorf("hash depends on the media type")
	}
	if p.Hash() == vcard.NewPhoto("image/png", []byte("hello!")).Hash() {
		t.Errorf("different photos have the same hash")
	}
	wrapped := &vcard.Photo{BinVal: "aGVs\nbG8="}
	if h := wrapped.Hash(); h != want {
		t.Errorf("wrong hash of wrapped data: want=%s, got=%s", want, h)
	}
	bad := &vcard.Photo{BinVal: "not base64!"}
	if h := bad.Hash(); h != "" {
		t.Errorf("invalid data has a hash: %q", h)
	}
}
