// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package vcard implements the parts of XEP-0054: vcard-temp and XEP-0153:
// vCard-Based Avatars used to publish the identity of an agent.
package vcard // import "mellium.im/agent/vcard"

import (
	"crypto/sha1" // #nosec G505 -- XEP-0153 mandates SHA-1
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"strings"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/stanza"
)

// Namespaces used by this package provided as a convenience.
const (
	NS       = "vcard-temp"
	NSUpdate = "vcard-temp:x:update"
)

// Photo is an avatar.
type Photo struct {
	Type   string `xml:"TYPE,omitempty"`
	BinVal string `xml:"BINVAL,omitempty"`
}

// NewPhoto encodes data as a photo of the given media type.
func NewPhoto(mediaType string, data []byte) *Photo {
	return &Photo{
		Type:   mediaType,
		BinVal: base64.StdEncoding.EncodeToString(data),
	}
}

// Hash returns the hex encoded SHA-1 of the decoded image data.
// If BINVAL is not valid base64 the empty string is returned.
func (p *Photo) Hash() string {
	if p == nil {
		return ""
	}
	// Servers may wrap the encoded data.
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(p.BinVal), ""))
	if err != nil {
		return ""
	}
	/* #nosec */
	h := sha1.Sum(data)
	return hex.EncodeToString(h[:])
}

// Card is a vCard.
// Only the fields used by agents are supported.
type Card struct {
	XMLName xml.Name `xml:"vcard-temp vCard"`
	Type    string   `xml:"TYPE,omitempty"`
	Photo   *Photo   `xml:"PHOTO,omitempty"`
}

func text(local, value string) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(value)),
		xml.StartElement{Name: xml.Name{Local: local}},
	)
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (c Card) TokenReader() xml.TokenReader {
	var inner []xml.TokenReader
	if c.Type != "" {
		inner = append(inner, text("TYPE", c.Type))
	}
	if c.Photo != nil {
		inner = append(inner, xmlstream.Wrap(
			xmlstream.MultiReader(
				text("TYPE", c.Photo.Type),
				text("BINVAL", c.Photo.BinVal),
			),
			xml.StartElement{Name: xml.Name{Local: "PHOTO"}},
		))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(inner...),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "vCard"}},
	)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (c Card) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, c.TokenReader())
}

// GetIQ returns a request for the vCard of the entity the IQ is addressed to.
func GetIQ(iq stanza.IQ) xml.TokenReader {
	iq.Type = stanza.GetIQ
	return iq.Wrap(xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: NS, Local: "vCard"}}))
}

// SetIQ returns a request publishing c.
func SetIQ(iq stanza.IQ, c Card) xml.TokenReader {
	iq.Type = stanza.SetIQ
	return iq.Wrap(c.TokenReader())
}

// Update is the presence payload advertising the hash of the current avatar.
// An empty hash advertises that the vCard changed without an avatar.
type Update struct {
	Photo string
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (u Update) TokenReader() xml.TokenReader {
	var photo xml.TokenReader
	if u.Photo != "" {
		photo = text("photo", u.Photo)
	}
	return xmlstream.Wrap(photo, xml.StartElement{Name: xml.Name{Space: NSUpdate, Local: "x"}})
}
