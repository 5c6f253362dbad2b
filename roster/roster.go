// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package roster implements the contact list of an agent.
//
// A List mirrors the roster stored on the server and issues the roster and
// subscription requests that change it.
// A Manager sits on top of the List: it answers subscription requests from
// peers, tracks which resources of each contact are online and notifies the
// other contacts when somebody is added.
package roster // import "mellium.im/agent/roster"

import (
	"encoding/xml"

	"mellium.im/xmpp/roster"
)

// Namespaces used by this package provided as a convenience.
const (
	NS = roster.NS
)

// Subscription states of a roster item.
const (
	SubNone   = "none"
	SubTo     = "to"
	SubFrom   = "from"
	SubBoth   = "both"
	SubRemove = "remove"
)

// IQ represents a user roster request or response.
// Unlike a stanza.IQ its type must always be set.
type IQ = roster.IQ

// Item represents a contact in the roster.
type Item = roster.Item

// query is the payload of roster responses and pushes.
type query struct {
	XMLName xml.Name `xml:"jabber:iq:roster query"`
	Ver     string   `xml:"ver,attr"`
	Item    []Item   `xml:"item"`
}

// InGroup reports whether item belongs to any of the groups.
func InGroup(item Item, groups ...string) bool {
	for _, g := range groups {
		for _, ig := range item.Group {
			if g == ig {
				return true
			}
		}
	}
	return false
}
