// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package agent

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"

	"mellium.im/agent/command"
	"mellium.im/agent/push"
	"mellium.im/agent/transport"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/stanza"
)

// RegisterCommands adds items to the commands answered by the agent.
func (a *Agent) RegisterCommands(items ...command.Item) {
	a.commands.Register(items...)
}

// isPush reports whether the stanza carries a push notification.
func isPush(s transport.Stanza) bool {
	d := xml.NewDecoder(bytes.NewReader(s.Inner))
	for {
		tok, err := d.Token()
		if err != nil {
			return false
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if strings.HasPrefix(start.Name.Space, push.NS) {
			return true
		}
		if err := d.Skip(); err != nil {
			return false
		}
	}
}

func text(local, value string) xml.TokenReader {
	return xmlstream.Wrap(
		xmlstream.Token(xml.CharData(value)),
		xml.StartElement{Name: xml.Name{Local: local}},
	)
}

// handleMessage answers chat messages with the output of the command they
// trigger.
// Messages without a body and push notifications are passed on.
func (a *Agent) handleMessage(ctx context.Context, s transport.Stanza) transport.Result {
	if s.Body == "" || isPush(s) {
		return transport.PassThrough
	}
	a.logger.Debug("chat message received", "from", s.From, "body", s.Body)

	answer := a.commands.Dispatch(s.Body)
	inner := []xml.TokenReader{text("body", answer)}
	if s.Thread != "" {
		inner = append(inner, text("thread", s.Thread))
	}
	reply := stanza.Message{
		ID:   transport.NewID(),
		To:   s.From,
		From: a.self,
		Type: stanza.ChatMessage,
	}
	if err := a.t.Send(ctx, reply.Wrap(xmlstream.MultiReader(inner...))); err != nil {
		a.logger.Error("error sending reply", "to", s.From, "err", err)
	}
	return transport.Handled
}
