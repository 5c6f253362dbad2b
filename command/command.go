// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package command dispatches chat messages to the commands registered by the
// components of an agent.
//
// A command is found by looking for its trigger phrases anywhere in the
// message, which lets users talk to the agent in sentences instead of a strict
// syntax: a command triggered by "how are you" also runs for "so, how are
// you today?".
package command // import "mellium.im/agent/command"

import (
	"io"
	"log/slog"
	"strings"
	"sync"
)

// NotUnderstood is the reply sent when no command matches a message.
const NotUnderstood = "not understood"

// Preamble is the text at the start of every help message.
const Preamble = `
You can communicate with me using text commands, just like if you were chatting with your friends. I try to understand you as much as I can, but you have to be nice with me. Note that you can use more complex sentences than the ones in the following list. For example, if you see the command [how are you], I'll understand any sentence containing "how are you". Parameters (if any) are separated with spaces.

For example, you can send a command using the following form:
command param1 param2 param3

`

// helpTrigger always selects the help message, whatever is registered.
const helpTrigger = "help"

// HandlerFunc runs a command.
// It receives the message exactly as it was sent and returns the reply.
type HandlerFunc func(body string) string

// Param describes a parameter of a command.
type Param struct {
	Name        string
	Description string
}

// Item is a command.
type Item struct {
	// Commands are the lowercase trigger phrases of the command.
	Commands []string

	Parameters  []Param
	Handler     HandlerFunc
	Description string
}

// Registry is an ordered list of commands.
// Commands cannot be removed once registered.
//
// The zero value is an empty registry ready to use.
type Registry struct {
	mu     sync.RWMutex
	items  []Item
	logger *slog.Logger
}

// NewRegistry returns an empty registry that logs registrations to logger.
// A nil logger discards all output.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.logger
}

// Register appends items to the registry.
// No check is made for duplicate triggers: when several commands share a
// trigger the one registered first wins.
func (r *Registry) Register(items ...Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.log().Info("command registered", "commands", item.Commands)
		r.items = append(r.items, item)
	}
}

// Items returns the registered commands in registration order.
func (r *Registry) Items() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Item(nil), r.items...)
}

// Lookup returns the first command having a trigger contained in body.
// Matching is case insensitive.
func (r *Registry) Lookup(body string) (Item, bool) {
	lower := strings.ToLower(body)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, item := range r.items {
		for _, cmd := range item.Commands {
			if strings.Contains(lower, cmd) {
				return item, true
			}
		}
	}
	return Item{}, false
}

// Dispatch returns the reply to a chat message.
//
// Messages containing "help" get the help text.
// Otherwise the handler of the first matching command is called with the
// original message.
// If no command matches NotUnderstood is returned.
func (r *Registry) Dispatch(body string) string {
	if strings.Contains(strings.ToLower(body), helpTrigger) {
		return r.Help()
	}
	item, ok := r.Lookup(body)
	if !ok || item.Handler == nil {
		return NotUnderstood
	}
	return item.Handler(body)
}

// Help returns the help text listing every command in registration order.
func (r *Registry) Help() string {
	var b strings.Builder
	b.WriteString(Preamble)
	for _, item := range r.Items() {
		b.WriteString(strings.Join(item.Commands, ", "))
		b.WriteString(": ")
		b.WriteString(item.Description)
		b.WriteByte('\n')
		if len(item.Parameters) == 0 {
			b.WriteString("No parameters")
		} else {
			for i, p := range item.Parameters {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(p.Name)
				b.WriteString(": ")
				b.WriteString(p.Description)
			}
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
