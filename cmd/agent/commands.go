// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mellium.im/agent"
	"mellium.im/agent/command"
	"mellium.im/agent/presence"
)

const (
	lookupTimeout = 5 * time.Second
	statusTrigger = "status"
)

// argument returns what follows trigger in body.
// Triggers are matched case insensitively.
func argument(body, trigger string) string {
	lower := strings.ToLower(body)
	if len(lower) != len(body) {
		lower = body
	}
	i := strings.Index(lower, trigger)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(body[i+len(trigger):])
}

// registerCommands adds the commands understood by every agent.
func registerCommands(a *agent.Agent) {
	a.RegisterCommands(
		command.Item{
			Commands:    []string{"how are you", "hello"},
			Description: "Check that I am alive",
			Handler: func(string) string {
				return "I'm fine, thanks."
			},
		},
		command.Item{
			Commands:    []string{"ping"},
			Description: "Answer pong",
			Handler: func(string) string {
				return "pong"
			},
		},
		command.Item{
			Commands:    []string{"ip address", "your ip"},
			Description: "Give the address of the machine I run on",
			Handler: func(string) string {
				ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
				defer cancel()
				ip, err := a.IPAddr(ctx)
				if err != nil {
					return fmt.Sprintf("I could not find my address: %v", err)
				}
				return ip
			},
		},
		command.Item{
			Commands:    []string{statusTrigger},
			Description: "Set my status message",
			Parameters: []command.Param{
				{Name: "message", Description: "the new status message"},
			},
			Handler: func(body string) string {
				status := argument(body, statusTrigger)
				if status == "" {
					return fmt.Sprintf("my status is %q", a.Presence().State().Status)
				}
				if err := a.SetPresence(context.Background(), presence.ShowAvailable, status); err != nil {
					return fmt.Sprintf("I could not change my status: %v", err)
				}
				return "status changed"
			},
		},
	)
}
