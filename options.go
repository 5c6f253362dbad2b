// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package agent

import (
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"mellium.im/agent/config"
	"mellium.im/agent/transport"
)

// Default intervals used by the session loop.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultBackoff      = 5 * time.Second
)

// Option is used to configure an agent.
type Option func(*Agent)

// AutoRegister makes the agent register its account in-band when
// authentication fails.
// It is enabled by default.
func AutoRegister(enabled bool) Option {
	return func(a *Agent) {
		a.autoRegister = enabled
	}
}

// AutoReconnect makes the agent reconnect when the session fails instead of
// stopping.
// It is enabled by default.
func AutoReconnect(enabled bool) Option {
	return func(a *Agent) {
		a.autoReconnect = enabled
	}
}

// The Logger option sets the logger used by the agent and all of its
// components.
// By default nothing is logged.
func Logger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// Resource sets the resource bound by the agent.
// It defaults to the host name.
func Resource(resource string) Option {
	return func(a *Agent) {
		a.id.Resource = resource
	}
}

// PollInterval sets the maximum time spent waiting for inbound stanzas in one
// iteration of the loop.
func PollInterval(d time.Duration) Option {
	return func(a *Agent) {
		a.poll = d
	}
}

// Backoff sets the time waited before reconnecting.
func Backoff(d time.Duration) Option {
	return func(a *Agent) {
		a.backoff = d
	}
}

// Exit sets the function called after a fatal error.
// It defaults to os.Exit.
func Exit(f func(code int)) Option {
	return func(a *Agent) {
		a.exit = f
	}
}

// Init registers a function called once when the agent is created.
// Init functions are called in the order the options were given.
func Init(f func(*Agent)) Option {
	return func(a *Agent) {
		a.initHooks = append(a.initHooks, f)
	}
}

// Handlers registers a function called after each successful authentication,
// once the built in handlers are registered on t.
// Handlers functions are called in the order the options were given.
func Handlers(f func(a *Agent, t transport.Transport)) Option {
	return func(a *Agent) {
		a.handlerHooks = append(a.handlerHooks, f)
	}
}

// AvatarFs sets the file system avatars are read from.
// It defaults to the operating system file system.
func AvatarFs(fs afero.Fs) Option {
	return func(a *Agent) {
		a.avatar.Fs = fs
	}
}

// Config applies the [global] table of c: the machine address and the avatar
// settings.
func Config(c *config.Config) Option {
	return func(a *Agent) {
		a.machineIP = c.MachineIP()
		a.avatar.Enabled = c.UseAvatar()
		a.avatar.Dir = c.AvatarDir()
	}
}
