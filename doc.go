// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package agent implements the base of an autonomous XMPP agent.
//
// An Agent owns a single connection to its server and keeps it alive.
// It authenticates (registering the account in-band if it does not exist yet),
// publishes its presence and vCard, keeps its roster and answers chat messages
// by dispatching them to the commands registered with RegisterCommands.
//
//
// Session Lifecycle
//
// The life of an agent is driven by two calls: Connect, which establishes the
// session, and Loop, which delivers inbound stanzas to their handlers and
// recovers from transport failures until the agent is disconnected:
//
//     a, err := agent.New(addr, pass, transport.NewSession(logger),
//         agent.Logger(logger),
//         agent.AutoReconnect(true),
//     )
//     if err != nil {
//         // handle error
//     }
//     err = a.Connect(ctx)
//     if err != nil {
//         // handle error
//     }
//     err = a.Loop(ctx)
//
// All handlers run on the goroutine calling Loop.
// The session moves through the states Disconnected, Connecting,
// Authenticating, Registering, Ready and Restarting; the current state is
// reported by State.
// Failures that cannot be recovered from (authentication refused without
// auto-registration, registration refused and connection failures without
// auto-reconnect) are fatal: they are logged and the exit function, os.Exit by
// default, is called.
//
//
// Extending Agents
//
// Components built on top of an agent register themselves with the Init and
// Handlers options.
// Init functions run once when the agent is created; Handlers functions run
// after every successful authentication, once the built in handlers are
// registered, so that they can register their own stanza handlers on the new
// session.
// Work that needs a ready session can be deferred with RegisterAuthAction.
package agent // import "mellium.im/agent"
