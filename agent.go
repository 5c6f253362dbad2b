// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"mellium.im/agent/command"
	"mellium.im/agent/presence"
	"mellium.im/agent/push"
	"mellium.im/agent/register"
	"mellium.im/agent/roster"
	"mellium.im/agent/transport"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

const defaultResource = "agent"

// Identity is the account used by an agent.
type Identity struct {
	// Addr is the bare address of the account.
	Addr     jid.JID
	Resource string
	Password string
}

// Agent is an XMPP entity that keeps a session with its server and answers
// the commands it receives.
type Agent struct {
	id     Identity
	self   jid.JID
	t      transport.Transport
	logger *slog.Logger

	autoRegister  bool
	autoReconnect bool
	poll          time.Duration
	backoff       time.Duration
	exit          func(code int)
	machineIP     string
	avatar        presence.Avatar
	initHooks     []func(*Agent)
	handlerHooks  []func(*Agent, transport.Transport)

	state atomic.Uint32

	actionsMu sync.Mutex
	actions   []Action

	roster   *roster.Manager
	presence *presence.Manager
	commands *command.Registry
	push     *push.Broadcaster
}

// New creates an agent for the account addr that uses t to talk to its
// server.
// The agent starts disconnected; use Connect and Loop to run it.
func New(addr jid.JID, password string, t transport.Transport, opts ...Option) (*Agent, error) {
	if addr.Localpart() == "" {
		return nil, fmt.Errorf("agent: address %q has no localpart", addr)
	}
	a := &Agent{
		id: Identity{
			Addr:     addr.Bare(),
			Resource: addr.Resourcepart(),
			Password: password,
		},
		t:             t,
		autoRegister:  true,
		autoReconnect: true,
		poll:          DefaultPollInterval,
		backoff:       DefaultBackoff,
		exit:          os.Exit,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.id.Resource == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = defaultResource
		}
		a.id.Resource = host
	}
	self, err := a.id.Addr.WithResource(a.id.Resource)
	if err != nil {
		return nil, fmt.Errorf("agent: bad resource %q: %w", a.id.Resource, err)
	}
	a.self = self

	a.roster = roster.NewManager(self, a.logger.With("component", "roster"))
	a.presence = presence.New(self, t, a.avatar, a.logger.With("component", "presence"))
	a.commands = command.NewRegistry(a.logger.With("component", "command"))
	a.push = push.New(self, a.roster, t, a.logger.With("component", "push"))
	a.roster.SetNotifier(a.push)

	for _, f := range a.initHooks {
		f(a)
	}
	return a, nil
}

// Identity returns the account used by the agent.
func (a *Agent) Identity() Identity {
	return a.id
}

// JID returns the full address of the agent.
func (a *Agent) JID() jid.JID {
	return a.self
}

// Transport returns the transport used by the agent.
func (a *Agent) Transport() transport.Transport {
	return a.t
}

// Logger returns the logger used by the agent.
func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

// Roster returns the contacts of the agent.
func (a *Agent) Roster() *roster.Manager {
	return a.roster
}

// Presence returns the presence and identity manager of the agent.
func (a *Agent) Presence() *presence.Manager {
	return a.presence
}

// Commands returns the command registry of the agent.
func (a *Agent) Commands() *command.Registry {
	return a.commands
}

// IPAddr returns the address of the machine the agent runs on.
// If no address was configured, or it is "auto", the first address the host
// name resolves to is returned.
func (a *Agent) IPAddr(ctx context.Context) (string, error) {
	if a.machineIP != "" && a.machineIP != "auto" {
		return a.machineIP, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("agent: looking up host name: %w", err)
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("agent: resolving %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("agent: no address found for %s", host)
	}
	return addrs[0], nil
}

// fatalError is an error the agent cannot recover from.
type fatalError struct {
	err error
}

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// fatal logs err, stops the agent and calls the exit function.
// It returns err for when the exit function returns.
func (a *Agent) fatal(msg string, err error) error {
	a.logger.Error(msg, "err", err)
	a.setState(Disconnected)
	if derr := a.t.Disconnect(); derr != nil {
		a.logger.Warn("error closing transport", "err", derr)
	}
	a.exit(1)
	return fatalError{err: err}
}

// Connect opens a session and authenticates.
// If the transport is already connected Connect does nothing.
//
// Once authenticated the built in handlers and the Handlers functions are
// registered, the initial presence is sent, the roster and vCard are fetched
// and the actions registered with RegisterAuthAction are run.
//
// If the connection fails and auto-reconnect is enabled, or if the account was
// just registered, the state is set to Restarting and nil is returned: the
// next call to Loop connects again.
func (a *Agent) Connect(ctx context.Context) error {
	if a.t.IsConnected() {
		return nil
	}

	a.setState(Connecting)
	return a.connect(ctx)
}

func (a *Agent) connect(ctx context.Context) error {
	a.logger.Info("connecting", "domain", a.id.Addr.Domain())
	if err := a.t.Connect(ctx, a.id.Addr.Domain()); err != nil {
		if !a.autoReconnect {
			return a.fatal("error connecting", err)
		}
		a.logger.Warn("error connecting, will try again", "err", err)
		a.setState(Restarting)
		return nil
	}

	a.setState(Authenticating)
	err := a.t.Authenticate(ctx, a.id.Addr.Localpart(), a.id.Password, a.id.Resource)
	if err != nil {
		if !a.autoRegister {
			return a.fatal("error authenticating", err)
		}
		a.logger.Info("authentication failed, registering account", "jid", a.id.Addr, "err", err)
		return a.registerAccount(ctx)
	}
	a.logger.Info("authenticated", "jid", a.self)
	return a.ready(ctx)
}

func (a *Agent) registerAccount(ctx context.Context) error {
	a.setState(Registering)
	if err := register.Account(ctx, a.t, a.id.Addr, a.id.Password); err != nil {
		return a.fatal("registration refused", err)
	}
	a.logger.Info("account registered", "jid", a.id.Addr)
	a.setState(Restarting)
	return nil
}

func (a *Agent) registerHandlers() {
	a.roster.Register(a.t)
	a.t.Handle(transport.KindMessage, string(stanza.ChatMessage), transport.HandlerFunc(a.handleMessage))
	for _, f := range a.handlerHooks {
		f(a, a.t)
	}
}

func (a *Agent) ready(ctx context.Context) error {
	a.registerHandlers()

	if err := a.t.SendInitialPresence(ctx); err != nil {
		return a.failReady(err)
	}
	l, err := roster.Fetch(ctx, a.t)
	if err != nil {
		return a.failReady(err)
	}
	a.roster.Resync(l)
	if err := a.presence.FetchIdentity(ctx); err != nil {
		a.logger.Warn("error fetching vCard", "err", err)
	}

	if !a.transition(Authenticating, Ready) {
		return nil
	}
	a.drain(ctx)
	return nil
}

// failReady handles an error that occurred while preparing the session.
// Like a failure of Connect it is only returned if the agent will not
// restart.
func (a *Agent) failReady(err error) error {
	a.fail(Authenticating, err)
	if a.State() == Restarting {
		return nil
	}
	return err
}

// fail moves the agent out of the state from after a transport error.
// Nothing is done if the state was changed since, for instance because
// Disconnect was called by a handler.
func (a *Agent) fail(from State, err error) {
	switch {
	case transport.IsAccountRemoved(err):
		if a.transition(from, Disconnected) {
			a.logger.Info("account removed by the server, stopping", "err", err)
		}
	case !a.autoReconnect:
		if a.transition(from, Disconnected) {
			a.logger.Error("session failed", "err", err)
		}
	default:
		if a.transition(from, Restarting) {
			a.logger.Warn("session failed, restarting", "err", err)
		}
	}
}

// Disconnect closes the session and stops Loop.
// It is safe to call from a handler.
func (a *Agent) Disconnect() error {
	a.setState(Disconnected)
	a.logger.Info("disconnecting")
	return a.t.Disconnect()
}

// Unregister removes the account of the agent from the server and
// disconnects.
func (a *Agent) Unregister(ctx context.Context) error {
	a.logger.Info("removing account", "jid", a.id.Addr)
	err := register.Cancel(ctx, a.t, a.id.Addr)
	return errors.Join(err, a.Disconnect())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Agent) restart(ctx context.Context) error {
	a.logger.Info("restarting session", "backoff", a.backoff)
	// The stream may already be closed, but the connection must still be
	// released before dialing again.
	if err := a.t.Disconnect(); err != nil {
		a.logger.Warn("error closing transport", "err", err)
	}
	if err := sleep(ctx, a.backoff); err != nil {
		return nil
	}
	if !a.transition(Restarting, Connecting) {
		return nil
	}
	return a.connect(ctx)
}

// Loop delivers inbound stanzas to their handlers until the agent is
// disconnected or ctx is canceled, restarting the session when it fails.
//
// Transport errors never stop the loop unless auto-reconnect is disabled or
// the account was removed by the server; in both cases the state is set to
// Disconnected and Loop returns nil.
// A non-nil error is only returned if a fatal error occurred and the exit
// function returned.
func (a *Agent) Loop(ctx context.Context) error {
	defer func() {
		if err := a.Disconnect(); err != nil {
			a.logger.Warn("error closing transport", "err", err)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		switch st := a.State(); st {
		case Disconnected:
			return nil
		case Ready:
			err := a.t.Process(ctx, a.poll)
			if err != nil && ctx.Err() == nil {
				a.fail(Ready, err)
			}
		case Restarting:
			err := a.restart(ctx)
			var fe fatalError
			if errors.As(err, &fe) {
				return err
			}
			if err != nil {
				a.logger.Warn("error restarting session", "err", err)
			}
		default:
			// Connect is running on another goroutine.
			if err := sleep(ctx, a.backoff); err != nil {
				return nil
			}
		}
	}
}
