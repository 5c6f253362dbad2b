// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"sync"
)

type route struct {
	kind Kind
	typ  string
	h    Handler
}

// Router is a handler table.
// Handlers are tried in registration order until one of them returns Handled.
//
// The zero value is an empty router ready to use.
type Router struct {
	mu     sync.Mutex
	routes []route
}

// Handle registers h for the given kind and type.
// An empty typ matches every type.
func (r *Router) Handle(kind Kind, typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{kind: kind, typ: typ, h: h})
}

// HandleFunc registers f for the given kind and type.
func (r *Router) HandleFunc(kind Kind, typ string, f HandlerFunc) {
	r.Handle(kind, typ, f)
}

// Reset removes all handlers.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = nil
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routes)
}

// Dispatch calls the matching handlers for s and reports whether any of them
// returned Handled.
func (r *Router) Dispatch(ctx context.Context, s Stanza) bool {
	// Copy the table so that handlers may register more handlers.
	r.mu.Lock()
	routes := make([]route, len(r.routes))
	copy(routes, r.routes)
	r.mu.Unlock()

	kind := s.Kind()
	for _, rt := range routes {
		if rt.kind != kind {
			continue
		}
		if rt.typ != "" && rt.typ != s.Type {
			continue
		}
		if rt.h.HandleStanza(ctx, s) == Handled {
			return true
		}
	}
	return false
}
