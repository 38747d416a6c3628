/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package pion

import (
	"sort"
	"strings"
	"sync"

	"github.com/pionweb/pion/message"
)

// Handler answers one request by writing a response through w. It differs from the teacher's net/http-shaped Handler in
// that both sides are message.Message values; Writer plays the role
// of ResponseWriter.
type Handler func(w *Writer, req *message.Message)

// Gate is the authentication contract a resource may require (spec
// §4.7, C7: "handle_request(req, conn) -> bool"). It decides whether
// req may proceed; if it returns false it has already produced the
// response itself (401, 403, or a redirect to a login resource) and
// the server must stop processing.
type Gate interface {
	HandleRequest(w *Writer, req *message.Message, conn *Connection) (proceed bool)
	// SetOption configures the gate. Recognised names are a closed
	// set per gate kind: {login, logout, redirect} for a
	// cookie gate, {realm} for a basic gate. An unrecognised name is
	// an error.
	SetOption(name, value string) error
}

type resourceEntry struct {
	pattern string
	handler Handler
	gate    Gate
}

// redirectEntry is one row of the redirect table.
type redirectEntry struct {
	from string
	to   string
}

// Router implements the longest-prefix-with-boundary matching rule of
// spec §4.6 — distinct from net/http's ServeMux, which additionally
// redirects a bare subtree root to its trailing-slash form. Pattern P
// matches resource R iff R has P as a prefix and either R and P have
// equal length, or the next character of R (at index len(P)) is '/'.
type Router struct {
	mu        sync.RWMutex
	resources []resourceEntry // kept sorted by descending pattern length
	redirects map[string]string
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{redirects: make(map[string]string)}
}

// AddResource registers handler (optionally gated) for pattern. Re-registering an existing pattern replaces
// its handler and gate.
func (rt *Router) AddResource(pattern string, handler Handler, gate Gate) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, e := range rt.resources {
		if e.pattern == pattern {
			rt.resources[i] = resourceEntry{pattern, handler, gate}
			return
		}
	}
	rt.resources = append(rt.resources, resourceEntry{pattern, handler, gate})
	sort.Slice(rt.resources, func(i, j int) bool {
		return len(rt.resources[i].pattern) > len(rt.resources[j].pattern)
	})
}

// RemoveResource unregisters pattern.
func (rt *Router) RemoveResource(pattern string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, e := range rt.resources {
		if e.pattern == pattern {
			rt.resources = append(rt.resources[:i], rt.resources[i+1:]...)
			return
		}
	}
}

// AddRedirect registers a from→to redirect.
func (rt *Router) AddRedirect(from, to string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.redirects[from] = to
}

// maxRedirectHops bounds chained-redirect resolution.
const maxRedirectHops = 10

// Resolve follows the redirect table from resource until it settles
// or the hop cap is hit, returning the final resource and whether the
// cap was exceeded.
func (rt *Router) Resolve(resource string) (final string, looped bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	cur := resource
	for i := 0; i < maxRedirectHops; i++ {
		next, ok := rt.redirects[cur]
		if !ok {
			return cur, false
		}
		cur = next
	}
	_, more := rt.redirects[cur]
	return cur, more
}

// Match finds the longest registered pattern that is a
// prefix-with-boundary of resource, per spec §4.6's matching rule.
func (rt *Router) Match(resource string) (handler Handler, gate Gate, pattern string, ok bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, e := range rt.resources {
		if matchesBoundary(e.pattern, resource) {
			return e.handler, e.gate, e.pattern, true
		}
	}
	return nil, nil, "", false
}

// matchesBoundary implements spec §4.6's exact rule: pattern matches
// resource iff resource starts with pattern and either they are equal
// length, or the byte immediately after the shared prefix is '/'.
func matchesBoundary(pattern, resource string) bool {
	if !strings.HasPrefix(resource, pattern) {
		return false
	}
	if len(resource) == len(pattern) {
		return true
	}
	return resource[len(pattern)] == '/'
}
