// Package cookie implements a cookie-session auth gate: a login
// resource that exchanges credentials for a session cookie, a logout
// resource that clears it, and a redirect resource unauthenticated
// requests are sent to. Session tokens are opaque google/uuid values
// held in an in-memory store with an expiration sweep and a maximum
// entry count.
package cookie

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pionweb/pion"
	"github.com/pionweb/pion/hdr"
	"github.com/pionweb/pion/message"
)

const sessionCookieName = "pion_session"

// defaultTTL is how long a session stays valid since its last use.
const defaultTTL = 30 * time.Minute

// maxSessions caps the in-memory store so an attacker flooding login
// attempts can't grow it without bound.
const maxSessions = 10000

type session struct {
	user    string
	expires time.Time
}

// Gate is a cookie-session gate. The zero value is not usable; use
// New.
type Gate struct {
	login    string
	logout   string
	redirect string

	mu    sync.Mutex
	users map[string]string

	sessMu   sync.Mutex
	sessions map[string]session

	stopSweep chan struct{}
}

// New returns a Gate with the given login/logout/redirect resources
// already set, and starts its background expiration sweep.
func New(login, logout, redirect string) *Gate {
	g := &Gate{
		login:     login,
		logout:    logout,
		redirect:  redirect,
		users:     make(map[string]string),
		sessions:  make(map[string]session),
		stopSweep: make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

// Close stops the background expiration sweep.
func (g *Gate) Close() { close(g.stopSweep) }

// SetOption configures the gate. Recognised names are login, logout
// and redirect.
func (g *Gate) SetOption(name, value string) error {
	switch name {
	case "login":
		g.login = value
	case "logout":
		g.logout = value
	case "redirect":
		g.redirect = value
	default:
		return fmt.Errorf("cookie: unrecognised option %q", name)
	}
	return nil
}

// AddUser adds (or replaces) a credential in the gate's in-memory
// user store.
func (g *Gate) AddUser(name, password string) {
	g.mu.Lock()
	g.users[name] = password
	g.mu.Unlock()
}

func (g *Gate) checkCredentials(name, password string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	want, ok := g.users[name]
	return ok && want == password
}

// HandleRequest implements pion.Gate.
func (g *Gate) HandleRequest(w *pion.Writer, req *message.Message, conn *pion.Connection) bool {
	switch req.Resource {
	case g.logout:
		g.handleLogout(w, req)
		return false
	case g.login:
		g.handleLogin(w, req)
		return false
	}

	token := req.Cookies.Get(sessionCookieName)
	if token == "" {
		g.redirectToLogin(w)
		return false
	}
	user, ok := g.touchSession(token)
	if !ok {
		g.redirectToLogin(w)
		return false
	}
	req.User = &message.AuthenticatedUser{Name: user}
	return true
}

func (g *Gate) handleLogin(w *pion.Writer, req *message.Message) {
	name := req.QueryParams.Get("user")
	password := req.QueryParams.Get("password")
	if !g.checkCredentials(name, password) {
		resp := w.Message()
		resp.SetStatus(401, "Unauthorized")
		resp.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
		w.WriteString("login failed\n")
		w.Send()
		return
	}
	token := g.newSession(name)
	resp := w.Message()
	resp.SetStatus(303, "See Other")
	resp.Header.Set(hdr.Location, g.redirect)
	resp.Header.Add(hdr.SetCookieHeader, (&message.SetCookie{
		Name: sessionCookieName, Value: token, Path: "/", HTTPOnly: true,
		MaxAge: int(defaultTTL.Seconds()),
	}).String())
	w.Send()
}

func (g *Gate) handleLogout(w *pion.Writer, req *message.Message) {
	if token := req.Cookies.Get(sessionCookieName); token != "" {
		g.sessMu.Lock()
		delete(g.sessions, token)
		g.sessMu.Unlock()
	}
	resp := w.Message()
	resp.SetStatus(303, "See Other")
	resp.Header.Set(hdr.Location, g.login)
	resp.Header.Add(hdr.SetCookieHeader, (&message.SetCookie{
		Name: sessionCookieName, Value: "", Path: "/", MaxAge: -1,
	}).String())
	w.Send()
}

func (g *Gate) redirectToLogin(w *pion.Writer) {
	resp := w.Message()
	resp.SetStatus(303, "See Other")
	resp.Header.Set(hdr.Location, g.login)
	w.Send()
}

func (g *Gate) newSession(user string) string {
	token := uuid.NewString()
	g.sessMu.Lock()
	defer g.sessMu.Unlock()
	if len(g.sessions) >= maxSessions {
		g.evictOldestLocked()
	}
	g.sessions[token] = session{user: user, expires: time.Now().Add(defaultTTL)}
	return token
}

func (g *Gate) touchSession(token string) (user string, ok bool) {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()
	s, found := g.sessions[token]
	if !found || time.Now().After(s.expires) {
		delete(g.sessions, token)
		return "", false
	}
	s.expires = time.Now().Add(defaultTTL)
	g.sessions[token] = s
	return s.user, true
}

// evictOldestLocked drops one expired-or-arbitrary entry to make room
// under maxSessions. g.sessMu must be held.
func (g *Gate) evictOldestLocked() {
	now := time.Now()
	for token, s := range g.sessions {
		if now.After(s.expires) {
			delete(g.sessions, token)
			return
		}
	}
	for token := range g.sessions {
		delete(g.sessions, token)
		return
	}
}

func (g *Gate) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweepExpired()
		case <-g.stopSweep:
			return
		}
	}
}

func (g *Gate) sweepExpired() {
	now := time.Now()
	g.sessMu.Lock()
	for token, s := range g.sessions {
		if now.After(s.expires) {
			delete(g.sessions, token)
		}
	}
	g.sessMu.Unlock()
}
