// Package basic implements an HTTP Basic auth gate:
// a realm, an in-memory username/password store populated from the
// redirect-config file's `user` command, and a handler that answers
// unauthenticated requests with 401 and a WWW-Authenticate challenge.
package basic

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/pionweb/pion"
	"github.com/pionweb/pion/hdr"
	"github.com/pionweb/pion/message"
)

// Gate is a basic-auth gate. The zero value is not usable; use New.
type Gate struct {
	mu    sync.RWMutex
	realm string
	users map[string]string
}

// New returns a Gate challenging clients for the given realm.
func New(realm string) *Gate {
	return &Gate{realm: realm, users: make(map[string]string)}
}

// SetOption configures the gate. "realm" is the only recognised
// option name.
func (g *Gate) SetOption(name, value string) error {
	if name != "realm" {
		return fmt.Errorf("basic: unrecognised option %q", name)
	}
	g.mu.Lock()
	g.realm = value
	g.mu.Unlock()
	return nil
}

// AddUser adds (or replaces) a credential in the gate's in-memory
// store.
func (g *Gate) AddUser(name, password string) {
	g.mu.Lock()
	g.users[name] = password
	g.mu.Unlock()
}

// HandleRequest implements pion.Gate.
func (g *Gate) HandleRequest(w *pion.Writer, req *message.Message, conn *pion.Connection) bool {
	user, pass, ok := parseBasicAuth(req.Header.Get(hdr.Authorization))
	if ok && g.check(user, pass) {
		req.User = &message.AuthenticatedUser{Name: user}
		return true
	}
	g.challenge(w)
	return false
}

func (g *Gate) check(user, pass string) bool {
	g.mu.RLock()
	want, ok := g.users[user]
	g.mu.RUnlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1
}

func (g *Gate) challenge(w *pion.Writer) {
	g.mu.RLock()
	realm := g.realm
	g.mu.RUnlock()
	resp := w.Message()
	resp.SetStatus(401, "Unauthorized")
	resp.Header.Set(hdr.WWWAuthenticate, fmt.Sprintf("Basic realm=%q", realm))
	resp.Header.Set(hdr.ContentType, "text/plain; charset=utf-8")
	w.WriteString("401 Unauthorized\n")
	w.Send()
}

// parseBasicAuth decodes the "Basic base64(user:pass)" Authorization
// header value, the same grammar net/http's Request.BasicAuth parses.
func parseBasicAuth(auth string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth[len(prefix):])
	if err != nil {
		return "", "", false
	}
	s := string(decoded)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
