package cookie

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/pionweb/pion"
	"github.com/pionweb/pion/message"
)

func serverClientPair(t *testing.T) (client net.Conn, conn *pion.Connection) {
	t.Helper()
	client, server := net.Pipe()
	conn = pion.NewConnection(server, nil, nil)
	t.Cleanup(func() { client.Close() })
	return client, conn
}

func drainResponse(t *testing.T, client net.Conn, conn *pion.Connection, fn func() bool) (string, bool) {
	t.Helper()
	var buf bytes.Buffer
	readDone := make(chan struct{})
	go func() {
		io.Copy(&buf, client)
		close(readDone)
	}()
	proceed := fn()
	conn.Close()
	<-readDone
	return buf.String(), proceed
}

func newGateForTest() *Gate {
	g := New("/login", "/logout", "/")
	t := g // close over for cleanup isn't needed; sweep goroutine is harmless for a short-lived test
	_ = t
	return g
}

func TestCookieGateRedirectsWithoutSession(t *testing.T) {
	client, conn := serverClientPair(t)
	g := newGateForTest()
	defer g.Close()

	req := message.NewRequest()
	req.SetMethod("GET")
	req.SetResource("/dashboard")
	resp := message.NewResponse(req.Method)
	w := pion.NewWriter(conn, resp, req, 0)

	raw, proceed := drainResponse(t, client, conn, func() bool {
		return g.HandleRequest(w, req, conn)
	})
	if proceed {
		t.Fatalf("a request with no session cookie must not be allowed to proceed")
	}
	if !strings.HasPrefix(raw, "HTTP/1.1 303") || !strings.Contains(raw, "Location: /login") {
		t.Fatalf("got %q, want a 303 redirect to /login", raw)
	}
}

func TestCookieGateLoginThenAuthenticated(t *testing.T) {
	g := newGateForTest()
	defer g.Close()
	g.AddUser("alice", "hunter2")

	// Login exchanges credentials for a session token.
	client1, conn1 := serverClientPair(t)
	loginReq := message.NewRequest()
	loginReq.SetMethod("GET")
	loginReq.SetResource("/login")
	loginReq.QueryParams.Add("user", "alice")
	loginReq.QueryParams.Add("password", "hunter2")
	loginResp := message.NewResponse(loginReq.Method)
	loginW := pion.NewWriter(conn1, loginResp, loginReq, 0)

	raw, proceed := drainResponse(t, client1, conn1, func() bool {
		return g.HandleRequest(loginW, loginReq, conn1)
	})
	if proceed {
		t.Fatalf("the login resource itself must never be allowed to proceed to a handler")
	}
	if !strings.HasPrefix(raw, "HTTP/1.1 303") {
		t.Fatalf("got %q, want a 303 on successful login", raw)
	}
	token := extractSessionToken(raw)
	if token == "" {
		t.Fatalf("expected a Set-Cookie session token in %q", raw)
	}

	// Now replay the token on a protected resource.
	_, conn2 := serverClientPair(t)
	req := message.NewRequest()
	req.SetMethod("GET")
	req.SetResource("/dashboard")
	req.Cookies.Add(sessionCookieName, token)
	resp := message.NewResponse(req.Method)
	w := pion.NewWriter(conn2, resp, req, 0)

	if ok := g.HandleRequest(w, req, conn2); !ok {
		t.Fatalf("a request carrying a valid session token must be allowed to proceed")
	}
	if req.User == nil || req.User.Name != "alice" {
		t.Fatalf("expected req.User to be alice, got %+v", req.User)
	}
}

func TestCookieGateRejectsBadCredentials(t *testing.T) {
	client, conn := serverClientPair(t)
	g := newGateForTest()
	defer g.Close()
	g.AddUser("alice", "hunter2")

	req := message.NewRequest()
	req.SetMethod("GET")
	req.SetResource("/login")
	req.QueryParams.Add("user", "alice")
	req.QueryParams.Add("password", "wrong")
	resp := message.NewResponse(req.Method)
	w := pion.NewWriter(conn, resp, req, 0)

	raw, _ := drainResponse(t, client, conn, func() bool {
		return g.HandleRequest(w, req, conn)
	})
	if !strings.HasPrefix(raw, "HTTP/1.1 401") {
		t.Fatalf("got %q, want 401 for bad credentials", raw)
	}
}

func TestSetOptionRecognisedNames(t *testing.T) {
	g := newGateForTest()
	defer g.Close()
	for _, name := range []string{"login", "logout", "redirect"} {
		if err := g.SetOption(name, "/x"); err != nil {
			t.Fatalf("SetOption(%q) unexpected error: %v", name, err)
		}
	}
	if err := g.SetOption("bogus", "x"); err == nil {
		t.Fatalf("expected an error for an unrecognised option name")
	}
}

func extractSessionToken(raw string) string {
	idx := strings.Index(raw, sessionCookieName+"=")
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(sessionCookieName)+1:]
	if end := strings.IndexAny(rest, ";\r\n"); end >= 0 {
		return rest[:end]
	}
	return rest
}
