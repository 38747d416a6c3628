package basic

import (
	"bytes"
	"encoding/base64"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/pionweb/pion"
	"github.com/pionweb/pion/message"
)

// serverClientPair wires a Connection (server side of a net.Pipe) to
// a plain net.Conn the test reads the response from, since
// Writer/Connection write straight to a net.Conn rather than an
// in-memory buffer.
func serverClientPair(t *testing.T) (client net.Conn, conn *pion.Connection) {
	t.Helper()
	client, server := net.Pipe()
	conn = pion.NewConnection(server, nil, nil)
	t.Cleanup(func() { client.Close() })
	return client, conn
}

// drainResponse runs fn (which writes a response via conn
// synchronously) while concurrently draining everything the peer
// writes, then closes conn so the reader sees EOF and returns what
// was written.
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

func TestBasicGateChallengesUnauthenticated(t *testing.T) {
	client, conn := serverClientPair(t)
	gate := New("realm")

	req := message.NewRequest()
	req.SetMethod("GET")
	req.SetResource("/secret")
	resp := message.NewResponse(req.Method)
	w := pion.NewWriter(conn, resp, req, 0)

	raw, proceed := drainResponse(t, client, conn, func() bool {
		return gate.HandleRequest(w, req, conn)
	})
	if !strings.HasPrefix(raw, "HTTP/1.1 401") {
		t.Fatalf("got status line in %q, want 401 prefix", raw)
	}
	if proceed {
		t.Fatalf("an unauthenticated request must not be allowed to proceed")
	}
}

func TestBasicGateAcceptsValidCredentials(t *testing.T) {
	_, conn := serverClientPair(t)
	gate := New("realm")
	gate.AddUser("alice", "hunter2")

	req := message.NewRequest()
	req.SetMethod("GET")
	req.Header.Set("Authorization", "Basic "+basicAuthValue("alice", "hunter2"))
	resp := message.NewResponse(req.Method)
	w := pion.NewWriter(conn, resp, req, 0)

	if proceed := gate.HandleRequest(w, req, conn); !proceed {
		t.Fatalf("valid credentials must be allowed to proceed")
	}
	if req.User == nil || req.User.Name != "alice" {
		t.Fatalf("expected req.User to be set to alice, got %+v", req.User)
	}
}

func TestBasicGateRejectsWrongPassword(t *testing.T) {
	client, conn := serverClientPair(t)
	gate := New("realm")
	gate.AddUser("alice", "hunter2")

	req := message.NewRequest()
	req.SetMethod("GET")
	req.Header.Set("Authorization", "Basic "+basicAuthValue("alice", "wrong"))
	resp := message.NewResponse(req.Method)
	w := pion.NewWriter(conn, resp, req, 0)

	raw, proceed := drainResponse(t, client, conn, func() bool {
		return gate.HandleRequest(w, req, conn)
	})
	if !strings.HasPrefix(raw, "HTTP/1.1 401") {
		t.Fatalf("got status line in %q, want 401 prefix", raw)
	}
	if proceed {
		t.Fatalf("wrong password must not be allowed to proceed")
	}
}

func TestSetOptionRealm(t *testing.T) {
	gate := New("initial")
	if err := gate.SetOption("realm", "changed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gate.realm != "changed" {
		t.Fatalf("realm was not updated")
	}
	if err := gate.SetOption("bogus", "x"); err == nil {
		t.Fatalf("expected an error for an unrecognised option name")
	}
}

func basicAuthValue(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
