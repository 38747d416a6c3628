/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package pion

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pionweb/pion/core"
	"github.com/pionweb/pion/hdr"
	"github.com/pionweb/pion/message"
	"github.com/pionweb/pion/parser"
	"github.com/pionweb/pion/scheduler"
)

// Server is the dispatcher of spec §4.6 (C6): it owns the routing
// table, the redirect table, an optional auth gate, the default
// handlers, and the accept loop that feeds connections to the
// scheduler.
type Server struct {
	Addr             string
	TLSConfig        *tls.Config
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxContentLength int64

	// PrivilegeUser, if set, is the unprivileged account the process
	// drops to immediately after binding a port below 1024.
	PrivilegeUser string

	// BeforeStarting runs after bind+listen but before the accept
	// loop starts.
	BeforeStarting func()

	router *Router
	auth   Gate

	badRequestHandler       Handler
	notFoundHandler         Handler
	methodNotAllowedHandler Handler
	forbiddenHandler        Handler
	serverErrorHandler      Handler

	sched *scheduler.Scheduler
	log   logrus.FieldLogger

	listener net.Listener

	mu       sync.Mutex
	conns    map[*Connection]struct{}
	draining bool
	noConns  *sync.Cond

	wg sync.WaitGroup
}

// NewServer creates a Server listening on addr, driven by sched. log
// may be nil to use logrus.StandardLogger().
func NewServer(addr string, sched *scheduler.Scheduler, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		Addr:             addr,
		MaxContentLength: 0, // 0 selects parser's default
		router:           NewRouter(),
		sched:            sched,
		log:              log,
		conns:            make(map[*Connection]struct{}),
	}
	s.noConns = sync.NewCond(&s.mu)
	s.badRequestHandler = defaultBadRequestHandler
	s.notFoundHandler = defaultNotFoundHandler
	s.methodNotAllowedHandler = defaultMethodNotAllowedHandler
	s.forbiddenHandler = defaultForbiddenHandler
	s.serverErrorHandler = defaultServerErrorHandler
	return s
}

// AddResource registers an unauthenticated handler.
func (s *Server) AddResource(prefix string, h Handler) {
	s.router.AddResource(prefix, h, nil)
}

// AddGatedResource registers handler for prefix, requiring gate to
// authenticate every request before the handler runs.
func (s *Server) AddGatedResource(prefix string, h Handler, gate Gate) {
	s.router.AddResource(prefix, h, gate)
}

// RemoveResource unregisters prefix.
func (s *Server) RemoveResource(prefix string) { s.router.RemoveResource(prefix) }

// AddRedirect registers a redirect rule.
func (s *Server) AddRedirect(from, to string) { s.router.AddRedirect(from, to) }

// SetAuth installs the server-wide gate applied to every resource
// that didn't get its own via AddGatedResource.
func (s *Server) SetAuth(gate Gate) { s.auth = gate }

// SetBadRequestHandler overrides the default 400 handler.
func (s *Server) SetBadRequestHandler(h Handler) { s.badRequestHandler = h }

// SetNotFoundHandler overrides the default 404 handler.
func (s *Server) SetNotFoundHandler(h Handler) { s.notFoundHandler = h }

// SetMethodNotAllowedHandler overrides the default 405 handler.
func (s *Server) SetMethodNotAllowedHandler(h Handler) { s.methodNotAllowedHandler = h }

// SetForbiddenHandler overrides the default 403 handler.
func (s *Server) SetForbiddenHandler(h Handler) { s.forbiddenHandler = h }

// SetServerErrorHandler overrides the default 500 handler.
func (s *Server) SetServerErrorHandler(h Handler) { s.serverErrorHandler = h }

// Start binds the listener, runs BeforeStarting, and then blocks
// accepting connections until Stop is called.
// Each accepted connection is handed to the scheduler as a posted
// task, so Start itself only drives the accept loop.
func (s *Server) Start() error {
	ln, err := s.bindWithPrivilegeDrop()
	if err != nil {
		return err
	}
	s.listener = ln

	if s.BeforeStarting != nil {
		s.BeforeStarting()
	}

	s.sched.AddActiveUser()
	defer s.sched.RemoveActiveUser()

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			draining := s.draining
			s.mu.Unlock()
			if draining {
				return nil
			}
			return err
		}
		conn := NewConnection(nc, s.sched, s.log)
		s.trackConn(conn)
		s.wg.Add(1)
		task := func() {
			defer s.wg.Done()
			defer s.untrackConn(conn)
			s.serveConn(conn)
		}
		if r := conn.Reactor(); r != nil {
			r.Post(task)
		} else {
			task()
		}
	}
}

// bindWithPrivilegeDrop opens the listener, applies SO_REUSEADDR
// semantics (the net package's default listener already reuses the
// address on POSIX systems), and — for ports below 1024 — drops to
// PrivilegeUser immediately after the bind succeeds.
func (s *Server) bindWithPrivilegeDrop() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	if s.TLSConfig != nil {
		ln = tls.NewListener(ln, s.TLSConfig)
	}
	if needsPrivilegeDrop(s.Addr) && s.PrivilegeUser != "" {
		if err := dropPrivileges(s.PrivilegeUser); err != nil {
			ln.Close()
			return nil, err
		}
	}
	return ln, nil
}

func needsPrivilegeDrop(addr string) bool {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(portStr)
	return err == nil && port < 1024
}

func (s *Server) trackConn(c *Connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	if len(s.conns) == 0 {
		s.noConns.Broadcast()
	}
	s.mu.Unlock()
}

// Stop closes the acceptor. When waitDrained
// is true it blocks until every in-flight connection finishes on its
// own; otherwise it closes every tracked connection immediately.
func (s *Server) Stop(waitDrained bool) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	if waitDrained {
		s.mu.Lock()
		for len(s.conns) > 0 {
			s.noConns.Wait()
		}
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	return nil
}

// Join blocks until every connection goroutine/task this server
// spawned has returned (spec §4.6 "join()").
func (s *Server) Join() { s.wg.Wait() }

// RespondMethodNotAllowed lets a resource handler that checks the
// request method itself fall back to the server's configured 405
// handler (spec §6 "405 Method Not Allowed (emits Allow:)") without
// duplicating it.
func (s *Server) RespondMethodNotAllowed(w *Writer, req *message.Message) {
	s.methodNotAllowedHandler(w, req)
}

// RespondForbidden lets a resource handler or gate fall back to the
// server's configured 403 handler.
func (s *Server) RespondForbidden(w *Writer, req *message.Message) {
	s.forbiddenHandler(w, req)
}

// serveConn implements the per-connection loop of spec §4.6.
func (s *Server) serveConn(conn *Connection) {
	// Finish applies the RST-avoidance half-close when the lifecycle
	// tag says Close; the unconditional Close after it is the fallback
	// for every other exit path (transport error, TLS handshake
	// failure) where no half-close is warranted. Close is idempotent.
	defer func() {
		conn.Finish()
		conn.Close()
	}()

	if conn.TLSState() == nil {
		if _, ok := conn.netConn.(*tls.Conn); ok {
			if err := conn.Handshake(s.ReadTimeout, s.WriteTimeout); err != nil {
				s.log.WithError(err).Warn("pion: TLS handshake failed")
				return
			}
		}
	}

	for {
		req, perr := s.readOneRequest(conn)
		if perr != nil {
			if core.IsTransport(perr) {
				s.log.WithError(perr).Debug("pion: connection closed")
				return
			}
			// Parse-level fault with the socket still open: answer
			// with the bad-request handler and close.
			synthetic := message.NewRequest()
			w := NewWriter(conn, message.NewResponse(""), synthetic, s.WriteTimeout)
			conn.SetLifecycle(LifecycleClose)
			s.invokeHandler(s.badRequestHandler, w, synthetic)
			return
		}

		s.dispatch(conn, req)

		switch conn.LifecycleTag() {
		case LifecycleClose:
			return
		default:
			if s.IdleTimeout != 0 {
				conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
			}
		}
	}
}

// dispatch resolves redirects, runs the auth gate, finds a handler by
// the longest-prefix-with-boundary rule, and invokes it.
func (s *Server) dispatch(conn *Connection, req *message.Message) {
	resource := normalizeResource(req.Resource)

	final, looped := s.router.Resolve(resource)
	if looped {
		w := NewWriter(conn, message.NewResponse(req.Method), req, s.WriteTimeout)
		conn.SetLifecycle(LifecycleClose)
		s.invokeHandler(redirectLoopHandler, w, req)
		return
	}
	req.Resource = final

	handler, gate, _, found := s.router.Match(final)
	if !found {
		w := NewWriter(conn, message.NewResponse(req.Method), req, s.WriteTimeout)
		s.finishLifecycle(conn, req, w)
		s.invokeHandler(s.notFoundHandler, w, req)
		return
	}
	if gate == nil {
		gate = s.auth
	}
	if gate != nil {
		w := NewWriter(conn, message.NewResponse(req.Method), req, s.WriteTimeout)
		s.finishLifecycle(conn, req, w)
		if !gate.HandleRequest(w, req, conn) {
			if !w.Sent() {
				w.Send()
			}
			return
		}
	}

	w := NewWriter(conn, message.NewResponse(req.Method), req, s.WriteTimeout)
	s.finishLifecycle(conn, req, w)
	s.invokeHandler(handler, w, req)
}

// invokeHandler runs handler, recovering from a panic the way spec
// §4.6 step 5 requires ("catch any handler error and route to
// server-error handler"). A handler that returns without sending is
// treated as a 500 only if it never even set a status; a handler that
// set a status and body but forgot to call Send gets flushed as-is.
func (s *Server) invokeHandler(handler Handler, w *Writer, req *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("pion: handler panicked")
			if !w.Sent() {
				w.buf.Reset()
				s.serverErrorHandler(w, req)
				w.Send()
			}
		}
	}()
	handler(w, req)
	if w.Sent() {
		return
	}
	if w.msg.StatusCode == 0 {
		s.serverErrorHandler(w, req)
	}
	w.Send()
}

// finishLifecycle runs before any handler: it records whether the
// request's version allows chunking and tags the connection Pipelined
// when a successor request is already buffered. The keep-alive vs
// close choice itself is made by NewWriter and prepareHeaders.
func (s *Server) finishLifecycle(conn *Connection, req *message.Message, w *Writer) {
	req.ChunksSupported = req.ProtoAtLeast(1, 1)
	if conn.Pending() {
		conn.SetLifecycle(LifecyclePipelined)
	}
	_ = w
}

// readOneRequest drives a fresh parser off conn's buffered bytes,
// requesting more from the socket as needed.
func (s *Server) readOneRequest(conn *Connection) (*message.Message, *core.Error) {
	req := message.NewRequest()
	req.RemoteAddr = conn.RemoteAddr()
	p := parser.New(parser.SideRequest, req, s.MaxContentLength)
	p.OnHeadersComplete = func(msg *message.Message) {
		if msg.ProtoAtLeast(1, 1) && headerHasExpectContinue(msg) {
			conn.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"), s.WriteTimeout)
		}
	}

	window := conn.Bookmark()
	for {
		if len(window) == 0 {
			if s.ReadTimeout != 0 {
				conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
			}
			w, err := conn.FillMore()
			if err != nil {
				if p.InBodyUntilEOF() {
					p.FinishUntilEOF()
					return req, nil
				}
				if p.InKnownLengthBody() {
					return nil, core.Wrap(core.KindPrematureEOF, err)
				}
				return nil, core.Wrap(core.KindTransportClosed, err)
			}
			window = w
		}
		n, result, perr := p.Feed(window)
		conn.Consume(n)
		window = window[n:]
		if perr != nil {
			return nil, perr
		}
		if result == parser.Complete {
			return req, nil
		}
	}
}

// headerHasExpectContinue reports whether req carries
// "Expect: 100-continue", the interim-response trigger supplemented
// from original_source's writer/parser pair.
func headerHasExpectContinue(req *message.Message) bool {
	return strings.EqualFold(strings.TrimSpace(req.Header.Get(hdr.Expect)), "100-continue")
}

// normalizeResource strips a trailing slash, except for the root
// resource itself.
func normalizeResource(resource string) string {
	if len(resource) > 1 && strings.HasSuffix(resource, "/") {
		return strings.TrimRight(resource, "/")
	}
	return resource
}

// --- default handlers ---

func defaultBadRequestHandler(w *Writer, req *message.Message) {
	resp := responseOf(w)
	resp.SetStatus(400, "Bad Request")
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	w.WriteString("<html><body><h1>400 Bad Request</h1></body></html>")
}

func defaultNotFoundHandler(w *Writer, req *message.Message) {
	resp := responseOf(w)
	resp.SetStatus(404, "Not Found")
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	w.WriteString("<html><body><h1>404 Not Found</h1><p>")
	w.WriteString(xmlEscape(req.Resource))
	w.WriteString("</p></body></html>")
}

func defaultMethodNotAllowedHandler(w *Writer, req *message.Message) {
	resp := responseOf(w)
	resp.SetStatus(405, "Method Not Allowed")
	resp.Header.Set(hdr.Allow, "GET, HEAD")
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	w.WriteString("<html><body><h1>405 Method Not Allowed</h1></body></html>")
}

func defaultForbiddenHandler(w *Writer, req *message.Message) {
	resp := responseOf(w)
	resp.SetStatus(403, "Forbidden")
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	w.WriteString("<html><body><h1>403 Forbidden</h1></body></html>")
}

func defaultServerErrorHandler(w *Writer, req *message.Message) {
	resp := responseOf(w)
	resp.SetStatus(500, "Server Error")
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	w.WriteString("<html><body><h1>500 Server Error</h1></body></html>")
}

// redirectLoopHandler answers a redirect chain that exceeded
// maxRedirectHops (spec's Protocol(MaxRedirects) fault).
func redirectLoopHandler(w *Writer, req *message.Message) {
	resp := responseOf(w)
	resp.SetStatus(500, "Server Error")
	resp.Header.Set(hdr.ContentType, "text/html; charset=utf-8")
	w.WriteString("<html><body><h1>500 Server Error</h1><p>redirect chain exceeded maximum hops</p></body></html>")
}

func responseOf(w *Writer) *message.Message { return w.msg }

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}
