/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package pion is an embeddable HTTP/1.1 server framework: an
// acceptor/connection layer (this file), an incremental parser
// (package parser), a message writer (writer.go) and a
// resource-table dispatcher (server.go, dispatch.go), all driven by
// a pluggable scheduler (package scheduler).
package pion

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pionweb/pion/scheduler"
)

// readBufSize is the connection's initial read-buffer capacity.
const readBufSize = 8 << 10

// rstAvoidanceDelay is the pause after a half-close: give the peer a
// moment to read a final response before the socket is torn down, so
// it sees the reply instead of an RST.
const rstAvoidanceDelay = 500 * time.Millisecond

// Lifecycle is the tag a Connection carries between requests.
type Lifecycle int

const (
	// LifecycleKeepAlive means the connection is eligible for another
	// request once the current one finishes.
	LifecycleKeepAlive Lifecycle = iota
	// LifecycleClose means the connection must be torn down after the
	// current response is flushed.
	LifecycleClose
	// LifecyclePipelined means another request's bytes are already
	// sitting in the read buffer, unconsumed, when the current one
	// finishes.
	LifecyclePipelined
)

// Connection wraps one accepted socket. It owns a
// single read buffer and a bookmark into it, so that bytes belonging
// to a pipelined next request are never lost or double-read.
type Connection struct {
	netConn  net.Conn
	tlsState *tls.ConnectionState

	sched   *scheduler.Scheduler
	reactor *scheduler.Reactor

	log logrus.FieldLogger

	mu        sync.Mutex
	readBuf   []byte
	readPos   int // index of the first unconsumed byte
	readLen   int // index one past the last valid byte
	lifecycle Lifecycle

	closed int32 // atomic

	remoteAddr string
}

// NewConnection wraps an accepted net.Conn. sched may be nil, in
// which case the connection is not pinned to a reactor (useful for
// tests that drive Connection directly).
func NewConnection(nc net.Conn, sched *scheduler.Scheduler, log logrus.FieldLogger) *Connection {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Connection{
		netConn:    nc,
		sched:      sched,
		log:        log,
		readBuf:    make([]byte, readBufSize),
		remoteAddr: nc.RemoteAddr().String(),
	}
	if sched != nil {
		c.reactor = sched.AcquireIO()
	}
	return c
}

// RemoteAddr returns the string form of the peer address, cached at
// accept time since it is read on every log line.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// TLSState returns the negotiated TLS state, or nil for plaintext
// connections.
func (c *Connection) TLSState() *tls.ConnectionState { return c.tlsState }

// Reactor returns the scheduler handle this connection is pinned to.
func (c *Connection) Reactor() *scheduler.Reactor { return c.reactor }

// Handshake performs the TLS handshake and records the resulting
// connection state, if nc is a *tls.Conn.
func (c *Connection) Handshake(readTimeout, writeTimeout time.Duration) error {
	tlsConn, ok := c.netConn.(*tls.Conn)
	if !ok {
		return nil
	}
	if readTimeout != 0 {
		c.netConn.SetReadDeadline(time.Now().Add(readTimeout))
	}
	if writeTimeout != 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if err := tlsConn.Handshake(); err != nil {
		return err
	}
	state := tlsConn.ConnectionState()
	c.tlsState = &state
	return nil
}

// Bookmark returns the current unconsumed-data window, for a parser
// (or pipelining check) to inspect without mutating read state.
func (c *Connection) Bookmark() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readBuf[c.readPos:c.readLen]
}

// Consume advances the bookmark past n already-processed bytes (spec
// §3, "read-position bookmark (save/load)").
func (c *Connection) Consume(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readPos += n
	if c.readPos > c.readLen {
		c.readPos = c.readLen
	}
}

// Pending reports whether bytes of a pipelined next message are
// already buffered and unconsumed.
func (c *Connection) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPos < c.readLen
}

// FillMore reads more bytes from the socket, compacting the buffer
// (and growing it if a single message's unparsed remainder already
// fills it) before issuing the read. Returns the newly available
// window (including anything left over from before the call).
func (c *Connection) FillMore() ([]byte, error) {
	c.mu.Lock()
	if c.readPos > 0 {
		n := copy(c.readBuf, c.readBuf[c.readPos:c.readLen])
		c.readLen = n
		c.readPos = 0
	}
	if c.readLen == len(c.readBuf) {
		grown := make([]byte, len(c.readBuf)*2)
		copy(grown, c.readBuf[:c.readLen])
		c.readBuf = grown
	}
	buf := c.readBuf
	at := c.readLen
	c.mu.Unlock()

	n, err := c.netConn.Read(buf[at:])
	if n > 0 {
		c.mu.Lock()
		c.readLen += n
		window := c.readBuf[c.readPos:c.readLen]
		c.mu.Unlock()
		return window, err
	}
	return nil, err
}

// SetLifecycle records the tag the dispatcher decided for the
// connection once the current response finishes.
func (c *Connection) SetLifecycle(tag Lifecycle) {
	c.mu.Lock()
	c.lifecycle = tag
	c.mu.Unlock()
}

// LifecycleTag reports the most recently set tag.
func (c *Connection) LifecycleTag() Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// Write writes p to the socket, applying the given write deadline
// first if non-zero.
func (c *Connection) Write(p []byte, timeout time.Duration) (int, error) {
	if timeout != 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.netConn.Write(p)
}

// SetReadDeadline forwards to the underlying net.Conn.
func (c *Connection) SetReadDeadline(t time.Time) error { return c.netConn.SetReadDeadline(t) }

// Finish is the per-request cleanup step: when the lifecycle tag says
// Close, it closes the socket after a half-close/RST-avoidance pause.
func (c *Connection) Finish() {
	if c.LifecycleTag() == LifecycleClose {
		c.closeWriteAndWait()
	}
}

// Close tears the connection down immediately. Safe to call more
// than once.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.netConn.Close()
}

// closeWriteAndWait half-closes the write side (if supported) and
// pauses briefly before the final close (see
// https://golang.org/issue/3595 for the RST-avoidance rationale).
func (c *Connection) closeWriteAndWait() {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := c.netConn.(closeWriter); ok {
		cw.CloseWrite()
	}
	time.Sleep(rstAvoidanceDelay)
	c.Close()
}
