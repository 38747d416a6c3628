/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package pion

import (
	"bytes"
	"strconv"
	"time"

	"github.com/pionweb/pion/hdr"
	"github.com/pionweb/pion/message"
)

// Writer is the message writer: it buffers the body a
// handler produces, decides the transfer strategy (fixed
// Content-Length vs chunked vs close-terminated) once the first
// Send/SendChunk call forces the decision, and then is single-use —
// calling Send twice, or writing after Send, is a programmer error
// the teacher's chunkWriter also never allowed gracefully.
type Writer struct {
	conn *Connection
	msg  *message.Message

	buf bytes.Buffer // staged body, flushed on Send

	headerSent bool
	chunking   bool
	sent       bool

	writeTimeout time.Duration
}

// NewWriter returns a Writer that will send msg (a Response) over
// conn. req is the request being answered, used to decide keep-alive
// eligibility: when req does not ask to be kept alive, msg is marked
// Connection: close. HEAD suppression follows msg.RequestMethod, which
// NewResponse sets.
func NewWriter(conn *Connection, msg *message.Message, req *message.Message, writeTimeout time.Duration) *Writer {
	if req != nil && !req.ShouldKeepAlive() {
		msg.Header.Set(hdr.Connection, "close")
	}
	return &Writer{conn: conn, msg: msg, writeTimeout: writeTimeout}
}

// Write stages p into the body buffer; it
// never touches the wire directly, so the full body size is known
// before headers are finalized whenever the handler writes everything
// before calling Send.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// WriteString stages a string the same way Write stages bytes.
func (w *Writer) WriteString(s string) (int, error) {
	return w.buf.WriteString(s)
}

// WriteNoCopy stages p. When nothing is staged yet, p is retained
// directly as the buffer without an intermediate copy — callers must
// not mutate p afterward; otherwise p is copied in like Write.
func (w *Writer) WriteNoCopy(p []byte) (int, error) {
	if w.buf.Len() == 0 {
		w.buf = *bytes.NewBuffer(p)
		return len(p), nil
	}
	return w.buf.Write(p)
}

// Sent reports whether Send has already been called.
func (w *Writer) Sent() bool { return w.sent }

// Message returns the response Message being built, so callers (gate
// implementations, handlers) can set its status and headers directly.
func (w *Writer) Message() *message.Message { return w.msg }

// prepareHeaders finalizes Connection and Transfer-Encoding/
// Content-Length per spec §4.5, mirroring the teacher's writeHeader
// decision tree but against message.Message instead of Response.
func (w *Writer) prepareHeaders(bodyLen int, knownFinal bool) {
	if w.headerSent {
		return
	}
	w.headerSent = true

	if w.msg.Header.Get(hdr.Date) == "" {
		w.msg.Header.Set(hdr.Date, time.Now().UTC().Format(httpTimeFormat))
	}

	isHead := w.msg.RequestMethod == "HEAD"
	implied := w.msg.IsContentLengthImplied()

	switch {
	case isHead:
		// A HEAD response carries the Content-Length the matching GET
		// would have sent, even though the body itself is suppressed
		// on the wire.
		if knownFinal && !w.msg.SuppressContentLength {
			w.msg.Header.Set(hdr.ContentLength, strconv.Itoa(bodyLen))
		}
		w.msg.Header.Del(hdr.TransferEncoding)
		w.chunking = false
	case implied:
		w.msg.Header.Del(hdr.TransferEncoding)
		w.msg.Header.Del(hdr.ContentLength)
		w.chunking = false
	case knownFinal:
		// Full body known up front: prefer a fixed Content-Length
		// over chunking, same preference the teacher's chunkWriter
		// applies when the handler has already finished.
		if !w.msg.SuppressContentLength {
			w.msg.Header.Set(hdr.ContentLength, strconv.Itoa(bodyLen))
		}
		w.msg.Header.Del(hdr.TransferEncoding)
		w.chunking = false
	case w.msg.ChunksSupported:
		w.msg.Header.Set(hdr.TransferEncoding, "chunked")
		w.msg.Header.Del(hdr.ContentLength)
		w.chunking = true
	default:
		// Peer can't take chunked and we don't know the length in
		// advance: fall back to close-terminated, like HTTP/1.0.
		w.msg.Header.Set(hdr.Connection, "close")
		w.chunking = false
	}

	// A Close lifecycle already chosen by the dispatcher (bad request,
	// redirect loop) is kept.
	if !w.msg.ShouldKeepAlive() || w.conn.LifecycleTag() == LifecycleClose {
		w.msg.Header.Set(hdr.Connection, "close")
		w.conn.SetLifecycle(LifecycleClose)
	} else {
		w.msg.Header.Set(hdr.Connection, "Keep-Alive")
		w.conn.SetLifecycle(LifecycleKeepAlive)
	}
}

// Send finalizes headers and flushes the staged body as a single
// write. After Send, the Writer must not be reused.
func (w *Writer) Send() error {
	if w.sent {
		return errAlreadySent
	}
	w.sent = true

	body := w.buf.Bytes()
	w.prepareHeaders(len(body), true)

	head := w.renderHead()
	if w.msg.IsContentLengthImplied() || len(body) == 0 {
		_, err := w.conn.Write(head, w.writeTimeout)
		return err
	}
	if w.chunking {
		if _, err := w.conn.Write(head, w.writeTimeout); err != nil {
			return err
		}
		return w.writeChunk(body)
	}
	_, err := w.conn.Write(append(head, body...), w.writeTimeout)
	return err
}

// SendChunk finalizes headers on first call (chunked transfer when the
// peer supports it, otherwise a close-terminated body) and writes p
// immediately: as one chunk, or as raw bytes when not chunking.
// Mixing SendChunk with Write/Send on the same Writer is not
// supported.
func (w *Writer) SendChunk(p []byte) error {
	if w.sent {
		return errAlreadySent
	}
	if !w.headerSent {
		w.msg.ChunksSupported = w.msg.ChunksSupported || w.msg.ProtoAtLeast(1, 1)
		w.prepareHeaders(0, false)
		if _, err := w.conn.Write(w.renderHead(), w.writeTimeout); err != nil {
			return err
		}
	}
	if len(p) == 0 || w.msg.IsContentLengthImplied() {
		return nil
	}
	if !w.chunking {
		_, err := w.conn.Write(p, w.writeTimeout)
		return err
	}
	return w.writeChunk(p)
}

// SendFinalChunk writes the zero-length terminating chunk and marks
// the Writer as sent.
func (w *Writer) SendFinalChunk() error {
	if w.sent {
		return errAlreadySent
	}
	w.sent = true
	if !w.chunking {
		return nil
	}
	_, err := w.conn.Write([]byte("0\r\n\r\n"), w.writeTimeout)
	return err
}

func (w *Writer) writeChunk(p []byte) error {
	size := strconv.FormatInt(int64(len(p)), 16)
	frame := make([]byte, 0, len(size)+2+len(p)+2)
	frame = append(frame, size...)
	frame = append(frame, '\r', '\n')
	frame = append(frame, p...)
	frame = append(frame, '\r', '\n')
	_, err := w.conn.Write(frame, w.writeTimeout)
	return err
}

// renderHead writes the first line and headers.
func (w *Writer) renderHead() []byte {
	var b bytes.Buffer
	b.WriteString(w.msg.FirstLine())
	b.WriteString("\r\n")
	w.msg.Header.Write(&b)
	b.WriteString("\r\n")
	return b.Bytes()
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var errAlreadySent = writerError("pion: Writer already sent")

type writerError string

func (e writerError) Error() string { return string(e) }
