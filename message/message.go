/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package message implements the core data model: a
// single Message value tagged Request or Response, case-insensitive
// multimap headers, cookies and query parameters, and the derived
// predicates (first line, content-length implied, keep-alive) that
// the writer and dispatcher depend on.
//
// The original C++ library split this into an HTTPMessage base class
// with HTTPRequest/HTTPResponse subclasses. Per that note this
// port collapses the hierarchy into one Kind-tagged struct instead of
// an interface pair, so callers match on Kind rather than type-assert.
package message

import (
	"strconv"
	"strings"

	"github.com/pionweb/pion/hdr"
)

// Kind distinguishes a Request from a Response Message.
type Kind int

const (
	Request Kind = iota
	Response
)

func (k Kind) String() string {
	if k == Request {
		return "request"
	}
	return "response"
}

// AuthenticatedUser is the opaque handle an auth gate may attach to a
// request once it has authenticated the caller.
type AuthenticatedUser struct {
	Name string
	// Extra carries gate-specific data (e.g. roles) without forcing a
	// schema on every gate implementation.
	Extra map[string]string
}

// Message is the single, Kind-tagged container for both HTTP requests
// and responses. Fields that don't apply to the
// current Kind are left zero; IsRequest/IsResponse exist for readable
// guards at call sites.
type Message struct {
	Kind Kind

	Major, Minor int // HTTP version

	Header  hdr.Header
	Cookies Cookies

	Content []byte // owned content buffer; nil means "no body yet"

	RemoteAddr string

	// Valid is cleared by the parser the moment a token state machine
	// rejects a byte; a Message is never handed to a handler with
	// Valid == false.
	Valid bool

	// ChunksSupported records whether the peer on the other end of
	// this exchange is known to accept chunked responses. For a
	// Request this is true whenever the declared HTTP version is
	// >= 1.1; for a Response under construction the writer sets it
	// from the paired request.
	ChunksSupported bool

	// SuppressContentLength, when true, means a Content-Length header
	// present on this Message must NOT be treated as redundant with
	// len(Content) — used by writers that stream content whose final
	// length was computed independently.
	SuppressContentLength bool

	// --- Request-only fields ---

	Method string // upper-case

	// Resource is the current URI stem, which may differ from
	// OriginalResource after redirects.
	Resource         string
	OriginalResource string

	Query       string
	QueryParams Values

	User *AuthenticatedUser

	// --- Response-only fields ---

	StatusCode    uint16
	StatusMessage string

	// RequestMethod is the method of the request this Response
	// answers; needed to decide whether the response logically has a
	// body.
	RequestMethod string

	firstLine      string
	firstLineDirty bool
}

// NewRequest returns an empty, valid Request-kind Message ready for
// the parser to populate.
func NewRequest() *Message {
	return &Message{
		Kind:             Request,
		Major:            1,
		Minor:            1,
		Header:           make(hdr.Header),
		Cookies:          make(Cookies),
		QueryParams:      make(Values),
		Valid:            true,
		OriginalResource: "",
		firstLineDirty:   true,
	}
}

// NewResponse returns an empty, valid Response-kind Message that
// answers the given request method.
func NewResponse(requestMethod string) *Message {
	return &Message{
		Kind:           Response,
		Major:          1,
		Minor:          1,
		Header:         make(hdr.Header),
		Cookies:        make(Cookies),
		Valid:          true,
		RequestMethod:  requestMethod,
		firstLineDirty: true,
	}
}

func (m *Message) IsRequest() bool  { return m.Kind == Request }
func (m *Message) IsResponse() bool { return m.Kind == Response }

// SetResource sets the current resource stem. The first call also
// seeds OriginalResource, preserving redirect history.
func (m *Message) SetResource(resource string) {
	if m.OriginalResource == "" {
		m.OriginalResource = resource
	}
	m.Resource = resource
	m.firstLineDirty = true
}

// SetMethod sets the request method and marks the first line dirty.
func (m *Message) SetMethod(method string) {
	m.Method = method
	m.firstLineDirty = true
}

// SetVersion sets the HTTP version and marks the first line dirty.
func (m *Message) SetVersion(major, minor int) {
	m.Major, m.Minor = major, minor
	m.firstLineDirty = true
}

// SetStatus sets the response status code and message.
func (m *Message) SetStatus(code uint16, msg string) {
	m.StatusCode = code
	m.StatusMessage = msg
	m.firstLineDirty = true
}

// ProtoAtLeast reports whether the message's version is >= major.minor.
func (m *Message) ProtoAtLeast(major, minor int) bool {
	return m.Major > major || (m.Major == major && m.Minor >= minor)
}

// FirstLine returns the request or status line, rebuilding it lazily
// whenever a contributing field has changed since the last call
// (spec §3: "lazily (re)built whenever any contributing field
// changes").
func (m *Message) FirstLine() string {
	if !m.firstLineDirty && m.firstLine != "" {
		return m.firstLine
	}
	var b strings.Builder
	if m.IsRequest() {
		b.WriteString(m.Method)
		b.WriteByte(' ')
		b.WriteString(m.Resource)
		if m.Query != "" {
			b.WriteByte('?')
			b.WriteString(m.Query)
		}
		b.WriteByte(' ')
		b.WriteString(versionString(m.Major, m.Minor))
	} else {
		b.WriteString(versionString(m.Major, m.Minor))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(m.StatusCode), 10))
		b.WriteByte(' ')
		b.WriteString(m.StatusMessage)
	}
	m.firstLine = b.String()
	m.firstLineDirty = false
	return m.firstLine
}

func versionString(major, minor int) string {
	return "HTTP/" + strconv.Itoa(major) + "." + strconv.Itoa(minor)
}

// IsContentLengthImplied reports whether the body is implied empty
// regardless of a Content-Length header: always false for
// a Request; true for a Response when the status is informational
// (1xx), 204, 205, 304, or when the paired request method is HEAD.
func (m *Message) IsContentLengthImplied() bool {
	if m.IsRequest() {
		return false
	}
	if m.RequestMethod == "HEAD" {
		return true
	}
	if m.StatusCode >= 100 && m.StatusCode <= 199 {
		return true
	}
	switch m.StatusCode {
	case 204, 205, 304:
		return true
	}
	return false
}

// IsChunked reports whether Transfer-Encoding names "chunked"
// (case-insensitive), per spec §3/§4.3.3 precedence rule.
func (m *Message) IsChunked() bool {
	return headerContainsToken(m.Header.Get(hdr.TransferEncoding), "chunked")
}

// ShouldKeepAlive implements spec §4.4: true when Connection is not
// "close" and the version is above HTTP/1.0; HTTP/1.0 defaults to
// close unless Connection: keep-alive is present. This deliberately
// corrects the divergence flagged in spec.md §9 ("original
// checkKeepAlive... looks like a bug").
func (m *Message) ShouldKeepAlive() bool {
	conn := m.Header.Get(hdr.Connection)
	if headerContainsToken(conn, "close") {
		return false
	}
	if m.ProtoAtLeast(1, 1) {
		return true
	}
	return headerContainsToken(conn, "keep-alive")
}

// headerContainsToken reports whether the comma-separated header
// value v contains token, case-insensitively, ignoring surrounding
// whitespace around each comma-separated item.
func headerContainsToken(v, token string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
