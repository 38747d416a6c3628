// Package parser implements the incremental HTTP/1.1 parser: a single byte-at-a-time state machine shared by the request
// and response sides, producing a message.Message progressively as
// bytes arrive from a connection's read buffer.
//
// The state names below are a renamed, pion-specific variant of the
// textbook single-pass HTTP line/header state machine.
package parser

import (
	"github.com/pionweb/pion/core"
	"github.com/pionweb/pion/hdr"
	"github.com/pionweb/pion/message"
)

// Side selects which half of the protocol a Parser instance reads.
type Side int

const (
	SideRequest Side = iota
	SideResponse
)

// Result is the outcome of one Feed call.
type Result int

const (
	NeedMore Result = iota
	Complete
)

// Default caps: every token class has an explicit
// ceiling.
const (
	MaxMethodLength       = 8
	MaxResourceLength     = 1024
	MaxQueryLength        = 1024
	MaxHeaderNameLength   = 1024
	MaxHeaderValueLength  = 8192
	MaxStatusMessageLen   = 1024
	MaxChunkSizeDigits    = 8
	DefaultMaxContentLen  = 1 << 20 // 1 MiB
)

// lineState is the single combined state variable driving the first
// line (request OR status line) and then the header section.
type lineState int

const (
	lsMethodStart lineState = iota
	lsMethod
	lsUriStem
	lsUriQuery
	lsVerH
	lsVerT1
	lsVerT2
	lsVerP
	lsVerSlash
	lsMajStart
	lsMaj
	lsMinStart
	lsMin
	lsStatusCodeStart
	lsStatusCode
	lsStatusMessage
	lsExpectingLF      // request/status line's CR consumed, awaiting LF
	lsExpectingCR      // a header line's CR consumed, awaiting LF
	lsHeaderWhitespace // folded continuation line's leading LWS
	lsHeaderStart      // first byte of a new header-section line
	lsHeaderName
	lsSpaceBeforeValue
	lsHeaderValue
	lsExpectingFinalLF // headers-terminating blank line's CR consumed, awaiting LF
	// lsExpectingFinalCR is never reached: the liberal CRLF-or-lone-LF
	// line-terminator policy means HeaderStart reaches
	// lsExpectingFinalLF directly on CR, so this state is kept only
	// for naming symmetry with lsExpectingCR above.
	lsExpectingFinalCR
)

// macroState is the coarse phase of one message: header section,
// then one of the body-reading modes, then done.
type macroState int

const (
	macroStart macroState = iota
	macroHeaders
	macroContentByLength
	macroContentUntilEOF
	macroChunks
	macroDone
)

// Parser incrementally parses one HTTP message. A Parser is created per message receive and discarded once
// the message is handed to the dispatcher; any bytes it did not
// consume are handed back to the connection as the next request's
// read-position bookmark.
type Parser struct {
	Side Side

	macro macroState
	line  lineState

	// scratch buffers, reused across Feed calls for the lifetime of
	// one message.
	methodBuf  []byte
	resourceBuf []byte
	queryBuf    []byte
	headerName  []byte
	headerValue []byte
	statusMsg   []byte

	verMajor, verMinor int
	statusCode         int

	lastHeaderName string // for LWS-folding continuation lines
	folding        bool

	totalRead   int64
	contentRead int64

	maxContentLength int64

	bodyMode      bodyMode
	contentLength int64

	chunk chunkDecoder

	untilEOFBuf []byte

	msg *message.Message

	// OnHeadersComplete, if set, is invoked once the header section
	// is fully parsed but before any body bytes are read — the hook
	// the server uses to answer "Expect: 100-continue" before
	// buffering the body (original_source's writer/parser pair; see
	// SPEC_FULL.md's supplemented-features section).
	OnHeadersComplete func(*message.Message)
}

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyByLength
	bodyChunks
	bodyUntilEOF
)

// New creates a Parser bound to msg. maxContentLength <= 0 selects the
// default.
func New(side Side, msg *message.Message, maxContentLength int64) *Parser {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLen
	}
	p := &Parser{
		Side:             side,
		msg:              msg,
		maxContentLength: maxContentLength,
	}
	if side == SideRequest {
		p.line = lsMethodStart
	} else {
		p.line = lsVerH
	}
	return p
}

// BytesConsumed returns the total number of bytes Feed has consumed
// for this message so far, start line and headers included.
func (p *Parser) BytesConsumed() int64 { return p.totalRead }

// Feed consumes as much of buf as it can and reports how many bytes
// were used. On NeedMore the caller should read more from the
// transport and call Feed again with the next chunk appended to
// whatever was left unconsumed. On Complete, buf[consumed:] is
// leftover — potentially the start of a pipelined next request — and
// must be handed back to the connection.
func (p *Parser) Feed(buf []byte) (consumed int, result Result, err *core.Error) {
	i := 0
	if p.macro == macroStart || p.macro == macroHeaders {
		n, done, ferr := p.feedLine(buf)
		i += n
		p.totalRead += int64(n)
		if ferr != nil {
			return i, NeedMore, ferr
		}
		if !done {
			return i, NeedMore, nil
		}
		// Headers are complete: parse cookies out of the Cookie
		// header (requests) before deciding body mode, so a handler
		// sees msg.Cookies populated as soon as the message reaches
		// macroDone.
		if ck := p.msg.Header.Get(hdr.CookieHeader); ck != "" {
			message.ParseCookieHeader(p.msg.Cookies, ck)
		}
		if p.msg.Query != "" {
			// A malformed query string is tolerated (left
			// unparsed) rather than failing the whole request;
			// only the literal grammar of headers/body is load-
			// bearing for parse success.
			_ = message.ParseQuery(p.msg.QueryParams, p.msg.Query)
		}
		if p.OnHeadersComplete != nil {
			p.OnHeadersComplete(p.msg)
		}
		if err := p.decideBodyMode(); err != nil {
			return i, NeedMore, err
		}
	}

	switch p.macro {
	case macroContentByLength:
		n, done := p.feedByLength(buf[i:])
		i += n
		p.totalRead += int64(n)
		if !done {
			return i, NeedMore, nil
		}
		p.macro = macroDone
	case macroContentUntilEOF:
		n := p.feedUntilEOF(buf[i:])
		i += n
		p.totalRead += int64(n)
		return i, NeedMore, nil // only EOF (signalled by caller) ends this mode
	case macroChunks:
		n, done, ferr := p.chunk.feed(buf[i:], p.msg, p.maxContentLength)
		i += n
		p.totalRead += int64(n)
		if ferr != nil {
			return i, NeedMore, ferr
		}
		if !done {
			return i, NeedMore, nil
		}
		p.msg.Content = p.chunk.cache
		p.msg.Header.Del(hdr.ContentLength)
		p.msg.ChunksSupported = true
		p.macro = macroDone
	case macroDone:
		// nothing more to read; fall through to Complete below.
	}

	if p.macro == macroDone {
		return i, Complete, nil
	}
	return i, NeedMore, nil
}

// FinishUntilEOF is called by the caller once the transport reports
// EOF while macro == macroContentUntilEOF.
func (p *Parser) FinishUntilEOF() {
	p.msg.Content = p.untilEOFBuf
	p.macro = macroDone
}

// InBodyUntilEOF reports whether the parser is waiting on transport
// EOF to finish (response body with no declared length).
func (p *Parser) InBodyUntilEOF() bool { return p.macro == macroContentUntilEOF }

// InKnownLengthBody reports whether the parser is mid-way through a
// body whose length was declared up front (Content-Length or
// chunked), so a transport EOF here is a truncation rather than a
// legitimate end-of-message signal.
func (p *Parser) InKnownLengthBody() bool {
	return p.macro == macroContentByLength || p.macro == macroChunks
}
