package parser

import (
	"github.com/pionweb/pion/core"
	"github.com/pionweb/pion/hdr"
)

// feedLine drives lineState byte by byte through the request line (or
// status line) and the header section. It returns the number of
// bytes consumed from buf, whether the header section is now
// complete, and a parse error if a token state rejected a byte.
//
// Line terminators accept lone LF as well as CRLF everywhere.
func (p *Parser) feedLine(buf []byte) (consumed int, done bool, err *core.Error) {
	for i, c := range buf {
		switch p.line {

		// ---- request line: method ----
		case lsMethodStart:
			if !isToken(c) {
				return i, false, core.New(core.KindMalformed)
			}
			p.methodBuf = append(p.methodBuf[:0], c)
			p.line = lsMethod
		case lsMethod:
			if c == sp {
				p.msg.SetMethod(string(p.methodBuf))
				p.line = lsUriStem
				break
			}
			if !isToken(c) {
				return i, false, core.New(core.KindMalformed)
			}
			if len(p.methodBuf) >= MaxMethodLength {
				return i, false, core.TooLarge(core.FieldMethod)
			}
			p.methodBuf = append(p.methodBuf, c)

		// ---- request line: resource + query ----
		case lsUriStem:
			switch {
			case c == sp:
				p.msg.SetResource(string(p.resourceBuf))
				p.line = lsVerH
			case c == '?':
				p.msg.SetResource(string(p.resourceBuf))
				p.line = lsUriQuery
			case c == cr || c == lf:
				return i, false, core.New(core.KindMalformed)
			default:
				if len(p.resourceBuf) >= MaxResourceLength {
					return i, false, core.TooLarge(core.FieldResource)
				}
				p.resourceBuf = append(p.resourceBuf, c)
			}
		case lsUriQuery:
			switch {
			case c == sp:
				p.msg.Query = string(p.queryBuf)
				p.line = lsVerH
			case c == cr || c == lf:
				return i, false, core.New(core.KindMalformed)
			default:
				if len(p.queryBuf) >= MaxQueryLength {
					return i, false, core.TooLarge(core.FieldQuery)
				}
				p.queryBuf = append(p.queryBuf, c)
			}

		// ---- version: "HTTP/" literal ----
		case lsVerH:
			if c != 'H' {
				return i, false, core.New(core.KindMalformed)
			}
			p.line = lsVerT1
		case lsVerT1:
			if c != 'T' {
				return i, false, core.New(core.KindMalformed)
			}
			p.line = lsVerT2
		case lsVerT2:
			if c != 'T' {
				return i, false, core.New(core.KindMalformed)
			}
			p.line = lsVerP
		case lsVerP:
			if c != 'P' {
				return i, false, core.New(core.KindMalformed)
			}
			p.line = lsVerSlash
		case lsVerSlash:
			if c != '/' {
				return i, false, core.New(core.KindMalformed)
			}
			p.line = lsMajStart
		case lsMajStart:
			if !isDigit(c) {
				return i, false, core.New(core.KindMalformed)
			}
			p.verMajor = int(c - '0')
			p.line = lsMaj
		case lsMaj:
			switch {
			case c == '.':
				p.line = lsMinStart
			case isDigit(c):
				p.verMajor = p.verMajor*10 + int(c-'0')
			default:
				return i, false, core.New(core.KindMalformed)
			}
		case lsMinStart:
			if !isDigit(c) {
				return i, false, core.New(core.KindMalformed)
			}
			p.verMinor = int(c - '0')
			p.line = lsMin
		case lsMin:
			switch {
			case isDigit(c):
				p.verMinor = p.verMinor*10 + int(c-'0')
			case p.Side == SideRequest && c == cr:
				p.msg.SetVersion(p.verMajor, p.verMinor)
				p.line = lsExpectingLF
			case p.Side == SideRequest && c == lf:
				p.msg.SetVersion(p.verMajor, p.verMinor)
				p.macro = macroHeaders
				p.line = lsHeaderStart
			case p.Side == SideResponse && c == sp:
				p.msg.SetVersion(p.verMajor, p.verMinor)
				p.line = lsStatusCodeStart
			default:
				return i, false, core.New(core.KindMalformed)
			}

		// ---- status line (response only): code + message ----
		case lsStatusCodeStart:
			if !isDigit(c) {
				return i, false, core.New(core.KindMalformed)
			}
			p.statusCode = int(c - '0')
			p.line = lsStatusCode
		case lsStatusCode:
			switch {
			case isDigit(c):
				p.statusCode = p.statusCode*10 + int(c-'0')
				if p.statusCode > 999 {
					return i, false, core.New(core.KindMalformed)
				}
			case c == sp:
				p.msg.StatusCode = uint16(p.statusCode)
				p.line = lsStatusMessage
			default:
				return i, false, core.New(core.KindMalformed)
			}
		case lsStatusMessage:
			switch {
			case c == cr:
				p.msg.StatusMessage = string(p.statusMsg)
				p.line = lsExpectingLF
			case c == lf:
				p.msg.StatusMessage = string(p.statusMsg)
				p.macro = macroHeaders
				p.line = lsHeaderStart
			default:
				if len(p.statusMsg) >= MaxStatusMessageLen {
					return i, false, core.TooLarge(core.FieldStatusMsg)
				}
				p.statusMsg = append(p.statusMsg, c)
			}

		// ---- shared: line terminators ----
		case lsExpectingLF:
			if c != lf {
				return i, false, core.New(core.KindMalformed)
			}
			p.macro = macroHeaders
			p.line = lsHeaderStart
		case lsExpectingCR:
			if c != lf {
				return i, false, core.New(core.KindMalformed)
			}
			p.line = lsHeaderStart

		// ---- header section ----
		case lsHeaderStart:
			switch {
			case c == cr:
				p.line = lsExpectingFinalLF
			case c == lf:
				done = true
				return i + 1, true, nil
			case c == sp || c == ht:
				p.line = lsHeaderWhitespace
			default:
				if !isToken(c) {
					return i, false, core.New(core.KindMalformed)
				}
				p.headerName = append(p.headerName[:0], c)
				p.line = lsHeaderName
			}
		case lsHeaderWhitespace:
			switch {
			case c == sp || c == ht:
				// still consuming the folded-line's leading LWS
			case c == cr || c == lf:
				return i, false, core.New(core.KindMalformed)
			default:
				// LWS folding: a CRLF followed by SP/TAB joins onto
				// the preceding header's value with a single SP.
				p.headerValue = append(p.headerValue[:0], []byte(p.lastValue())...)
				p.headerValue = append(p.headerValue, sp, c)
				p.folding = true
				p.line = lsHeaderValue
			}
		case lsHeaderName:
			switch {
			case c == ':':
				p.line = lsSpaceBeforeValue
			case !isToken(c):
				return i, false, core.New(core.KindMalformed)
			default:
				if len(p.headerName) >= MaxHeaderNameLength {
					return i, false, core.TooLarge(core.FieldHeaderName)
				}
				p.headerName = append(p.headerName, c)
			}
		case lsSpaceBeforeValue:
			switch {
			case c == sp || c == ht:
				// skip leading whitespace before the value
			case c == cr:
				p.commitHeader()
				p.line = lsExpectingCR
			case c == lf:
				p.commitHeader()
				p.line = lsHeaderStart
			default:
				p.headerValue = append(p.headerValue[:0], c)
				p.line = lsHeaderValue
			}
		case lsHeaderValue:
			switch {
			case c == cr:
				p.commitValue()
				p.line = lsExpectingCR
			case c == lf:
				p.commitValue()
				p.line = lsHeaderStart
			default:
				if len(p.headerValue) >= MaxHeaderValueLength {
					return i, false, core.TooLarge(core.FieldHeaderValue)
				}
				p.headerValue = append(p.headerValue, c)
			}

		case lsExpectingFinalLF, lsExpectingFinalCR:
			if c != lf {
				return i, false, core.New(core.KindMalformed)
			}
			done = true
			return i + 1, true, nil
		}
	}
	return len(buf), done, nil
}

// commitHeader adds the accumulated header-name/value pair to the
// message and resets the scratch buffers. An empty-value line (a bare
// "Name:" followed directly by CRLF, never entering HeaderValue) is
// valid and adds an empty value.
func (p *Parser) commitHeader() {
	name := string(p.headerName)
	value := string(p.headerValue)
	p.msg.Header.Add(name, value)
	p.lastHeaderName = hdr.CanonicalHeaderKey(name)
	p.headerName = p.headerName[:0]
	p.headerValue = p.headerValue[:0]
}

// commitValue finishes a HeaderValue run. For a normal header line
// this is the same as commitHeader; for a folded continuation line it
// instead replaces the preceding header's last value in place.
func (p *Parser) commitValue() {
	if !p.folding {
		p.commitHeader()
		return
	}
	if vs := p.msg.Header[p.lastHeaderName]; len(vs) > 0 {
		vs[len(vs)-1] = string(p.headerValue)
	}
	p.headerValue = p.headerValue[:0]
	p.folding = false
}

// lastValue returns the most recently committed value for
// p.lastHeaderName, or "" before any header has been seen.
func (p *Parser) lastValue() string {
	if vs := p.msg.Header[p.lastHeaderName]; len(vs) > 0 {
		return vs[len(vs)-1]
	}
	return ""
}
