package parser

import (
	"strconv"
	"strings"

	"github.com/pionweb/pion/core"
	"github.com/pionweb/pion/hdr"
)

// decideBodyMode chooses the body mode once headers are complete:
// Transfer-Encoding wins over Content-Length, which wins over
// reading until the connection closes.
func (p *Parser) decideBodyMode() *core.Error {
	if te := p.msg.Header.Get(hdr.TransferEncoding); te != "" {
		if !containsToken(te, "chunked") {
			return core.New(core.KindUnsupportedTransferEncoding)
		}
		p.macro = macroChunks
		p.chunk.reset()
		return nil
	}

	if cl := p.msg.Header.Get(hdr.ContentLength); cl != "" {
		n, ok := parseNonNegativeInt(cl)
		if !ok {
			return core.New(core.KindMalformed)
		}
		if n > p.maxContentLength {
			return core.TooLarge(core.FieldBody)
		}
		p.contentLength = n
		if n == 0 {
			p.msg.Content = []byte{}
			p.macro = macroDone
			return nil
		}
		p.msg.Content = make([]byte, 0, n)
		p.macro = macroContentByLength
		return nil
	}

	if p.Side == SideResponse && !p.msg.IsContentLengthImplied() {
		p.macro = macroContentUntilEOF
		return nil
	}

	p.macro = macroDone
	return nil
}

// feedByLength appends up to the remaining declared content length
// from buf, returning the number of bytes consumed and whether the
// body is now complete.
func (p *Parser) feedByLength(buf []byte) (consumed int, done bool) {
	remaining := p.contentLength - p.contentRead
	n := int64(len(buf))
	if n > remaining {
		n = remaining
	}
	p.msg.Content = append(p.msg.Content, buf[:n]...)
	p.contentRead += n
	return int(n), p.contentRead >= p.contentLength
}

// feedUntilEOF appends all of buf to the accumulating content buffer;
// the caller decides completion by observing transport EOF and
// calling Parser.FinishUntilEOF.
func (p *Parser) feedUntilEOF(buf []byte) int {
	p.untilEOFBuf = append(p.untilEOFBuf, buf...)
	return len(buf)
}

// containsToken reports whether a comma-separated header value
// contains token, case-insensitively.
func containsToken(v, token string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// parseNonNegativeInt parses a decimal non-negative integer strictly
// (no sign, no whitespace), matching the Content-Length grammar.
func parseNonNegativeInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
