package parser

import (
	"github.com/pionweb/pion/core"
	"github.com/pionweb/pion/message"
)

// chunkState is the chunked-transfer micro-state machine:
//
//	ChunkSizeStart → ChunkSize → CR → LF
//	  if size == 0: → FinalCR → FinalLF → Done
//	  else:         → Chunk(size bytes) → CR → LF → ChunkSizeStart
//
// Every CRLF above may also be a lone LF. Chunk extensions (";" ...
// up to the line end) are recognised and ignored.
type chunkState int

const (
	csSizeStart chunkState = iota
	csSize
	csExt
	csSizeCR
	csData
	csDataCR
	csDataLF
	csFinalCR
	csFinalLF
)

type chunkDecoder struct {
	state      chunkState
	size       int64
	sizeDigits int
	remaining  int64
	cache      []byte
}

func (d *chunkDecoder) reset() {
	*d = chunkDecoder{state: csSizeStart}
}

// feed drives the chunk decoder across buf, appending decoded chunk
// payload into d.cache. Returns bytes consumed, whether the
// terminating zero-size chunk's final CRLF has been seen, and any
// parse error.
func (d *chunkDecoder) feed(buf []byte, msg *message.Message, maxContentLength int64) (consumed int, done bool, err *core.Error) {
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		switch d.state {
		case csSizeStart:
			v := hexVal(c)
			if v < 0 {
				return i, false, core.New(core.KindMalformed)
			}
			d.size = int64(v)
			d.sizeDigits = 1
			d.state = csSize
		case csSize:
			switch {
			case c == ';':
				d.state = csExt
			case c == cr:
				d.state = csSizeCR
			case c == lf:
				d.state = csSizeCR
				i-- // reprocess the LF as the end of the size line
			default:
				v := hexVal(c)
				if v < 0 {
					return i, false, core.New(core.KindMalformed)
				}
				d.sizeDigits++
				if d.sizeDigits > MaxChunkSizeDigits {
					return i, false, core.TooLarge(core.FieldChunkSize)
				}
				d.size = d.size*16 + int64(v)
			}
		case csExt:
			switch c {
			case cr:
				d.state = csSizeCR
			case lf:
				d.state = csSizeCR
				i-- // reprocess the LF as the end of the size line
			}
			// any other byte is part of the ignored extension
		case csSizeCR:
			if c != lf {
				return i, false, core.New(core.KindMalformed)
			}
			if d.size == 0 {
				d.state = csFinalCR
				continue
			}
			if int64(len(d.cache))+d.size > maxContentLength {
				return i, false, core.TooLarge(core.FieldBody)
			}
			d.remaining = d.size
			d.state = csData
		case csData:
			n := int64(len(buf) - i)
			if n > d.remaining {
				n = d.remaining
			}
			d.cache = append(d.cache, buf[i:i+int(n)]...)
			d.remaining -= n
			i += int(n) - 1
			if d.remaining == 0 {
				d.state = csDataCR
			}
		case csDataCR:
			switch c {
			case cr:
				d.state = csDataLF
			case lf:
				d.state = csSizeStart
			default:
				return i, false, core.New(core.KindMalformed)
			}
		case csDataLF:
			if c != lf {
				return i, false, core.New(core.KindMalformed)
			}
			d.state = csSizeStart
		case csFinalCR:
			// Trailer headers are not supported, so a bare final
			// CRLF (0\r\n\r\n) is expected here; a lone LF is also
			// accepted per the parser's liberal line-terminator policy.
			switch c {
			case cr:
				d.state = csFinalLF
			case lf:
				return i + 1, true, nil
			default:
				return i, false, core.New(core.KindMalformed)
			}
		case csFinalLF:
			if c != lf {
				return i, false, core.New(core.KindMalformed)
			}
			return i + 1, true, nil
		}
	}
	return len(buf), false, nil
}
