// Package chunked implements ChunkDecoder: a non-blocking, pull-based RFC
// 7230 §4.1 chunked transfer-encoding state machine (spec §4.4).
//
// Unlike a typical bufio-backed chunked reader (compare
// shockwave/pkg/shockwave/http11/chunked.go, which blocks on the
// underlying io.Reader), this decoder never performs I/O itself: the
// caller Feeds it raw transport bytes and Reads decoded bytes back out.
// Blocking on the transport is entirely the caller's responsibility — see
// spec §9's Open Question about the source's incomplete, commented-out
// pull path.
package chunked

import (
	"github.com/pkg/errors"

	"github.com/planetsite/httplisten/headers"
)

// Phase is one state of the chunk decoder's state machine (spec §3).
type Phase int

const (
	PhaseNone Phase = iota
	PhaseSize
	PhaseSizeEOL
	PhaseData
	PhaseDataEOL
	PhaseTrailer
	PhaseEnd
)

// maxChunkSize is the RFC 7230-legal ceiling (2^31 - 1, per spec §4.4).
const maxChunkSize = 1<<31 - 1

var (
	// ErrMalformedSize indicates a non-hex byte in a chunk-size line.
	ErrMalformedSize = errors.New("chunked: malformed chunk size")
	// ErrChunkTooLarge indicates a chunk size exceeding 2^31-1.
	ErrChunkTooLarge = errors.New("chunked: chunk size exceeds maximum")
	// ErrMissingCRLF indicates a required CRLF terminator was absent.
	ErrMissingCRLF = errors.New("chunked: missing CRLF terminator")
	// ErrMalformedTrailer indicates a malformed trailer header line.
	ErrMalformedTrailer = errors.New("chunked: malformed trailer header")
	// ErrPrematureEnd indicates the input ended before the decoder reached
	// PhaseEnd.
	ErrPrematureEnd = errors.New("chunked: premature end of body")
)

// Decoder is a non-blocking chunked transfer-encoding decoder.
//
// Usage: the caller repeatedly calls Feed with newly-read transport bytes,
// then calls Read to drain decoded output. WantMore reports whether the
// decoder needs more input to make progress; it is true until the
// terminating zero-size chunk and its trailers/final CRLF have all been
// consumed.
type Decoder struct {
	phase          Phase
	chunkRemaining uint64

	in    []byte // buffered, not-yet-consumed raw input
	inPos int    // read cursor into in

	sizeAcc  []byte // hex digits accumulated for the current chunk-size line
	inExt    bool   // currently inside a ";ext" region of the size line
	lineAcc []byte // bytes accumulated for the current trailer line

	buffered []byte // decoded output not yet returned to the caller
	trailers *headers.Set

	err error
}

// New creates a Decoder ready to decode a chunked body, starting in
// PhaseSize (spec: "None → Size on first byte").
func New() *Decoder {
	return &Decoder{
		phase:    PhaseSize,
		trailers: headers.New(true),
	}
}

// WantMore reports whether the decoder requires more input bytes before it
// can produce more output or reach PhaseEnd.
func (d *Decoder) WantMore() bool {
	return d.phase != PhaseEnd
}

// Trailers returns the trailer header bag accumulated in PhaseTrailer.
func (d *Decoder) Trailers() *headers.Set {
	return d.trailers
}

// Feed appends newly-available transport bytes to the decoder's input
// buffer. It performs no parsing by itself; call Read to make progress.
func (d *Decoder) Feed(data []byte) {
	if len(data) == 0 {
		return
	}
	if d.inPos > 0 {
		d.in = append(d.in[:0], d.in[d.inPos:]...)
		d.inPos = 0
	}
	d.in = append(d.in, data...)
}

// Read decodes as much of the buffered input as it can and copies up to
// len(out) decoded bytes into out, returning the number written. It never
// blocks: if the input buffer is exhausted mid-state, it returns with
// WantMore()==true and no error. A non-nil error is sticky and returned on
// every subsequent call.
func (d *Decoder) Read(out []byte) (n int, err error) {
	if d.err != nil {
		return 0, d.err
	}

	if err := d.advance(); err != nil {
		d.err = err
		return 0, err
	}

	n = copy(out, d.buffered)
	d.buffered = d.buffered[n:]
	return n, nil
}

// advance runs the state machine until input is exhausted, an error
// occurs, or PhaseEnd is reached; all decoded bytes go to d.buffered.
func (d *Decoder) advance() error {
	for {
		switch d.phase {
		case PhaseSize:
			if !d.advanceSize() {
				return nil // need more input
			}
		case PhaseSizeEOL:
			if !d.advanceSizeEOL() {
				return nil
			}
		case PhaseData:
			if !d.advanceData() {
				return nil
			}
		case PhaseDataEOL:
			if !d.advanceDataEOL() {
				return nil
			}
		case PhaseTrailer:
			if !d.advanceTrailer() {
				return nil
			}
		case PhaseEnd:
			return nil
		}
		if d.err != nil {
			return d.err
		}
	}
}

func (d *Decoder) nextByte() (byte, bool) {
	if d.inPos >= len(d.in) {
		return 0, false
	}
	b := d.in[d.inPos]
	d.inPos++
	return b, true
}

func (d *Decoder) advanceSize() bool {
	for {
		b, ok := d.nextByte()
		if !ok {
			return false
		}
		switch {
		case b == ';':
			d.inExt = true
		case d.inExt:
			// discard extension bytes until CR
			if b == '\r' {
				d.inExt = false
				d.phase = PhaseSizeEOL
				return true
			}
		case b == '\r':
			d.phase = PhaseSizeEOL
			return true
		case isHex(b):
			d.sizeAcc = append(d.sizeAcc, b)
		default:
			d.err = errors.Wrapf(ErrMalformedSize, "byte %q", b)
			return true
		}
	}
}

func (d *Decoder) advanceSizeEOL() bool {
	b, ok := d.nextByte()
	if !ok {
		return false
	}
	if b != '\n' {
		d.err = ErrMissingCRLF
		return true
	}

	size, err := parseHex(d.sizeAcc)
	d.sizeAcc = d.sizeAcc[:0]
	if err != nil {
		d.err = err
		return true
	}
	if size > maxChunkSize {
		d.err = ErrChunkTooLarge
		return true
	}

	d.chunkRemaining = size
	if size == 0 {
		d.phase = PhaseTrailer
	} else {
		d.phase = PhaseData
	}
	return true
}

func (d *Decoder) advanceData() bool {
	if d.chunkRemaining == 0 {
		d.phase = PhaseDataEOL
		return true
	}
	avail := len(d.in) - d.inPos
	if avail == 0 {
		return false
	}
	take := avail
	if uint64(take) > d.chunkRemaining {
		take = int(d.chunkRemaining)
	}
	d.buffered = append(d.buffered, d.in[d.inPos:d.inPos+take]...)
	d.inPos += take
	d.chunkRemaining -= uint64(take)
	if d.chunkRemaining == 0 {
		d.phase = PhaseDataEOL
	}
	return true
}

func (d *Decoder) advanceDataEOL() bool {
	for len(d.lineAcc) < 2 {
		b, ok := d.nextByte()
		if !ok {
			return false
		}
		d.lineAcc = append(d.lineAcc, b)
	}
	if d.lineAcc[0] != '\r' || d.lineAcc[1] != '\n' {
		d.err = ErrMissingCRLF
		d.lineAcc = d.lineAcc[:0]
		return true
	}
	d.lineAcc = d.lineAcc[:0]
	d.phase = PhaseSize
	return true
}

func (d *Decoder) advanceTrailer() bool {
	for {
		b, ok := d.nextByte()
		if !ok {
			return false
		}
		if b == '\n' {
			line := d.lineAcc
			d.lineAcc = nil
			if len(line) == 0 || (len(line) == 1 && line[0] == '\r') {
				d.phase = PhaseEnd
				return true
			}
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if err := addTrailerLine(d.trailers, line); err != nil {
				d.err = err
				return true
			}
			continue
		}
		d.lineAcc = append(d.lineAcc, b)
	}
}

func addTrailerLine(set *headers.Set, line []byte) error {
	idx := indexByte(line, ':')
	if idx < 0 {
		return errors.Wrapf(ErrMalformedTrailer, "line %q", line)
	}
	name := trimSpace(line[:idx])
	value := trimSpace(line[idx+1:])
	if len(name) == 0 {
		return errors.Wrapf(ErrMalformedTrailer, "line %q", line)
	}
	set.AddRaw(string(name), string(value))
	return nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func parseHex(digits []byte) (uint64, error) {
	if len(digits) == 0 {
		return 0, ErrMalformedSize
	}
	var v uint64
	for _, b := range digits {
		v <<= 4
		switch {
		case b >= '0' && b <= '9':
			v |= uint64(b - '0')
		case b >= 'a' && b <= 'f':
			v |= uint64(b-'a') + 10
		case b >= 'A' && b <= 'F':
			v |= uint64(b-'A') + 10
		default:
			return 0, ErrMalformedSize
		}
	}
	return v, nil
}

// Finish signals that the transport has reached EOF. If the decoder has
// not yet reached PhaseEnd, this is a framing violation.
func (d *Decoder) Finish() error {
	if d.phase != PhaseEnd {
		if d.err == nil {
			d.err = ErrPrematureEnd
		}
		return d.err
	}
	return nil
}
