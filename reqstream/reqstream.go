// Package reqstream implements RequestStream and ChunkedRequestStream: body
// readers that preserve preamble-parser over-read bytes and bound reads by
// content-length or chunk framing (spec §4.5).
package reqstream

import (
	"io"

	"github.com/pkg/errors"

	"github.com/planetsite/httplisten/chunked"
	"github.com/planetsite/httplisten/headers"
)

// ErrFramingViolation indicates the peer violated the advertised body
// framing while FlushInput was draining a request body before a
// keep-alive reuse.
var ErrFramingViolation = errors.New("reqstream: framing violation while flushing body")

// Stream is the common interface both body-reader flavours satisfy.
type Stream interface {
	io.Reader
	// FlushInput discards any remaining body bytes, returning
	// ErrFramingViolation if the peer misbehaves (spec §4.5).
	FlushInput() error
}

// RequestStream serves a content-length-bounded (or unbounded, -1) body,
// first draining bytes the preamble parser already over-read past the
// blank line, then delegating to the transport.
type RequestStream struct {
	transport     io.Reader
	carry         []byte
	contentLength int64 // -1 means unbounded
	totalRead     int64
}

// New creates a RequestStream. carry is the slice of body bytes the
// preamble parser read past the terminating blank line; it is consumed
// before any further transport reads occur. contentLength of -1 means
// unbounded.
func New(transport io.Reader, carry []byte, contentLength int64) *RequestStream {
	return &RequestStream{
		transport:     transport,
		carry:         carry,
		contentLength: contentLength,
	}
}

func (s *RequestStream) remaining() int64 {
	if s.contentLength < 0 {
		return -1
	}
	r := s.contentLength - s.totalRead
	if r < 0 {
		return 0
	}
	return r
}

// Read implements io.Reader per the algorithm in spec §4.5: drain the
// preamble carry window first, then delegate to the transport, clamped by
// the remaining content-length budget. It returns 0, io.EOF once the
// content-length budget is spent.
func (s *RequestStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if rem := s.remaining(); rem == 0 {
		return 0, io.EOF
	}

	if len(s.carry) > 0 {
		max := len(p)
		if rem := s.remaining(); rem >= 0 && int64(max) > rem {
			max = int(rem)
		}
		n := copy(p[:max], s.carry)
		s.carry = s.carry[n:]
		s.totalRead += int64(n)
		return n, nil
	}

	max := len(p)
	if rem := s.remaining(); rem >= 0 && int64(max) > rem {
		max = int(rem)
	}
	if max == 0 {
		return 0, io.EOF
	}

	n, err := s.transport.Read(p[:max])
	s.totalRead += int64(n)
	return n, err
}

// FlushInput discards any remaining bytes of the body, bounded by the
// advertised content-length. A transport error that is not io.EOF is
// reported as ErrFramingViolation.
func (s *RequestStream) FlushInput() error {
	buf := make([]byte, 4096)
	for {
		rem := s.remaining()
		if rem == 0 {
			return nil
		}
		_, err := s.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(ErrFramingViolation, err.Error())
		}
	}
}

// ChunkedStream decodes a chunked-transfer-encoded body using chunked.Decoder,
// pulling transport bytes into a scratch buffer and feeding the decoder as
// needed. It sets a sticky EOF once the decoder reports completion and no
// decoded bytes remain (spec §4.5).
type ChunkedStream struct {
	transport  io.Reader
	decoder    *chunked.Decoder
	scratch    []byte
	noMoreData bool
}

// NewChunked creates a ChunkedStream. carry is fed to the decoder
// immediately, exactly as RequestStream drains its carry window first.
func NewChunked(transport io.Reader, carry []byte) *ChunkedStream {
	d := chunked.New()
	if len(carry) > 0 {
		d.Feed(carry)
	}
	return &ChunkedStream{
		transport: transport,
		decoder:   d,
		scratch:   make([]byte, 4096),
	}
}

// Read implements io.Reader, pulling more transport bytes into the decoder
// only when the decoder's buffered output is exhausted and it still wants
// more input.
func (s *ChunkedStream) Read(p []byte) (int, error) {
	if s.noMoreData {
		return 0, io.EOF
	}

	for {
		n, err := s.decoder.Read(p)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
		if !s.decoder.WantMore() {
			s.noMoreData = true
			return 0, io.EOF
		}

		rn, rerr := s.transport.Read(s.scratch)
		if rn > 0 {
			s.decoder.Feed(s.scratch[:rn])
		}
		if rerr != nil {
			if rerr == io.EOF {
				if ferr := s.decoder.Finish(); ferr != nil {
					return 0, ferr
				}
				s.noMoreData = true
				return 0, io.EOF
			}
			return 0, rerr
		}
	}
}

// Trailers returns the trailer headers captured once decoding completes.
func (s *ChunkedStream) Trailers() *headers.Set { return s.decoder.Trailers() }

// FlushInput discards the remainder of a chunked body so the connection can
// be safely reused for a subsequent keep-alive request.
func (s *ChunkedStream) FlushInput() error {
	buf := make([]byte, 4096)
	for {
		_, err := s.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(ErrFramingViolation, err.Error())
		}
	}
}
