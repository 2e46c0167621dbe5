// Package frame turns the raw byte stream of a client connection into
// utterances. An utterance is one burst of text-encoded float samples; its end
// is inferred from an idle pause or a half-close, since the wire format has no
// length prefix.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultIdleTimeout = 500 * time.Millisecond
	DefaultBufferSize  = 4096
)

// ErrConnectionClosed is returned when the peer closes before sending any
// bytes of a new utterance.
var ErrConnectionClosed = errors.New("frame: connection closed")

// Frame holds the decoded samples of one utterance.
type Frame []float32

// DecodeError reports a buffer that is not a bracketed, comma separated list
// of floats.
type DecodeError struct {
	// Offset is the index of the offending token, or -1 for envelope errors.
	Offset int
	Token  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("frame: decode: %v", e.Err)
	}
	return fmt.Sprintf("frame: decode token %d %q: %v", e.Offset, e.Token, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError reports a read that failed for a reason other than an orderly
// close or the idle timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("frame: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var (
	errInvalidUTF8     = errors.New("invalid utf-8")
	errMissingBrackets = errors.New("missing enclosing brackets")
)

// Decode parses a payload such as "[0.01,-0.02,0.15]". Whitespace around the
// envelope and around each token is ignored. "[]" decodes to an empty frame.
func Decode(raw []byte) (Frame, error) {
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Offset: -1, Err: errInvalidUTF8}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) < 2 || text[0] != '[' || text[len(text)-1] != ']' {
		return nil, &DecodeError{Offset: -1, Err: errMissingBrackets}
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return Frame{}, nil
	}

	tokens := strings.Split(body, ",")
	out := make(Frame, 0, len(tokens))
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, &DecodeError{Offset: i, Token: tok, Err: err}
		}
		out = append(out, float32(v))
	}
	return out, nil
}

// Encode renders f in the wire format accepted by Decode.
func Encode(f Frame) []byte {
	buf := make([]byte, 0, 2+len(f)*8)
	buf = append(buf, '[')
	for i, v := range f {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	}
	return append(buf, ']')
}
