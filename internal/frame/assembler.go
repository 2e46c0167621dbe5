package frame

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

type readOutcome int

const (
	readData readOutcome = iota
	readClosed
	readTimeout
	readFailed
)

// Assembler batches reads into utterances: the first read blocks without a
// deadline, every following read waits at most IdleTimeout.
type Assembler struct {
	IdleTimeout time.Duration
	BufferSize  int
}

// Receive reads and decodes the next utterance from conn. The int result is
// the number of wire bytes consumed, reported even when decoding fails or the
// connection breaks mid-utterance.
func (a Assembler) Receive(conn net.Conn) (Frame, int, error) {
	raw, err := a.collect(conn)
	if err != nil {
		return nil, len(raw), err
	}
	f, err := Decode(raw)
	return f, len(raw), err
}

// collect returns the raw bytes of one utterance. On a failure after data has
// arrived the bytes read so far come back alongside the error.
func (a Assembler) collect(conn net.Conn) ([]byte, error) {
	idle := a.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	size := a.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, &TransportError{Op: "clear deadline", Err: err}
	}
	outcome, n, err := read(conn, buf)
	switch outcome {
	case readClosed:
		return nil, ErrConnectionClosed
	case readTimeout, readFailed:
		return nil, &TransportError{Op: "read", Err: err}
	}
	data := append(make([]byte, 0, n), buf[:n]...)

	defer conn.SetReadDeadline(time.Time{})
	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return data, &TransportError{Op: "set deadline", Err: err}
		}
		outcome, n, err = read(conn, buf)
		switch outcome {
		case readData:
			data = append(data, buf[:n]...)
		case readClosed, readTimeout:
			return data, nil
		case readFailed:
			return data, &TransportError{Op: "read", Err: err}
		}
	}
}

// read performs one Read and classifies the result. Bytes win over errors;
// the error resurfaces on the next call.
func read(conn net.Conn, buf []byte) (readOutcome, int, error) {
	n, err := conn.Read(buf)
	if n > 0 {
		return readData, n, nil
	}
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return readClosed, 0, err
	case errors.Is(err, os.ErrDeadlineExceeded):
		return readTimeout, 0, err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return readTimeout, 0, err
	}
	return readFailed, 0, err
}
