package llm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("stream closed")

const maxLineSize = 10 * 1024 * 1024

// Reader reads chunks from an SSE body or an NDJSON file of chunks. Lines may
// carry a "data:" prefix; SSE comments and event metadata are skipped, and
// "[DONE]" ends the stream.
//
// Recv must be called from one goroutine; Close may be called from any
// goroutine, including while Recv blocks.
type Reader struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	err     error // owned by the Recv goroutine
	closed  atomic.Bool
}

// NewReader wraps rc. Closing the Reader closes rc.
func NewReader(rc io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{rc: rc, scanner: scanner}
}

// Recv returns the next chunk, io.EOF at the end of the stream, or the
// first error encountered. Errors are sticky.
func (r *Reader) Recv() (*Chunk, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.closed.Load() {
		r.err = ErrStreamClosed
		return nil, r.err
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || isSSEField(line) {
			continue
		}
		data := line
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if data == "[DONE]" {
			r.err = io.EOF
			return nil, r.err
		}
		chunk, err := ParseStreamData([]byte(data))
		if err != nil {
			r.err = err
			return nil, err
		}
		return chunk, nil
	}
	switch err := r.scanner.Err(); {
	case r.closed.Load():
		r.err = ErrStreamClosed
	case err != nil:
		r.err = fmt.Errorf("read stream: %w", err)
	default:
		r.err = io.EOF
	}
	return nil, r.err
}

// Close releases the underlying body. It is safe to call more than once and
// concurrently with Recv, which then returns ErrStreamClosed.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.rc.Close()
}

func isSSEField(line string) bool {
	for _, p := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}
