package llm

import "fmt"

// TransportError is a failure reported by the upstream service: a non-200
// status or an in-band error record. It is passed through to the consumer
// unmodified and never merged.
type TransportError struct {
	StatusCode int    `json:"status_code,omitempty"`
	Type       string `json:"type,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("stream error (%s): %s", e.Type, e.Message)
	}
	return "stream error: " + e.Message
}

// DecodeKind names what was being decoded when a DecodeError occurred.
type DecodeKind string

const (
	KindChunk  DecodeKind = "chunk"
	KindLine   DecodeKind = "line"
	KindRecord DecodeKind = "record"
)

// DecodeError reports input that is not valid JSON or does not have the
// expected shape.
type DecodeError struct {
	Kind  DecodeKind
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

const maxErrorInput = 256

// NewDecodeError builds a DecodeError, truncating long input.
func NewDecodeError(kind DecodeKind, input []byte, err error) *DecodeError {
	s := string(input)
	if len(s) > maxErrorInput {
		s = s[:maxErrorInput] + "..."
	}
	return &DecodeError{Kind: kind, Input: s, Err: err}
}
