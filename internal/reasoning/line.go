// Package reasoning decodes the newline-delimited JSON side-channel carried in
// the reasoning field of streamed deltas.
package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/opt"
)

// LineType is the discriminant of a side-channel line.
type LineType string

const (
	TypeToolCallMessage     LineType = "tool_call_message"
	TypeToolResponseChunk   LineType = "tool_response_chunk"
	TypeToolResponseMessage LineType = "tool_response_message"
)

// Line is one decoded side-channel record: *ToolCallMessage,
// *ToolResponseChunk or *ToolResponseMessage.
type Line interface {
	Type() LineType
	isLine()
}

// ToolCallMessage echoes a tool invocation made by the model.
type ToolCallMessage struct {
	Content   opt.Value[string] `json:"content,omitzero"`
	ToolCalls []llm.ToolCall    `json:"tool_calls"`
}

// ToolResponseChunk is one fragment of a streamed tool response. State is the
// merge of every fragment seen so far for ToolCallID, filled in by Decoder.
// A fragment whose payload is an error record carries it in Err instead of
// Chunk and is never merged.
type ToolResponseChunk struct {
	ToolCallID string              `json:"tool_call_id"`
	Chunk      *llm.Chunk          `json:"chunk,omitempty"`
	State      *llm.Chunk          `json:"state,omitempty"`
	Err        *llm.TransportError `json:"-"`
}

// ToolResponseMessage is a complete tool response.
type ToolResponseMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

func (*ToolCallMessage) Type() LineType     { return TypeToolCallMessage }
func (*ToolResponseChunk) Type() LineType   { return TypeToolResponseChunk }
func (*ToolResponseMessage) Type() LineType { return TypeToolResponseMessage }

func (*ToolCallMessage) isLine()     {}
func (*ToolResponseChunk) isLine()   {}
func (*ToolResponseMessage) isLine() {}

func (m *ToolCallMessage) MarshalJSON() ([]byte, error) {
	type alias ToolCallMessage
	return json.Marshal(struct {
		Type LineType `json:"type"`
		*alias
	}{m.Type(), (*alias)(m)})
}

func (m *ToolResponseChunk) MarshalJSON() ([]byte, error) {
	type alias ToolResponseChunk
	return json.Marshal(struct {
		Type  LineType            `json:"type"`
		Error *llm.TransportError `json:"error,omitempty"`
		*alias
	}{m.Type(), m.Err, (*alias)(m)})
}

func (m *ToolResponseMessage) MarshalJSON() ([]byte, error) {
	type alias ToolResponseMessage
	return json.Marshal(struct {
		Type LineType `json:"type"`
		*alias
	}{m.Type(), (*alias)(m)})
}

var (
	errUnknownType   = errors.New("unknown line type")
	errMissingField  = errors.New("missing required field")
	errNotObjectLine = errors.New("not a JSON object")
)

type envelope struct {
	Type       LineType        `json:"type"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []llm.ToolCall  `json:"tool_calls"`
	ToolCallID *string         `json:"tool_call_id"`
	Chunk      json.RawMessage `json:"chunk"`
}

// DecodeLine parses one complete side-channel line. The line must be a JSON
// object whose type is one of the three known tags and whose required fields
// are present; anything else is a *llm.DecodeError.
func DecodeLine(data []byte) (Line, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, llm.NewDecodeError(llm.KindLine, data, errNotObjectLine)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, llm.NewDecodeError(llm.KindLine, data, err)
	}
	line, err := env.line()
	if err != nil {
		return nil, llm.NewDecodeError(llm.KindLine, data, err)
	}
	return line, nil
}

func (env *envelope) line() (Line, error) {
	switch env.Type {
	case TypeToolCallMessage:
		if env.ToolCalls == nil {
			return nil, fmt.Errorf("%w: tool_calls", errMissingField)
		}
		m := &ToolCallMessage{ToolCalls: env.ToolCalls}
		if len(env.Content) > 0 {
			if err := json.Unmarshal(env.Content, &m.Content); err != nil {
				return nil, fmt.Errorf("content: %w", err)
			}
		}
		return m, nil
	case TypeToolResponseChunk:
		if env.ToolCallID == nil || *env.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_call_id", errMissingField)
		}
		if len(env.Chunk) == 0 || bytes.Equal(env.Chunk, []byte("null")) {
			return nil, fmt.Errorf("%w: chunk", errMissingField)
		}
		m := &ToolResponseChunk{ToolCallID: *env.ToolCallID}
		c, err := llm.ParseStreamData(env.Chunk)
		var te *llm.TransportError
		switch {
		case errors.As(err, &te):
			m.Err = te
		case err != nil:
			return nil, fmt.Errorf("chunk: %w", err)
		default:
			m.Chunk = c
		}
		return m, nil
	case TypeToolResponseMessage:
		if env.ToolCallID == nil || *env.ToolCallID == "" {
			return nil, fmt.Errorf("%w: tool_call_id", errMissingField)
		}
		if len(env.Content) == 0 || bytes.Equal(env.Content, []byte("null")) {
			return nil, fmt.Errorf("%w: content", errMissingField)
		}
		m := &ToolResponseMessage{ToolCallID: *env.ToolCallID}
		if err := json.Unmarshal(env.Content, &m.Content); err != nil {
			return nil, fmt.Errorf("content: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w %q", errUnknownType, env.Type)
}
