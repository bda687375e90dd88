package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	errNotObject  = errors.New("not a JSON object")
	errBadChoices = errors.New("choices is not an array")
)

// DecodeChunk decodes one chunk from its JSON wire form. Unknown fields are
// ignored; the value must be a JSON object and choices, when present, an
// array.
func DecodeChunk(data []byte) (*Chunk, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewDecodeError(KindChunk, data, err)
	}
	if raw == nil {
		return nil, NewDecodeError(KindChunk, data, errNotObject)
	}
	if choices, ok := raw["choices"]; ok {
		trimmed := bytes.TrimSpace(choices)
		if !bytes.Equal(trimmed, []byte("null")) && (len(trimmed) == 0 || trimmed[0] != '[') {
			return nil, NewDecodeError(KindChunk, data, errBadChoices)
		}
	}
	var chunk Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, NewDecodeError(KindChunk, data, err)
	}
	return &chunk, nil
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ParseStreamData decodes the payload of one stream line. An in-band error
// record is returned as a *TransportError.
func ParseStreamData(data []byte) (*Chunk, error) {
	if bytes.Contains(data, []byte(`"error"`)) {
		var env errorEnvelope
		if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
			return nil, env.transportError(0)
		}
	}
	return DecodeChunk(data)
}

func (env errorEnvelope) transportError(status int) *TransportError {
	te := &TransportError{
		StatusCode: status,
		Type:       env.Error.Type,
		Message:    env.Error.Message,
	}
	if env.Error.Code != nil {
		te.Code = fmt.Sprint(env.Error.Code)
	}
	return te
}
