// Package judgment decodes complete judgment records and turns them into
// rank fragments.
package judgment

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"iter"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/opt"
	"github.com/tnglemongrass/deltamerge/internal/rank"
	"github.com/tnglemongrass/deltamerge/internal/reasoning"
)

// Usage counts the tokens spent producing a record.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Record is one judgment produced for a candidate answer.
type Record struct {
	ChoiceID    string                     `json:"choice_id"`
	RequestID   string                     `json:"request_id"`
	Model       string                     `json:"model"`
	Temperature float64                    `json:"temperature"`
	TopP        float64                    `json:"top_p"`
	Provider    string                     `json:"provider"`
	Reasoning   string                     `json:"reasoning"`
	Response    opt.Value[json.RawMessage] `json:"response,omitzero"`
	Weight      float64                    `json:"weight"`
	Usage       Usage                      `json:"usage"`
}

// Fragment converts r into a rank fragment.
func (r *Record) Fragment() rank.Fragment {
	return rank.Fragment{
		ChoiceID:  r.ChoiceID,
		Weight:    r.Weight,
		Reasoning: r.Reasoning,
		Response:  r.Response,
	}
}

var schema = newSchema()

func newSchema() *openapi3.Schema {
	usage := openapi3.NewObjectSchema().WithProperties(map[string]*openapi3.Schema{
		"prompt_tokens":     openapi3.NewIntegerSchema(),
		"completion_tokens": openapi3.NewIntegerSchema(),
		"total_tokens":      openapi3.NewIntegerSchema(),
	})
	usage.Required = []string{"prompt_tokens", "completion_tokens", "total_tokens"}

	s := openapi3.NewObjectSchema().WithProperties(map[string]*openapi3.Schema{
		"choice_id":   openapi3.NewStringSchema(),
		"request_id":  openapi3.NewStringSchema(),
		"model":       openapi3.NewStringSchema(),
		"provider":    openapi3.NewStringSchema(),
		"reasoning":   openapi3.NewStringSchema(),
		"temperature": openapi3.NewFloat64Schema(),
		"top_p":       openapi3.NewFloat64Schema(),
		"weight":      openapi3.NewFloat64Schema(),
		"usage":       usage,
	})
	s.Required = []string{
		"choice_id", "request_id", "model", "provider", "reasoning",
		"temperature", "top_p", "weight", "usage",
	}
	return s
}

// Decode validates one complete JSON value and decodes it. Missing or
// mistyped required fields are a *llm.DecodeError; there is no partial
// result.
func Decode(data []byte) (*Record, error) {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, llm.NewDecodeError(llm.KindRecord, data, err)
	}
	if err := schema.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return nil, llm.NewDecodeError(llm.KindRecord, data, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, llm.NewDecodeError(llm.KindRecord, data, err)
	}
	return &r, nil
}

// DecodeAll reads newline-delimited records from r. Blank lines are skipped.
// The sequence ends after the first error.
func DecodeAll(r io.Reader) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			rec, err := Decode(line)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// FromLines decodes the content of every tool response message as a record
// and yields its fragment. Other line kinds carry no judgment and are
// skipped. The sequence ends after the first error.
func FromLines(lines iter.Seq[reasoning.Line]) iter.Seq2[rank.Fragment, error] {
	return func(yield func(rank.Fragment, error) bool) {
		for line := range lines {
			switch l := line.(type) {
			case *reasoning.ToolCallMessage, *reasoning.ToolResponseChunk:
				continue
			case *reasoning.ToolResponseMessage:
				rec, err := Decode([]byte(l.Content))
				if err != nil {
					yield(rank.Fragment{}, err)
					return
				}
				if !yield(rec.Fragment(), nil) {
					return
				}
			}
		}
	}
}
