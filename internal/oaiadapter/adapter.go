// Package oaiadapter adapts go-openai chat completion streams to canonical
// chunks.
package oaiadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/opt"
)

// Receiver is the part of *openai.ChatCompletionStream used by Stream.
type Receiver interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Stream yields canonical chunks from a go-openai stream.
type Stream struct {
	r Receiver
}

// NewStream wraps r.
func NewStream(r Receiver) *Stream {
	return &Stream{r: r}
}

// Recv returns the next chunk or io.EOF. API failures are returned as
// *llm.TransportError.
func (s *Stream) Recv() (*llm.Chunk, error) {
	resp, err := s.r.Recv()
	if err != nil {
		return nil, convertError(err)
	}
	return Convert(resp), nil
}

// Close aborts the stream.
func (s *Stream) Close() error {
	return s.r.Close()
}

// Dial opens a streaming chat completion with go-openai. baseURL is the API
// root without the /v1 suffix.
func Dial(ctx context.Context, baseURL, apiKey string, req llm.ChatCompletionRequest) (*Stream, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}
	client := openai.NewClientWithConfig(cfg)

	oreq := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	}
	for _, m := range req.Messages {
		oreq.Messages = append(oreq.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	if req.StreamOptions != nil {
		oreq.StreamOptions = &openai.StreamOptions{IncludeUsage: req.StreamOptions.IncludeUsage}
	}

	s, err := client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", convertError(err))
	}
	return NewStream(s), nil
}

func convertError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		te := &llm.TransportError{
			StatusCode: apiErr.HTTPStatusCode,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
		}
		if apiErr.Code != nil {
			te.Code = fmt.Sprint(apiErr.Code)
		}
		return te
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &llm.TransportError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}

// Convert maps a go-openai stream response to a chunk. go-openai cannot tell
// a missing string from an empty one, so empty strings become Absent.
func Convert(resp openai.ChatCompletionStreamResponse) *llm.Chunk {
	c := &llm.Chunk{
		ID:                resp.ID,
		Object:            resp.Object,
		Created:           resp.Created,
		Model:             resp.Model,
		SystemFingerprint: opt.NonZero(resp.SystemFingerprint),
		Choices:           make([]llm.Choice, 0, len(resp.Choices)),
	}
	if resp.Usage != nil {
		c.Usage = opt.Some(convertUsage(*resp.Usage))
	}
	for _, ch := range resp.Choices {
		choice := llm.Choice{
			Index:        ch.Index,
			Delta:        convertDelta(ch.Delta),
			FinishReason: opt.NonZero(llm.FinishReason(ch.FinishReason)),
		}
		if ch.Logprobs != nil {
			choice.Logprobs = opt.Some(llm.Logprobs{
				Content: tokenLogprobs(ch.Logprobs.Content),
				Refusal: tokenLogprobs(ch.Logprobs.Refusal),
			})
		}
		c.Choices = append(c.Choices, choice)
	}
	return c
}

func convertDelta(d openai.ChatCompletionStreamChoiceDelta) llm.Delta {
	out := llm.Delta{
		Content: opt.NonZero(d.Content),
		Refusal: opt.NonZero(d.Refusal),
		Role:    opt.NonZero(llm.Role(d.Role)),
	}
	if len(d.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, 0, len(d.ToolCalls))
		for i, tc := range d.ToolCalls {
			idx := i
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := llm.ToolCall{
				Index: idx,
				ID:    opt.NonZero(tc.ID),
				Type:  opt.NonZero(string(tc.Type)),
			}
			if tc.Function.Name != "" || tc.Function.Arguments != "" {
				call.Function = opt.Some(llm.FunctionCall{
					Name:      opt.NonZero(tc.Function.Name),
					Arguments: opt.NonZero(tc.Function.Arguments),
				})
			}
			calls = append(calls, call)
		}
		out.ToolCalls = opt.Some(calls)
	}
	return out
}

func convertUsage(u openai.Usage) llm.Usage {
	out := llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if d := u.PromptTokensDetails; d != nil {
		out.PromptTokensDetails = opt.Some(llm.PromptTokensDetails{
			CachedTokens: d.CachedTokens,
			AudioTokens:  d.AudioTokens,
		})
	}
	if d := u.CompletionTokensDetails; d != nil {
		out.CompletionTokensDetails = opt.Some(llm.CompletionTokensDetails{
			ReasoningTokens: d.ReasoningTokens,
			AudioTokens:     d.AudioTokens,
		})
	}
	return out
}

func tokenLogprobs(in []openai.ChatCompletionTokenLogprob) opt.Value[[]llm.TokenLogprob] {
	if len(in) == 0 {
		return opt.Value[[]llm.TokenLogprob]{}
	}
	out := make([]llm.TokenLogprob, 0, len(in))
	for _, t := range in {
		tl := llm.TokenLogprob{Token: t.Token, Bytes: toInts(t.Bytes), Logprob: t.Logprob}
		for _, top := range t.TopLogprobs {
			tl.TopLogprobs = append(tl.TopLogprobs, llm.TopLogprob{
				Token:   top.Token,
				Bytes:   toInts(top.Bytes),
				Logprob: top.Logprob,
			})
		}
		out = append(out, tl)
	}
	return opt.Some(out)
}

func toInts(b []int64) []int {
	if b == nil {
		return nil
	}
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
