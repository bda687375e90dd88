package oaiadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/stream"
)

func intPtr(i int) *int { return &i }

func TestConvert(t *testing.T) {
	resp := openai.ChatCompletionStreamResponse{
		ID:      "c1",
		Object:  "chat.completion.chunk",
		Created: 7,
		Model:   "gpt",
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					Index:    intPtr(2),
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "search", Arguments: `{"q"`},
				}},
			},
			Logprobs: &openai.ChatCompletionStreamChoiceLogprobs{
				Content: []openai.ChatCompletionTokenLogprob{{Token: "a", Bytes: []int64{97}, Logprob: -1}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: &openai.Usage{
			PromptTokens:        3,
			TotalTokens:         3,
			PromptTokensDetails: &openai.PromptTokensDetails{CachedTokens: 1},
		},
	}

	c := Convert(resp)
	assert.Equal(t, "c1", c.ID)
	assert.EqualValues(t, 7, c.Created)
	assert.True(t, c.SystemFingerprint.IsAbsent())

	ch, ok := c.Choice(0)
	require.True(t, ok)
	assert.True(t, ch.Delta.Content.IsAbsent())
	assert.Equal(t, llm.RoleAssistant, ch.Delta.Role.Or(""))
	assert.Equal(t, llm.FinishToolCalls, ch.FinishReason.Or(""))

	calls := ch.Delta.ToolCalls.Or(nil)
	require.Len(t, calls, 1)
	assert.Equal(t, 2, calls[0].Index)
	assert.Equal(t, "call_1", calls[0].ID.Or(""))
	assert.Equal(t, "function", calls[0].Type.Or(""))
	fn, _ := calls[0].Function.Get()
	assert.Equal(t, `{"q"`, fn.Arguments.Or(""))

	lp := ch.Logprobs.Or(llm.Logprobs{})
	tokens := lp.Content.Or(nil)
	require.Len(t, tokens, 1)
	assert.Equal(t, []int{97}, tokens[0].Bytes)
	assert.True(t, lp.Refusal.IsAbsent())

	u, ok := c.Usage.Get()
	require.True(t, ok)
	assert.Equal(t, 3, u.TotalTokens)
	assert.Equal(t, 1, u.PromptTokensDetails.Or(llm.PromptTokensDetails{}).CachedTokens)
	assert.True(t, u.CompletionTokensDetails.IsAbsent())
}

func TestConvertEmptyStringsAreAbsent(t *testing.T) {
	c := Convert(openai.ChatCompletionStreamResponse{
		ID:      "c1",
		Choices: []openai.ChatCompletionStreamChoice{{Index: 1}},
	})
	ch, ok := c.Choice(1)
	require.True(t, ok)
	assert.True(t, ch.Delta.Content.IsAbsent())
	assert.True(t, ch.Delta.Role.IsAbsent())
	assert.True(t, ch.Delta.ToolCalls.IsAbsent())
	assert.True(t, ch.FinishReason.IsAbsent())
	assert.True(t, ch.Logprobs.IsAbsent())
	assert.True(t, c.Usage.IsAbsent())
}

type fakeReceiver struct {
	resps  []openai.ChatCompletionStreamResponse
	err    error
	closed int
}

func (f *fakeReceiver) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(f.resps) == 0 {
		if f.err != nil {
			return openai.ChatCompletionStreamResponse{}, f.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	r := f.resps[0]
	f.resps = f.resps[1:]
	return r, nil
}

func (f *fakeReceiver) Close() error {
	f.closed++
	return nil
}

func TestStreamFeedsAccumulator(t *testing.T) {
	delta := func(s string) openai.ChatCompletionStreamResponse {
		return openai.ChatCompletionStreamResponse{
			ID:      "c1",
			Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: s}}},
		}
	}
	r := &fakeReceiver{resps: []openai.ChatCompletionStreamResponse{delta("Hel"), delta("lo, "), delta("world")}}

	final, err := stream.Collect(context.Background(), NewStream(r))
	require.NoError(t, err)
	ch, _ := final.Choice(0)
	assert.Equal(t, "Hello, world", ch.Delta.Content.Or(""))
	assert.Equal(t, 1, r.closed)
}

func TestStreamConvertsAPIError(t *testing.T) {
	r := &fakeReceiver{err: fmt.Errorf("error, %w", &openai.APIError{Code: "rate_limit_exceeded", Message: "slow down", Type: "requests", HTTPStatusCode: 429})}
	_, err := NewStream(r).Recv()
	var te *llm.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 429, te.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", te.Code)
	assert.Equal(t, "slow down", te.Message)
}

func TestDial(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`,
		``,
		`data: {"id":"1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse)
	}))
	defer srv.Close()

	s, err := Dial(context.Background(), srv.URL+"/", "k", llm.ChatCompletionRequest{
		Model:    "m",
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	final, err := stream.Collect(context.Background(), s)
	require.NoError(t, err)
	ch, _ := final.Choice(0)
	assert.Equal(t, "Hi there", ch.Delta.Content.Or(""))
	assert.Equal(t, llm.FinishStop, ch.FinishReason.Or(""))
}

func TestDialStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), srv.URL, "bad", llm.ChatCompletionRequest{Model: "m"})
	var te *llm.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "bad key", te.Message)
}
