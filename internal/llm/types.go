// Package llm provides the canonical chunk types of OpenAI-compatible chat
// completion streams and the rules for merging them.
package llm

import "github.com/tnglemongrass/deltamerge/internal/opt"

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason tells why a choice stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StreamOptions asks the server for a trailing usage chunk.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatCompletionRequest is the request body for /v1/chat/completions.
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// Chunk is one streamed fragment of a chat completion. A merged Chunk is the
// cumulative state of a stream; it is never mutated once built.
type Chunk struct {
	ID                string            `json:"id"`
	Object            string            `json:"object,omitempty"`
	Created           int64             `json:"created"`
	Model             string            `json:"model"`
	Choices           []Choice          `json:"choices"`
	Usage             opt.Value[Usage]  `json:"usage,omitzero"`
	SystemFingerprint opt.Value[string] `json:"system_fingerprint,omitzero"`
}

// Choice is identified by Index, unique within one stream.
type Choice struct {
	Index        int                     `json:"index"`
	Delta        Delta                   `json:"delta"`
	FinishReason opt.Value[FinishReason] `json:"finish_reason,omitzero"`
	Logprobs     opt.Value[Logprobs]     `json:"logprobs,omitzero"`
}

// Delta holds the incremental content of a choice.
type Delta struct {
	Content   opt.Value[string]     `json:"content,omitzero"`
	Refusal   opt.Value[string]     `json:"refusal,omitzero"`
	Role      opt.Value[Role]       `json:"role,omitzero"`
	ToolCalls opt.Value[[]ToolCall] `json:"tool_calls,omitzero"`
	Reasoning opt.Value[string]     `json:"reasoning,omitzero"`
	Images    opt.Value[[]Image]    `json:"images,omitzero"`
}

// ToolCall is a tool invocation built up across chunks, identified by Index
// within its choice.
type ToolCall struct {
	Index    int                     `json:"index"`
	ID       opt.Value[string]       `json:"id,omitzero"`
	Type     opt.Value[string]       `json:"type,omitzero"`
	Function opt.Value[FunctionCall] `json:"function,omitzero"`
}

// FunctionCall names a function and carries its JSON arguments text.
type FunctionCall struct {
	Name      opt.Value[string] `json:"name,omitzero"`
	Arguments opt.Value[string] `json:"arguments,omitzero"`
}

// Image is an image fragment produced by the model.
type Image struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

// ImageURL locates image data, usually as a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Usage tracks token counts. Every counter is additive across chunks.
type Usage struct {
	PromptTokens            int                                `json:"prompt_tokens"`
	CompletionTokens        int                                `json:"completion_tokens"`
	TotalTokens             int                                `json:"total_tokens"`
	Cost                    opt.Value[float64]                 `json:"cost,omitzero"`
	PromptTokensDetails     opt.Value[PromptTokensDetails]     `json:"prompt_tokens_details,omitzero"`
	CompletionTokensDetails opt.Value[CompletionTokensDetails] `json:"completion_tokens_details,omitzero"`
}

// PromptTokensDetails breaks down prompt tokens.
type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
	AudioTokens  int `json:"audio_tokens"`
}

// CompletionTokensDetails breaks down completion tokens.
type CompletionTokensDetails struct {
	ReasoningTokens          int `json:"reasoning_tokens"`
	AudioTokens              int `json:"audio_tokens"`
	AcceptedPredictionTokens int `json:"accepted_prediction_tokens"`
	RejectedPredictionTokens int `json:"rejected_prediction_tokens"`
}

// Logprobs carries per-token log probabilities.
type Logprobs struct {
	Content opt.Value[[]TokenLogprob] `json:"content,omitzero"`
	Refusal opt.Value[[]TokenLogprob] `json:"refusal,omitzero"`
}

// TokenLogprob is the log probability of one sampled token.
type TokenLogprob struct {
	Token       string       `json:"token"`
	Bytes       []int        `json:"bytes,omitempty"`
	Logprob     float64      `json:"logprob"`
	TopLogprobs []TopLogprob `json:"top_logprobs,omitempty"`
}

// TopLogprob is one of the most likely alternatives for a token.
type TopLogprob struct {
	Token   string  `json:"token"`
	Bytes   []int   `json:"bytes,omitempty"`
	Logprob float64 `json:"logprob"`
}

// Choice returns the choice with the given index.
func (c *Chunk) Choice(index int) (Choice, bool) {
	for _, ch := range c.Choices {
		if ch.Index == index {
			return ch, true
		}
	}
	return Choice{}, false
}

// IsComplete reports whether every choice has a finish reason.
func (c *Chunk) IsComplete() bool {
	if len(c.Choices) == 0 {
		return false
	}
	for _, ch := range c.Choices {
		if !ch.FinishReason.IsPresent() {
			return false
		}
	}
	return true
}
