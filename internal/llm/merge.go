package llm

import "github.com/tnglemongrass/deltamerge/internal/merge"

// MergeChunk folds b into a. The result is a fresh *Chunk when anything
// changed and a itself otherwise, so callers can compare pointers to detect
// "this chunk changed the picture". Header fields (id, object, created,
// model) keep the left value.
func MergeChunk(a, b *Chunk) (*Chunk, bool) {
	if b == nil {
		return a, false
	}
	if a == nil {
		return b, true
	}
	choices, choicesChanged := merge.IndexedList(a.Choices, b.Choices, choiceIndex, MergeChoice)
	usage, usageChanged := merge.Optional(a.Usage, b.Usage, MergeUsage)
	fingerprint, fingerprintChanged := merge.Optional(a.SystemFingerprint, b.SystemFingerprint, nil)
	if !choicesChanged && !usageChanged && !fingerprintChanged {
		return a, false
	}
	return &Chunk{
		ID:                a.ID,
		Object:            a.Object,
		Created:           a.Created,
		Model:             a.Model,
		Choices:           choices,
		Usage:             usage,
		SystemFingerprint: fingerprint,
	}, true
}

// MergeChoice folds b into a choice with the same index.
func MergeChoice(a, b Choice) (Choice, bool) {
	delta, deltaChanged := MergeDelta(a.Delta, b.Delta)
	finish, finishChanged := merge.Optional(a.FinishReason, b.FinishReason, nil)
	logprobs, logprobsChanged := merge.Optional(a.Logprobs, b.Logprobs, MergeLogprobs)
	if !deltaChanged && !finishChanged && !logprobsChanged {
		return a, false
	}
	return Choice{
		Index:        a.Index,
		Delta:        delta,
		FinishReason: finish,
		Logprobs:     logprobs,
	}, true
}

// MergeDelta concatenates text fields, keeps the first role, upserts tool
// calls by index and appends images.
func MergeDelta(a, b Delta) (Delta, bool) {
	content, contentChanged := merge.Optional(a.Content, b.Content, merge.String)
	refusal, refusalChanged := merge.Optional(a.Refusal, b.Refusal, merge.String)
	role, roleChanged := merge.Optional(a.Role, b.Role, nil)
	toolCalls, toolCallsChanged := merge.Optional(a.ToolCalls, b.ToolCalls, mergeToolCalls)
	reasoning, reasoningChanged := merge.Optional(a.Reasoning, b.Reasoning, merge.String)
	images, imagesChanged := merge.Optional(a.Images, b.Images, merge.UnboundedList[Image])
	if !contentChanged && !refusalChanged && !roleChanged && !toolCallsChanged && !reasoningChanged && !imagesChanged {
		return a, false
	}
	return Delta{
		Content:   content,
		Refusal:   refusal,
		Role:      role,
		ToolCalls: toolCalls,
		Reasoning: reasoning,
		Images:    images,
	}, true
}

func mergeToolCalls(a, b []ToolCall) ([]ToolCall, bool) {
	return merge.IndexedList(a, b, toolCallIndex, MergeToolCall)
}

// MergeToolCall keeps the first id and type and merges the function.
func MergeToolCall(a, b ToolCall) (ToolCall, bool) {
	id, idChanged := merge.Optional(a.ID, b.ID, nil)
	typ, typChanged := merge.Optional(a.Type, b.Type, nil)
	function, functionChanged := merge.Optional(a.Function, b.Function, MergeFunctionCall)
	if !idChanged && !typChanged && !functionChanged {
		return a, false
	}
	return ToolCall{
		Index:    a.Index,
		ID:       id,
		Type:     typ,
		Function: function,
	}, true
}

// MergeFunctionCall keeps the first name and concatenates arguments.
func MergeFunctionCall(a, b FunctionCall) (FunctionCall, bool) {
	name, nameChanged := merge.Optional(a.Name, b.Name, nil)
	args, argsChanged := merge.Optional(a.Arguments, b.Arguments, merge.String)
	if !nameChanged && !argsChanged {
		return a, false
	}
	return FunctionCall{Name: name, Arguments: args}, true
}

// MergeUsage adds every counter.
func MergeUsage(a, b Usage) (Usage, bool) {
	prompt, promptChanged := merge.Number(a.PromptTokens, b.PromptTokens)
	completion, completionChanged := merge.Number(a.CompletionTokens, b.CompletionTokens)
	total, totalChanged := merge.Number(a.TotalTokens, b.TotalTokens)
	cost, costChanged := merge.Optional(a.Cost, b.Cost, merge.Number[float64])
	promptDetails, promptDetailsChanged := merge.Optional(a.PromptTokensDetails, b.PromptTokensDetails, MergePromptTokensDetails)
	completionDetails, completionDetailsChanged := merge.Optional(a.CompletionTokensDetails, b.CompletionTokensDetails, MergeCompletionTokensDetails)
	if !promptChanged && !completionChanged && !totalChanged && !costChanged && !promptDetailsChanged && !completionDetailsChanged {
		return a, false
	}
	return Usage{
		PromptTokens:            prompt,
		CompletionTokens:        completion,
		TotalTokens:             total,
		Cost:                    cost,
		PromptTokensDetails:     promptDetails,
		CompletionTokensDetails: completionDetails,
	}, true
}

// MergePromptTokensDetails adds every counter.
func MergePromptTokensDetails(a, b PromptTokensDetails) (PromptTokensDetails, bool) {
	cached, cachedChanged := merge.Number(a.CachedTokens, b.CachedTokens)
	audio, audioChanged := merge.Number(a.AudioTokens, b.AudioTokens)
	if !cachedChanged && !audioChanged {
		return a, false
	}
	return PromptTokensDetails{CachedTokens: cached, AudioTokens: audio}, true
}

// MergeCompletionTokensDetails adds every counter.
func MergeCompletionTokensDetails(a, b CompletionTokensDetails) (CompletionTokensDetails, bool) {
	reasoning, reasoningChanged := merge.Number(a.ReasoningTokens, b.ReasoningTokens)
	audio, audioChanged := merge.Number(a.AudioTokens, b.AudioTokens)
	accepted, acceptedChanged := merge.Number(a.AcceptedPredictionTokens, b.AcceptedPredictionTokens)
	rejected, rejectedChanged := merge.Number(a.RejectedPredictionTokens, b.RejectedPredictionTokens)
	if !reasoningChanged && !audioChanged && !acceptedChanged && !rejectedChanged {
		return a, false
	}
	return CompletionTokensDetails{
		ReasoningTokens:          reasoning,
		AudioTokens:              audio,
		AcceptedPredictionTokens: accepted,
		RejectedPredictionTokens: rejected,
	}, true
}

// MergeLogprobs appends token lists.
func MergeLogprobs(a, b Logprobs) (Logprobs, bool) {
	content, contentChanged := merge.Optional(a.Content, b.Content, merge.UnboundedList[TokenLogprob])
	refusal, refusalChanged := merge.Optional(a.Refusal, b.Refusal, merge.UnboundedList[TokenLogprob])
	if !contentChanged && !refusalChanged {
		return a, false
	}
	return Logprobs{Content: content, Refusal: refusal}, true
}

func choiceIndex(c Choice) int { return c.Index }

func toolCallIndex(t ToolCall) int { return t.Index }
