package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/stream"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		held      string
		text      string
		wantLines []string
		wantRest  string
	}{
		{"no newline", "", `{"a":`, nil, `{"a":`},
		{"completes held", `{"a":`, "1}\n", []string{`{"a":1}`}, ""},
		{"several lines", "x", "1\n2\n3", []string{"x1", "2"}, "3"},
		{"empty lines kept", "", "\n\n", []string{"", ""}, ""},
		{"empty input", "", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, rest := Split(tt.held, tt.text)
			assert.Equal(t, tt.wantLines, lines)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestFeedBuffersPartialLine(t *testing.T) {
	d := NewDecoder()

	lines, err := d.Feed(`{"type":"tool_call_message"`)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, `{"type":"tool_call_message"`, d.Held())

	lines, err = d.Feed(`,"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search"}}]}` + "\n")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	m, ok := lines[0].(*ToolCallMessage)
	require.True(t, ok)
	require.Len(t, m.ToolCalls, 1)
	assert.Equal(t, "call_1", m.ToolCalls[0].ID.Or(""))
	assert.True(t, m.Content.IsAbsent())
	assert.Empty(t, d.Held())
}

func TestFeedMergesToolResponseChunks(t *testing.T) {
	d := NewDecoder()
	text := strings.Join([]string{
		`{"type":"tool_response_chunk","tool_call_id":"a","chunk":{"id":"n1","choices":[{"index":0,"delta":{"content":"Hel"}}]}}`,
		`{"type":"tool_response_chunk","tool_call_id":"b","chunk":{"id":"n2","choices":[{"index":0,"delta":{"content":"x"}}]}}`,
		`{"type":"tool_response_chunk","tool_call_id":"a","chunk":{"id":"n1","choices":[{"index":0,"delta":{"content":"lo"}}]}}`,
		``,
	}, "\n")

	lines, err := d.Feed(text)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	last := lines[2].(*ToolResponseChunk)
	assert.Equal(t, "a", last.ToolCallID)
	ch, _ := last.State.Choice(0)
	assert.Equal(t, "Hello", ch.Delta.Content.Or(""))
	ch, _ = last.Chunk.Choice(0)
	assert.Equal(t, "lo", ch.Delta.Content.Or(""))

	// Earlier snapshots are not touched by later merges.
	first := lines[0].(*ToolResponseChunk)
	ch, _ = first.State.Choice(0)
	assert.Equal(t, "Hel", ch.Delta.Content.Or(""))

	assert.Equal(t, []string{"a", "b"}, d.ToolCallIDs())
	state, ok := d.ToolResponse("b")
	require.True(t, ok)
	ch, _ = state.Choice(0)
	assert.Equal(t, "x", ch.Delta.Content.Or(""))

	_, ok = d.ToolResponse("missing")
	assert.False(t, ok)
}

func TestFeedToolResponseErrorPayload(t *testing.T) {
	d := NewDecoder()
	lines, err := d.Feed(`{"type":"tool_response_chunk","tool_call_id":"a","chunk":{"id":"n","choices":[{"index":0,"delta":{"content":"ok"}}]}}` + "\n" +
		`{"type":"tool_response_chunk","tool_call_id":"a","chunk":{"error":{"message":"tool failed"}}}` + "\n")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	failed := lines[1].(*ToolResponseChunk)
	require.NotNil(t, failed.Err)
	assert.Equal(t, "tool failed", failed.Err.Message)
	assert.Nil(t, failed.Chunk)
	ch, _ := failed.State.Choice(0)
	assert.Equal(t, "ok", ch.Delta.Content.Or(""))
}

func TestFeedToolResponseMessage(t *testing.T) {
	d := NewDecoder()
	lines, err := d.Feed(`{"type":"tool_response_message","tool_call_id":"a","content":"{\"answer\":42}"}` + "\n")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	m := lines[0].(*ToolResponseMessage)
	assert.Equal(t, "a", m.ToolCallID)
	assert.Equal(t, `{"answer":42}`, m.Content)
}

func TestFeedRejectsBadLines(t *testing.T) {
	for _, input := range []string{
		`not json`,
		`[1]`,
		`{"type":"unknown"}`,
		`{"content":"no type"}`,
		`{"type":"tool_call_message"}`,
		`{"type":"tool_response_chunk","chunk":{"choices":[]}}`,
		`{"type":"tool_response_chunk","tool_call_id":"a"}`,
		`{"type":"tool_response_chunk","tool_call_id":"a","chunk":{"choices":7}}`,
		`{"type":"tool_response_message","tool_call_id":"a"}`,
		`{"type":"tool_response_message","tool_call_id":"a","content":5}`,
	} {
		t.Run(input, func(t *testing.T) {
			_, err := NewDecoder().Feed(input + "\n")
			var de *llm.DecodeError
			require.True(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, llm.KindLine, de.Kind)
		})
	}
}

func TestFeedErrorIsSticky(t *testing.T) {
	d := NewDecoder()
	good := `{"type":"tool_response_message","tool_call_id":"a","content":"x"}`
	lines, err := d.Feed(good + "\n{broken\n" + good + "\n")
	require.Error(t, err)
	require.Len(t, lines, 1, "lines before the failure are returned")

	_, again := d.Feed(good + "\n")
	assert.Same(t, err, again)
	_, again = d.Finish()
	assert.Same(t, err, again)
	assert.Same(t, err, d.Err())
}

func TestFeedSkipsBlankLines(t *testing.T) {
	d := NewDecoder()
	lines, err := d.Feed("\n  \r\n" + `{"type":"tool_response_message","tool_call_id":"a","content":""}` + "\r\n")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestFinishDecodesValidTail(t *testing.T) {
	d := NewDecoder()
	lines, err := d.Feed(`{"type":"tool_response_message","tool_call_id":"a","content":"done"}`)
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = d.Finish()
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, TypeToolResponseMessage, lines[0].Type())
	assert.Empty(t, d.Held())
}

func TestFinishDiscardsIncompleteTail(t *testing.T) {
	d := NewDecoder()
	_, err := d.Feed(`{"type":"tool_response_message","tool_call_id":"a","con`)
	require.NoError(t, err)

	lines, err := d.Finish()
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Empty(t, d.Held())
}

func TestFinishRejectsWellFormedButInvalidTail(t *testing.T) {
	d := NewDecoder()
	_, err := d.Feed(`{"type":"nope"}`)
	require.NoError(t, err)
	_, err = d.Finish()
	var de *llm.DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestLineMarshalIncludesType(t *testing.T) {
	lines, err := NewDecoder().Feed(`{"type":"tool_response_message","tool_call_id":"a","content":"x"}` + "\n")
	require.NoError(t, err)
	out, err := json.Marshal(lines[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"tool_response_message","tool_call_id":"a","content":"x"}`, string(out))
}

func chunkWithReasoning(t *testing.T, parts map[int]string) *llm.Chunk {
	t.Helper()
	type delta struct {
		Reasoning string `json:"reasoning"`
	}
	type choice struct {
		Index int   `json:"index"`
		Delta delta `json:"delta"`
	}
	var choices []choice
	for _, idx := range []int{0, 1, 2} {
		if text, ok := parts[idx]; ok {
			choices = append(choices, choice{Index: idx, Delta: delta{Reasoning: text}})
		}
	}
	raw, err := json.Marshal(map[string]any{"id": "s", "choices": choices})
	require.NoError(t, err)
	c, err := llm.DecodeChunk(raw)
	require.NoError(t, err)
	return c
}

func TestStreamDecoderPerChoice(t *testing.T) {
	msg := func(id string) string {
		return `{"type":"tool_response_message","tool_call_id":"` + id + `","content":"c"}`
	}
	s := NewStreamDecoder()

	recs, err := s.Observe(chunkWithReasoning(t, map[int]string{0: msg("a")[:10], 1: msg("b") + "\n"}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].ChoiceIndex)

	recs, err = s.Observe(chunkWithReasoning(t, map[int]string{0: msg("a")[10:] + "\n"}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].ChoiceIndex)
	assert.Equal(t, "a", recs[0].Line.(*ToolResponseMessage).ToolCallID)

	_, err = s.Observe(chunkWithReasoning(t, map[int]string{1: msg("tail")}))
	require.NoError(t, err)
	recs, err = s.Finish()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].ChoiceIndex)

	_, ok := s.Decoder(0)
	assert.True(t, ok)
	_, ok = s.Decoder(2)
	assert.False(t, ok)
	assert.Equal(t, []int{0, 1}, s.Indices())
}

func TestDecode(t *testing.T) {
	line := `{"type":"tool_response_message","tool_call_id":"a","content":"c"}`
	src := stream.Chunks(
		chunkWithReasoning(t, map[int]string{0: line[:20]}),
		chunkWithReasoning(t, map[int]string{0: line[20:] + "\n{bad"}),
		chunkWithReasoning(t, map[int]string{0: "\n"}),
	)

	var recs []Record
	var errs []error
	for rec, err := range Decode(context.Background(), src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	require.Len(t, errs, 1)
	var de *llm.DecodeError
	assert.True(t, errors.As(errs[0], &de))
}
