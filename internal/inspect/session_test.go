package inspect

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tnglemongrass/deltamerge/internal/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Model = "test-model"
	cfg.Render = false
	return cfg
}

func inputs(lines ...string) InputReader {
	idx := 0
	return func(_ string) (string, error) {
		if idx >= len(lines) {
			return "", io.EOF
		}
		line := lines[idx]
		idx++
		return line, nil
	}
}

const judgmentRecord = `{\"choice_id\":\"X\",\"request_id\":\"r\",\"model\":\"m\",\"temperature\":0,\"top_p\":1,\"provider\":\"p\",\"reasoning\":\"ok\",\"weight\":2,\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":1,\"total_tokens\":2}}`

func TestNewSession(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSession(testConfig(), &buf)
	require.NoError(t, err)
	assert.Nil(t, s.State())
	assert.Empty(t, s.Records())
}

func TestNewSessionRendered(t *testing.T) {
	cfg := testConfig()
	cfg.Render = true
	s, err := NewSession(cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestRunQuit(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, s.Run(inputs("/quit", `{"id":"1","choices":[]}`)))
	assert.Nil(t, s.State())
}

func TestRunEOF(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, s.Run(inputs()))
}

func TestRunMergesChunks(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSession(testConfig(), &buf)
	require.NoError(t, err)

	err = s.Run(inputs(
		`data: {"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":""}}]}`,
		"/state",
		"/quit",
	))
	require.NoError(t, err)

	ch, ok := s.State().Choice(0)
	require.True(t, ok)
	assert.Equal(t, "Hello", ch.Delta.Content.Or(""))
	out := buf.String()
	assert.Contains(t, out, "chunk 2: merged")
	assert.Contains(t, out, "chunk 3: no change")
	assert.Contains(t, out, "## Choice 0")
}

func TestRunReportsBadInput(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSession(testConfig(), &buf)
	require.NoError(t, err)
	require.NoError(t, s.Run(inputs("hello there", `{"error":{"message":"quota"}}`)))
	assert.Contains(t, buf.String(), "Error: decode chunk")
	assert.Contains(t, buf.String(), "quota")
	assert.Nil(t, s.State())
}

func TestStateJSON(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "null", s.showState("json"))

	require.NoError(t, s.PushLine(`{"id":"1","choices":[{"index":0,"delta":{"content":"x"}}]}`))
	assert.JSONEq(t, `{"id":"1","created":0,"model":"","choices":[{"index":0,"delta":{"content":"x"}}]}`, s.showState("json"))
}

func TestSideChannelAndRank(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSession(testConfig(), &buf)
	require.NoError(t, err)

	line := `{"type":"tool_response_message","tool_call_id":"t1","content":"` + judgmentRecord + `"}`
	half := len(line) / 2
	chunk := func(reasoning string) string {
		return `{"id":"1","choices":[{"index":0,"delta":{"reasoning":` + quote(reasoning) + `}}]}`
	}

	require.NoError(t, s.PushLine(chunk(line[:half])))
	assert.Empty(t, s.Records())
	require.NoError(t, s.PushLine(chunk(line[half:]+"\n")))
	require.Len(t, s.Records(), 1)

	require.NoError(t, s.PushLine(chunk(`{"type":"tool_response_chunk","tool_call_id":"t2","chunk":{"id":"n","choices":[{"index":0,"delta":{"content":"nested"}}]}}`)))
	require.NoError(t, s.PushLine("data: [DONE]"))
	require.Len(t, s.Records(), 2)

	buf.Reset()
	assert.Empty(t, s.showRank())
	assert.Contains(t, buf.String(), "winner: **X** (1.000)")

	buf.Reset()
	assert.Empty(t, s.showReasoning("t2"))
	assert.Contains(t, buf.String(), "nested")
	assert.Contains(t, s.showReasoning("t9"), "No tool response")
	assert.Contains(t, s.showReasoning(""), "tool response `t1`")
	assert.Contains(t, s.showReasoning(""), "choice 0 tool responses: t2")

	assert.ErrorContains(t, s.PushLine(chunk("x")), "already finished")
	s.Reset()
	assert.Nil(t, s.State())
	assert.Empty(t, s.Records())
	assert.Equal(t, "No side-channel records.", s.showReasoning(""))
}

func TestSideChannelError(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	err = s.PushLine(`{"id":"1","choices":[{"index":0,"delta":{"reasoning":"{oops\n"}}]}`)
	assert.ErrorContains(t, err, "side-channel")
	// The chunk itself is still merged.
	assert.NotNil(t, s.State())
	assert.Contains(t, s.showReasoning(""), "choice 0: failed: decode line")
}

func TestReasoningShowsPendingBytes(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, s.PushLine(`{"id":"1","choices":[{"index":1,"delta":{"reasoning":"{\"type\""}}]}`))
	assert.Equal(t, "choice 1: 7 byte(s) pending\n", s.showReasoning(""))
}

func TestReportsAllChoicesFinished(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSession(testConfig(), &buf)
	require.NoError(t, err)

	require.NoError(t, s.Run(inputs(
		`{"id":"1","choices":[{"index":0,"delta":{"content":"a"}},{"index":1,"delta":{"content":"b"}}]}`,
		`{"id":"1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"1","choices":[{"index":1,"delta":{},"finish_reason":"length"}]}`,
		`{"id":"1","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
	)))
	assert.Equal(t, 1, strings.Count(buf.String(), "all choices finished"))
	assert.Contains(t, buf.String(), "chunk 3: merged\nall choices finished\n")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.sse")
	body := strings.Join([]string{
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`data: {"id":"1","choices":[{"index":0,"delta":{"content":"b"}}]}`,
		`data: [DONE]`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	var buf bytes.Buffer
	s, err := NewSession(testConfig(), &buf)
	require.NoError(t, err)
	require.NoError(t, s.Run(inputs("/load "+path, "/quit")))

	assert.Contains(t, buf.String(), "Loaded 2 chunk(s)")
	assert.Contains(t, buf.String(), "stream finished after 2 chunk(s)")
	ch, _ := s.State().Choice(0)
	assert.Equal(t, "ab", ch.Delta.Content.Or(""))
}

func TestLoadErrors(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	assert.Contains(t, s.load(""), "Usage")
	assert.Contains(t, s.load("/nonexistent/file"), "Error reading")

	path := filepath.Join(t.TempDir(), "bad.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"1","choices":[]}`+"\n{nope\n"), 0644))
	assert.Contains(t, s.load(path), "Error after 1 chunk(s)")
}

func TestShowConfig(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)

	output := s.showConfig()
	assert.Contains(t, output, "test-model")
	assert.Contains(t, output, "Transport: sse")
}

func TestEmptyInput(t *testing.T) {
	s, err := NewSession(testConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, s.Run(inputs("", "  ", "/quit")))
	assert.Nil(t, s.State())
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
