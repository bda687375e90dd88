// Package inspect runs an interactive session that merges chunks typed or
// loaded by the user and shows the resulting state.
package inspect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tnglemongrass/deltamerge/internal/commands"
	"github.com/tnglemongrass/deltamerge/internal/config"
	"github.com/tnglemongrass/deltamerge/internal/judgment"
	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/merge"
	"github.com/tnglemongrass/deltamerge/internal/rank"
	"github.com/tnglemongrass/deltamerge/internal/reasoning"
	"github.com/tnglemongrass/deltamerge/internal/render"
	"github.com/tnglemongrass/deltamerge/internal/stream"
)

// Prompt is shown before each input line.
const Prompt = "deltamerge> "

// InputReader reads a line of user input. Returns the line and any error (io.EOF on end).
type InputReader func(prompt string) (string, error)

// Session holds the merged state of one stream being inspected.
type Session struct {
	cfg      *config.Config
	renderer *render.Renderer
	cmdReg   *commands.Registry
	writer   io.Writer
	log      *logrus.Entry

	acc     stream.Accumulator
	dec     *reasoning.StreamDecoder
	records []reasoning.Record
	chunks  int
	done    bool
}

// NewSession creates a new inspector session from the given configuration.
func NewSession(cfg *config.Config, w io.Writer) (*Session, error) {
	if w == nil {
		w = os.Stdout
	}
	r := render.NewPlain(w)
	if cfg.Render {
		var err error
		if r, err = render.NewRenderer(w); err != nil {
			return nil, fmt.Errorf("create renderer: %w", err)
		}
	}

	s := &Session{
		cfg:      cfg,
		renderer: r,
		writer:   w,
		log:      logrus.WithField("session", stream.NewID()),
		dec:      reasoning.NewStreamDecoder(),
	}

	reg := commands.NewRegistry(w)
	commands.RegisterDefaults(reg, commands.Callbacks{
		OnReset:     s.Reset,
		OnState:     s.showState,
		OnReasoning: s.showReasoning,
		OnRank:      s.showRank,
		OnLoad:      s.load,
		OnConfig:    s.showConfig,
	})
	s.cmdReg = reg

	return s, nil
}

// Run starts the main loop using the provided input reader. Every
// non-command line is a chunk in SSE or NDJSON form.
func (s *Session) Run(readInput InputReader) error {
	for {
		input, err := readInput(Prompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if output, isCmd := s.cmdReg.Execute(input); isCmd {
			if output == commands.Quit {
				return nil
			}
			fmt.Fprintln(s.writer, output)
			continue
		}

		if err := s.PushLine(input); err != nil {
			fmt.Fprintf(s.writer, "Error: %v\n", err)
		}
	}
}

// PushLine decodes one stream line and merges it. "[DONE]" ends the stream
// and flushes the side-channel decoders.
func (s *Session) PushLine(line string) error {
	data := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data:"))
	if data == "[DONE]" {
		return s.finish()
	}
	c, err := llm.ParseStreamData([]byte(data))
	if err != nil {
		return err
	}
	return s.Push(c)
}

// Push merges c into the state and feeds its reasoning fragments to the
// side-channel decoders.
func (s *Session) Push(c *llm.Chunk) (err error) {
	defer merge.Recover(&err)
	if s.done {
		return errors.New("stream already finished; /reset to start over")
	}
	wasComplete := s.acc.State() != nil && s.acc.State().IsComplete()
	state, changed := s.acc.Push(c)
	s.chunks++
	s.log.WithFields(logrus.Fields{"chunk": s.chunks, "changed": changed}).Debug("chunk merged")

	recs, decErr := s.dec.Observe(c)
	s.addRecords(recs)
	if decErr != nil {
		return fmt.Errorf("side-channel: %w", decErr)
	}
	if !changed {
		fmt.Fprintf(s.writer, "chunk %d: no change\n", s.chunks)
	} else {
		fmt.Fprintf(s.writer, "chunk %d: merged\n", s.chunks)
	}
	if !wasComplete && state.IsComplete() {
		fmt.Fprintln(s.writer, "all choices finished")
	}
	return nil
}

// State returns the merged state, nil before the first chunk.
func (s *Session) State() *llm.Chunk { return s.acc.State() }

// Records returns the side-channel records decoded so far.
func (s *Session) Records() []reasoning.Record { return slices.Clone(s.records) }

// Reset drops the merged state and decoders.
func (s *Session) Reset() {
	s.acc.Reset()
	s.dec = reasoning.NewStreamDecoder()
	s.records = nil
	s.chunks = 0
	s.done = false
}

func (s *Session) finish() error {
	if s.done {
		return nil
	}
	s.done = true
	recs, err := s.dec.Finish()
	s.addRecords(recs)
	fmt.Fprintf(s.writer, "stream finished after %d chunk(s)\n", s.chunks)
	if err != nil {
		return fmt.Errorf("side-channel: %w", err)
	}
	return nil
}

func (s *Session) addRecords(recs []reasoning.Record) {
	for _, r := range recs {
		fmt.Fprint(s.writer, render.Record(r))
	}
	s.records = append(s.records, recs...)
}

func (s *Session) showState(args string) string {
	state := s.acc.State()
	if args == "json" {
		if state == nil {
			return "null"
		}
		out, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Sprintf("Error encoding state: %v", err)
		}
		return string(out)
	}
	if err := s.renderer.Render(render.Snapshot(state)); err != nil {
		return fmt.Sprintf("Render error: %v", err)
	}
	return ""
}

func (s *Session) showReasoning(args string) string {
	if args == "" {
		var sb strings.Builder
		for _, r := range s.records {
			sb.WriteString(render.Record(r))
		}
		for _, idx := range s.dec.Indices() {
			d, _ := s.dec.Decoder(idx)
			if ids := d.ToolCallIDs(); len(ids) > 0 {
				fmt.Fprintf(&sb, "choice %d tool responses: %s\n", idx, strings.Join(ids, ", "))
			}
			if held := d.Held(); held != "" {
				fmt.Fprintf(&sb, "choice %d: %d byte(s) pending\n", idx, len(held))
			}
			if err := d.Err(); err != nil {
				fmt.Fprintf(&sb, "choice %d: failed: %v\n", idx, err)
			}
		}
		if sb.Len() == 0 {
			return "No side-channel records."
		}
		return sb.String()
	}
	for _, idx := range s.dec.Indices() {
		d, _ := s.dec.Decoder(idx)
		if state, ok := d.ToolResponse(args); ok {
			if err := s.renderer.Render(render.Snapshot(state)); err != nil {
				return fmt.Sprintf("Render error: %v", err)
			}
			return ""
		}
	}
	return fmt.Sprintf("No tool response for %s.", args)
}

func (s *Session) showRank() string {
	lines := func(yield func(reasoning.Line) bool) {
		for _, r := range s.records {
			if !yield(r.Line) {
				return
			}
		}
	}
	var agg rank.Aggregator
	var rankErr error
	for f, err := range judgment.FromLines(lines) {
		if err != nil {
			rankErr = err
			break
		}
		agg.Add(f)
	}
	if err := s.renderer.Render(render.Summary(agg.Summary())); err != nil {
		return fmt.Sprintf("Render error: %v", err)
	}
	if rankErr != nil {
		return fmt.Sprintf("Stopped at invalid record: %v", rankErr)
	}
	return ""
}

func (s *Session) load(args string) string {
	if args == "" {
		return "Usage: /load <file>"
	}
	f, err := os.Open(args)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %v", args, err)
	}
	r := llm.NewReader(f)
	defer r.Close()

	before := s.chunks
	for {
		c, err := r.Recv()
		if errors.Is(err, io.EOF) {
			if ferr := s.finish(); ferr != nil {
				return fmt.Sprintf("Error: %v", ferr)
			}
			break
		}
		if err != nil {
			return fmt.Sprintf("Error after %d chunk(s): %v", s.chunks-before, err)
		}
		if err := s.Push(c); err != nil {
			return fmt.Sprintf("Error after %d chunk(s): %v", s.chunks-before, err)
		}
	}
	return fmt.Sprintf("Loaded %d chunk(s) from %s.", s.chunks-before, args)
}

func (s *Session) showConfig() string {
	return fmt.Sprintf("Model: %s\nAPI Base: %s\nTransport: %s\nMax Tokens: %d\nTemperature: %.1f\nRender: %v\nLog Level: %s",
		s.cfg.Model, s.cfg.APIBase, s.cfg.Transport, s.cfg.MaxTokens, s.cfg.Temperature, s.cfg.Render, s.cfg.LogLevel)
}
