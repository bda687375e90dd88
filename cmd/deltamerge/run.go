package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tnglemongrass/deltamerge/internal/config"
	"github.com/tnglemongrass/deltamerge/internal/judgment"
	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/oaiadapter"
	"github.com/tnglemongrass/deltamerge/internal/rank"
	"github.com/tnglemongrass/deltamerge/internal/reasoning"
	"github.com/tnglemongrass/deltamerge/internal/render"
	"github.com/tnglemongrass/deltamerge/internal/server"
	"github.com/tnglemongrass/deltamerge/internal/stream"
)

var errUsage = errors.New("usage")

// app runs the non-interactive commands.
type app struct {
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) run(ctx context.Context, command string) error {
	switch command {
	case "merge":
		return a.merge(ctx)
	case "stream":
		return a.stream(ctx)
	case "reasoning":
		return a.reasoning(ctx)
	case "rank":
		return a.rank()
	case "serve":
		return server.New(a.cfg).ListenAndServe(ctx)
	}
	return errUsage
}

func (a *app) renderer() (*render.Renderer, error) {
	if !a.cfg.Render {
		return render.NewPlain(a.stdout), nil
	}
	return render.NewRenderer(a.stdout)
}

// input opens the first positional argument, or stdin when there is none
// or it is "-".
func (a *app) input() (io.ReadCloser, error) {
	if len(a.cfg.Args) == 0 || a.cfg.Args[0] == "-" {
		return io.NopCloser(a.stdin), nil
	}
	f, err := os.Open(a.cfg.Args[0])
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

func (a *app) merge(ctx context.Context) error {
	in, err := a.input()
	if err != nil {
		return err
	}
	src := llm.NewReader(in)

	if a.cfg.Final {
		state, err := stream.Collect(ctx, src)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		if a.cfg.Render {
			r, err := a.renderer()
			if err != nil {
				return err
			}
			return r.Render(render.Snapshot(state))
		}
		return json.NewEncoder(a.stdout).Encode(state)
	}

	seq := stream.Accumulate(ctx, src)
	if a.cfg.Forward {
		seq = stream.Forward(ctx, src)
	}
	enc := json.NewEncoder(a.stdout)
	for c, err := range seq {
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}
	return nil
}

// stream sends the positional arguments as one user message and prints the
// content of choice 0 as it grows, then the final snapshot.
func (a *app) stream(ctx context.Context) error {
	if len(a.cfg.Args) == 0 {
		return errUsage
	}
	if a.cfg.APIKey == "" {
		logrus.Warn("no API key configured; set OPENAI_API_KEY or use --api-key")
	}
	req := llm.ChatCompletionRequest{
		Model:         a.cfg.Model,
		Messages:      []llm.ChatMessage{{Role: llm.RoleUser, Content: strings.Join(a.cfg.Args, " ")}},
		MaxTokens:     a.cfg.MaxTokens,
		Temperature:   a.cfg.Temperature,
		StreamOptions: &llm.StreamOptions{IncludeUsage: true},
	}
	src, err := a.dial(ctx, req)
	if err != nil {
		return err
	}

	r, err := a.renderer()
	if err != nil {
		return err
	}
	var (
		state   *llm.Chunk
		shown   int
		pending string
	)
	for s, err := range stream.Accumulate(ctx, src) {
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		state = s
		ch, ok := s.Choice(0)
		if !ok {
			continue
		}
		text := ch.Delta.Content.Or("")
		if len(text) <= shown {
			continue
		}
		if pending, err = r.RenderStream(pending, text[shown:], false); err != nil {
			return err
		}
		shown = len(text)
	}
	if _, err := r.RenderStream(pending, "", true); err != nil {
		return err
	}
	if state == nil {
		return stream.ErrEmptyStream
	}
	if !state.IsComplete() {
		logrus.Warn("stream ended before every choice finished")
	}
	return r.Render(render.Snapshot(state))
}

func (a *app) dial(ctx context.Context, req llm.ChatCompletionRequest) (stream.Source, error) {
	if a.cfg.Transport == config.TransportOpenAI {
		s, err := oaiadapter.Dial(ctx, a.cfg.APIBase, a.cfg.APIKey, req)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	r, err := llm.NewClient(a.cfg.APIBase, a.cfg.APIKey, a.cfg.Model).Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (a *app) reasoning(ctx context.Context) error {
	in, err := a.input()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	for rec, err := range reasoning.Decode(ctx, llm.NewReader(in)) {
		if err != nil {
			return fmt.Errorf("reasoning: %w", err)
		}
		if a.cfg.Render {
			fmt.Fprint(a.stdout, render.Record(rec))
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

func (a *app) rank() error {
	in, err := a.input()
	if err != nil {
		return err
	}
	defer in.Close()

	var agg rank.Aggregator
	for rec, err := range judgment.DecodeAll(in) {
		if err != nil {
			return fmt.Errorf("rank: %w", err)
		}
		agg.Add(rec.Fragment())
	}
	summary := agg.Summary()
	if a.cfg.Render {
		r, err := a.renderer()
		if err != nil {
			return err
		}
		return r.Render(render.Summary(summary))
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
