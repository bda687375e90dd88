// Package stream folds a sequence of chunks into cumulative snapshots.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sirupsen/logrus"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/merge"
)

var (
	ErrNilChunk    = errors.New("source returned a nil chunk")
	ErrEmptyStream = errors.New("stream produced no chunks")
)

// Source yields chunks in arrival order. Recv returns io.EOF once the stream
// is exhausted. Close aborts the stream; it may be called while Recv blocks.
type Source interface {
	Recv() (*llm.Chunk, error)
	Close() error
}

// Accumulator holds the merged state of one stream. The zero value is ready
// to use. It is not safe for concurrent use.
type Accumulator struct {
	state *llm.Chunk
}

// Push merges c into the state and returns the new state. The first chunk
// becomes the state as is. The returned bool is false when c changed nothing,
// in which case the state pointer is the same as before.
func (a *Accumulator) Push(c *llm.Chunk) (*llm.Chunk, bool) {
	if c == nil {
		return a.state, false
	}
	if a.state == nil {
		a.state = c
		return c, true
	}
	next, changed := llm.MergeChunk(a.state, c)
	a.state = next
	return next, changed
}

// State returns the current merged state, nil before the first chunk.
func (a *Accumulator) State() *llm.Chunk { return a.state }

// Reset drops the state.
func (a *Accumulator) Reset() { a.state = nil }

// Normalize merges c onto an empty chunk with the same header, folding
// repeated choice or tool call indices within c.
func Normalize(c *llm.Chunk) *llm.Chunk {
	base := &llm.Chunk{ID: c.ID, Object: c.Object, Created: c.Created, Model: c.Model}
	out, _ := llm.MergeChunk(base, c)
	return out
}

// Accumulate yields one cumulative snapshot per chunk received from src.
//
// A transport error from src is yielded once as (nil, err) and ends the
// sequence. Breaking out of the loop or cancelling ctx stops merging and
// closes src; no snapshot is yielded afterwards. src is closed exactly once.
func Accumulate(ctx context.Context, src Source) iter.Seq2[*llm.Chunk, error] {
	return run(ctx, src, "accumulate", func(acc *Accumulator, c *llm.Chunk) *llm.Chunk {
		state, _ := acc.Push(c)
		return state
	})
}

// Forward yields every chunk independently, normalized but not accumulated.
func Forward(ctx context.Context, src Source) iter.Seq2[*llm.Chunk, error] {
	return run(ctx, src, "forward", func(_ *Accumulator, c *llm.Chunk) *llm.Chunk {
		return Normalize(c)
	})
}

// Collect drains src and returns the final merged state. On error the state
// reached so far is returned with it.
func Collect(ctx context.Context, src Source) (*llm.Chunk, error) {
	var last *llm.Chunk
	for state, err := range Accumulate(ctx, src) {
		if err != nil {
			return last, err
		}
		last = state
	}
	if last == nil {
		return nil, ErrEmptyStream
	}
	return last, nil
}

type stepFunc func(acc *Accumulator, c *llm.Chunk) *llm.Chunk

func run(ctx context.Context, src Source, mode string, step stepFunc) iter.Seq2[*llm.Chunk, error] {
	return func(yield func(*llm.Chunk, error) bool) {
		log := logrus.WithFields(logrus.Fields{"stream": NewID(), "mode": mode})
		log.Debug("stream started")

		var once sync.Once
		closeSrc := func() {
			once.Do(func() {
				if err := src.Close(); err != nil {
					log.WithError(err).Debug("close source")
				}
			})
		}
		stop := context.AfterFunc(ctx, closeSrc)
		defer stop()
		defer closeSrc()

		var acc Accumulator
		n := 0
		for {
			c, err := src.Recv()
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.WithField("chunks", n).Debug("stream cancelled")
				yield(nil, ctxErr)
				return
			}
			if errors.Is(err, io.EOF) {
				log.WithField("chunks", n).Debug("stream finished")
				return
			}
			if err != nil {
				log.WithError(err).Debug("stream failed")
				yield(nil, err)
				return
			}
			if c == nil {
				yield(nil, ErrNilChunk)
				return
			}
			n++
			out, err := safeStep(step, &acc, c)
			if err != nil {
				log.WithError(err).Debug("merge failed")
				yield(nil, err)
				return
			}
			if !yield(out, nil) {
				log.WithField("chunks", n).Debug("consumer stopped")
				return
			}
		}
	}
}

func safeStep(step stepFunc, acc *Accumulator, c *llm.Chunk) (out *llm.Chunk, err error) {
	defer merge.Recover(&err)
	return step(acc, c), nil
}

// NewID returns a short random identifier for log correlation.
func NewID() string {
	id, err := gonanoid.New(12)
	if err != nil {
		return "unknown"
	}
	return id
}

// Chunks returns a Source over a fixed list of chunks.
func Chunks(chunks ...*llm.Chunk) Source {
	return &sliceSource{chunks: chunks}
}

type sliceSource struct {
	chunks []*llm.Chunk
	pos    int
	closed atomic.Bool
}

func (s *sliceSource) Recv() (*llm.Chunk, error) {
	if s.closed.Load() {
		return nil, llm.ErrStreamClosed
	}
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceSource) Close() error {
	s.closed.Store(true)
	return nil
}
