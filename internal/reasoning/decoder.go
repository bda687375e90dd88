package reasoning

import (
	"context"
	"encoding/json"
	"iter"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/merge"
	"github.com/tnglemongrass/deltamerge/internal/stream"
)

// Split appends text to the held partial line and cuts the result on
// newlines. Every segment but the last is a complete line; the last is the
// new held partial.
func Split(held, text string) (lines []string, rest string) {
	buf := held + text
	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			return lines, buf
		}
		lines = append(lines, buf[:i])
		buf = buf[i+1:]
	}
}

// Decoder incrementally decodes one side-channel document. Tool response
// fragments are merged per tool call id into nested states.
//
// A decode failure is sticky: the failing call returns the lines decoded
// before the failure together with the error, and every later call returns
// the same error.
type Decoder struct {
	held   string
	nested map[string]*stream.Accumulator
	ids    []string
	err    error
	log    *logrus.Entry
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		nested: make(map[string]*stream.Accumulator),
		log:    logrus.WithField("component", "reasoning"),
	}
}

// Feed consumes the next fragment of text and returns the lines it
// completed. An unterminated trailing line is held for the next call.
func (d *Decoder) Feed(text string) ([]Line, error) {
	if d.err != nil {
		return nil, d.err
	}
	lines, rest := Split(d.held, text)
	d.held = rest
	return d.decodeAll(lines)
}

// Finish flushes the held partial line. It is decoded when it is valid JSON
// and discarded otherwise. The Decoder is empty afterwards.
func (d *Decoder) Finish() ([]Line, error) {
	if d.err != nil {
		return nil, d.err
	}
	tail := d.held
	d.held = ""
	if strings.TrimSpace(tail) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(tail)) {
		d.log.WithField("bytes", len(tail)).Debug("discarding incomplete trailing line")
		return nil, nil
	}
	return d.decodeAll([]string{tail})
}

// Held returns the buffered partial line.
func (d *Decoder) Held() string { return d.held }

// Err returns the sticky decode error, if any.
func (d *Decoder) Err() error { return d.err }

// ToolResponse returns the merged state of the fragments seen for id.
func (d *Decoder) ToolResponse(id string) (*llm.Chunk, bool) {
	acc, ok := d.nested[id]
	if !ok || acc.State() == nil {
		return nil, false
	}
	return acc.State(), true
}

// ToolCallIDs returns the tool call ids with nested states in first-seen
// order.
func (d *Decoder) ToolCallIDs() []string {
	return append([]string(nil), d.ids...)
}

func (d *Decoder) decodeAll(raw []string) (out []Line, err error) {
	defer func() {
		if err != nil {
			d.err = err
		}
	}()
	defer merge.Recover(&err)

	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		line, err := DecodeLine([]byte(s))
		if err != nil {
			d.log.WithError(err).Debug("line rejected")
			return out, err
		}
		switch l := line.(type) {
		case *ToolCallMessage, *ToolResponseMessage:
			// passed through as decoded
		case *ToolResponseChunk:
			d.route(l)
		}
		out = append(out, line)
	}
	return out, nil
}

func (d *Decoder) route(l *ToolResponseChunk) {
	acc, ok := d.nested[l.ToolCallID]
	if !ok {
		acc = &stream.Accumulator{}
		d.nested[l.ToolCallID] = acc
		d.ids = append(d.ids, l.ToolCallID)
	}
	if l.Err == nil {
		acc.Push(l.Chunk)
	}
	l.State = acc.State()
}

// Record is a side-channel line decoded from one choice of a stream.
type Record struct {
	ChoiceIndex int  `json:"choice_index"`
	Line        Line `json:"line"`
}

// StreamDecoder runs one Decoder per choice over the chunks of a stream.
// Like Decoder, it stops at the first decode failure.
type StreamDecoder struct {
	decoders map[int]*Decoder
	order    []int
	err      error
}

// NewStreamDecoder returns an empty StreamDecoder.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{decoders: make(map[int]*Decoder)}
}

// Observe feeds the reasoning fragments of c, a chunk as received rather
// than a merged state.
func (s *StreamDecoder) Observe(c *llm.Chunk) ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Record
	for _, ch := range c.Choices {
		text, ok := ch.Delta.Reasoning.Get()
		if !ok || text == "" {
			continue
		}
		lines, err := s.decoder(ch.Index).Feed(text)
		out = appendRecords(out, ch.Index, lines)
		if err != nil {
			s.err = err
			return out, err
		}
	}
	return out, nil
}

// Finish flushes every choice's decoder in first-seen order.
func (s *StreamDecoder) Finish() ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Record
	for _, idx := range s.order {
		lines, err := s.decoders[idx].Finish()
		out = appendRecords(out, idx, lines)
		if err != nil {
			s.err = err
			return out, err
		}
	}
	return out, nil
}

// Decoder returns the decoder of a choice, if it has seen any text.
func (s *StreamDecoder) Decoder(index int) (*Decoder, bool) {
	d, ok := s.decoders[index]
	return d, ok
}

// Indices returns the choice indices with a decoder, in first-seen order.
func (s *StreamDecoder) Indices() []int {
	return append([]int(nil), s.order...)
}

func (s *StreamDecoder) decoder(index int) *Decoder {
	d, ok := s.decoders[index]
	if !ok {
		d = NewDecoder()
		s.decoders[index] = d
		s.order = append(s.order, index)
	}
	return d
}

func appendRecords(out []Record, index int, lines []Line) []Record {
	for _, l := range lines {
		out = append(out, Record{ChoiceIndex: index, Line: l})
	}
	return out
}

// Decode reads src to the end and yields every side-channel record in
// arrival order. The first transport or decode error is yielded last.
func Decode(ctx context.Context, src stream.Source) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		dec := NewStreamDecoder()
		for c, err := range stream.Forward(ctx, src) {
			if err != nil {
				yield(Record{}, err)
				return
			}
			recs, err := dec.Observe(c)
			if !yieldAll(yield, recs) {
				return
			}
			if err != nil {
				yield(Record{}, err)
				return
			}
		}
		recs, err := dec.Finish()
		if !yieldAll(yield, recs) {
			return
		}
		if err != nil {
			yield(Record{}, err)
		}
	}
}

func yieldAll(yield func(Record, error) bool, recs []Record) bool {
	for _, r := range recs {
		if !yield(r, nil) {
			return false
		}
	}
	return true
}
