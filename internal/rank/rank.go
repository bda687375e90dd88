// Package rank aggregates weighted judgment fragments into a ranked summary.
package rank

import (
	"encoding/json"
	"iter"

	"github.com/tnglemongrass/deltamerge/internal/opt"
)

// Fragment is one weighted vote for a candidate answer identified by
// ChoiceID.
type Fragment struct {
	ChoiceID  string                     `json:"choice_id"`
	Weight    float64                    `json:"weight"`
	Reasoning string                     `json:"reasoning"`
	Response  opt.Value[json.RawMessage] `json:"response,omitzero"`
}

// Choice is the aggregate of all fragments for one candidate.
type Choice struct {
	ID         string                     `json:"id"`
	Reasoning  []string                   `json:"reasoning"`
	Response   opt.Value[json.RawMessage] `json:"response"`
	Confidence float64                    `json:"response_confidence"`
	Weight     float64                    `json:"-"`
}

// Summary is the ranked result. Choices keep first-seen order.
type Summary struct {
	Choices          []Choice `json:"choices"`
	WinnerID         string   `json:"winner_id"`
	WinnerConfidence float64  `json:"winner_confidence"`
}

// Aggregator groups fragments by choice id. The zero value is ready to use.
type Aggregator struct {
	groups []Choice
	byID   map[string]int
	total  float64
}

// Add folds f into its group. The first response that is not absent is kept,
// an explicit null included; later responses never replace it.
func (a *Aggregator) Add(f Fragment) {
	if a.byID == nil {
		a.byID = make(map[string]int)
	}
	i, ok := a.byID[f.ChoiceID]
	if !ok {
		i = len(a.groups)
		a.byID[f.ChoiceID] = i
		a.groups = append(a.groups, Choice{ID: f.ChoiceID, Reasoning: []string{}})
	}
	g := &a.groups[i]
	g.Weight += f.Weight
	g.Reasoning = append(g.Reasoning, f.Reasoning)
	if g.Response.IsAbsent() {
		g.Response = f.Response
	}
	a.total += f.Weight
}

// Len returns the number of groups.
func (a *Aggregator) Len() int { return len(a.groups) }

// Summary normalizes group weights by the grand total and picks the winner:
// the first group with the strictly highest confidence. A zero total yields
// zero confidence everywhere and no winner.
func (a *Aggregator) Summary() Summary {
	s := Summary{Choices: make([]Choice, 0, len(a.groups))}
	for _, g := range a.groups {
		c := g
		c.Reasoning = append([]string(nil), g.Reasoning...)
		if a.total != 0 {
			c.Confidence = g.Weight / a.total
		}
		if c.Confidence > s.WinnerConfidence {
			s.WinnerID = c.ID
			s.WinnerConfidence = c.Confidence
		}
		s.Choices = append(s.Choices, c)
	}
	return s
}

// Aggregate consumes fragments and returns their summary.
func Aggregate(fragments iter.Seq[Fragment]) Summary {
	var a Aggregator
	for f := range fragments {
		a.Add(f)
	}
	return a.Summary()
}
