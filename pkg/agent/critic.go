// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/westodyssey/westodyssey/pkg/core"
	"github.com/westodyssey/westodyssey/pkg/errors"
	"github.com/westodyssey/westodyssey/pkg/llm"
	"github.com/westodyssey/westodyssey/pkg/prompts"
)

// Verdict is the critic's call on a proposal.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictRevise  Verdict = "revise"
)

// DefaultScore is used when a review carries no readable score.
const DefaultScore = 0.5

// Critique is the parsed review of one proposal.
type Critique struct {
	Round       int       `json:"round"`
	Score       float64   `json:"score"`
	Verdict     Verdict   `json:"verdict"`
	Issues      []string  `json:"issues,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Raw         string    `json:"raw"`
	Usage       llm.Usage `json:"usage"`
}

// Approved reports whether the critic accepted the proposal.
func (c Critique) Approved() bool {
	return c.Verdict == VerdictApprove
}

// Summary renders the critique the way the solver reads it.
func (c Critique) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Score: %.1f/10, verdict: %s\n", c.Score*10, c.Verdict)
	if len(c.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range c.Issues {
			b.WriteString("- " + issue + "\n")
		}
	}
	if len(c.Suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		for _, s := range c.Suggestions {
			b.WriteString("- " + s + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Critic (Pigsy) reviews proposals.
type Critic struct {
	*Base
	minScore float64
}

// NewCritic creates a critic approving proposals that score at least
// minScore (0..1).
func NewCritic(persona prompts.Persona, provider llm.Provider, minScore float64, opts ...Option) (*Critic, error) {
	b, err := newBase(core.RoleCritic, persona, provider, collect(opts))
	if err != nil {
		return nil, err
	}
	return &Critic{Base: b, minScore: minScore}, nil
}

// MinScore returns the approval threshold.
func (c *Critic) MinScore() float64 { return c.minScore }

// Review scores proposal against goal.
func (c *Critic) Review(ctx context.Context, goal string, proposal Proposal) (Critique, error) {
	if strings.TrimSpace(proposal.Content) == "" {
		return Critique{}, errors.New(errors.CodeInvalidInput, "nothing to review", nil)
	}
	system, err := c.persona.Render(prompts.Vars{
		Goal:     goal,
		Round:    proposal.Round,
		MinScore: c.minScore * 10,
	})
	if err != nil {
		return Critique{}, err
	}

	user := fmt.Sprintf("Goal:\n%s\n\nProposal (round %d):\n%s", goal, proposal.Round, proposal.Content)
	resp, err := c.Ask(ctx, system, user)
	if err != nil {
		return Critique{}, err
	}

	critique := ParseCritique(resp.Content, c.minScore)
	critique.Round = proposal.Round
	critique.Usage = resp.Usage
	return critique, nil
}

// Run implements core.Agent. input must be a Proposal; the goal is taken
// from its Goal field.
func (c *Critic) Run(ctx context.Context, input any) (any, error) {
	p, ok := input.(Proposal)
	if !ok {
		return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("critic expects a Proposal, got %T", input), nil)
	}
	return c.Review(ctx, p.Goal, p)
}

var (
	scorePattern   = regexp.MustCompile(`(?im)^[\W_]*score\b\s*[:=]?\s*\**\s*(\d+(?:\.\d+)?)\s*(?:/\s*(\d+(?:\.\d+)?))?`)
	verdictPattern = regexp.MustCompile(`(?i)\bverdict\s*[:=]\s*\**\s*([a-z]+)`)
	itemPrefix     = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)
)

// ParseCritique reads a review in the SCORE / VERDICT / ISSUES /
// SUGGESTIONS format. Scores are normalized to 0..1; an unreadable score
// is DefaultScore. Without a verdict the proposal is approved iff its score
// reaches minScore.
func ParseCritique(text string, minScore float64) Critique {
	c := Critique{Score: DefaultScore, Raw: text}

	if m := scorePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			scale := 10.0
			if m[2] != "" {
				if d, err := strconv.ParseFloat(m[2], 64); err == nil && d > 0 {
					scale = d
				}
			}
			c.Score = clamp01(v / scale)
		}
	}

	if m := verdictPattern.FindStringSubmatch(text); m != nil {
		switch strings.ToLower(m[1]) {
		case "approve", "approved", "accept", "accepted", "pass":
			c.Verdict = VerdictApprove
		default:
			c.Verdict = VerdictRevise
		}
	}
	if c.Verdict == "" {
		if c.Score >= minScore {
			c.Verdict = VerdictApprove
		} else {
			c.Verdict = VerdictRevise
		}
	}

	var section *[]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(strings.TrimLeft(line, "*#_ "))
		switch {
		case strings.HasPrefix(upper, "ISSUES"):
			section = &c.Issues
			line = afterColon(line)
		case strings.HasPrefix(upper, "SUGGESTIONS"):
			section = &c.Suggestions
			line = afterColon(line)
		case strings.HasPrefix(upper, "SCORE"), strings.HasPrefix(upper, "VERDICT"):
			section = nil
			continue
		}
		if section == nil || line == "" {
			continue
		}
		item := strings.TrimSpace(itemPrefix.ReplaceAllString(line, ""))
		if item == "" || isNone(item) {
			continue
		}
		*section = append(*section, item)
	}
	return c
}

func afterColon(line string) string {
	if i := strings.Index(line, ":"); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}

func isNone(item string) bool {
	switch strings.ToLower(strings.Trim(item, ". ")) {
	case "none", "n/a", "nothing":
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
