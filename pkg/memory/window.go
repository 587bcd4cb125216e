// Copyright 2026 © The Westodyssey Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import "context"

// TruncationStrategy reduces a session history to what fits in a prompt.
type TruncationStrategy interface {
	Truncate(ctx context.Context, entries []Entry) ([]Entry, error)
}

// WindowStrategy keeps only the last N entries.
type WindowStrategy struct {
	MaxEntries int
	// KeepGoal preserves goal entries regardless of window.
	KeepGoal bool
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxEntries int, keepGoal bool) *WindowStrategy {
	return &WindowStrategy{MaxEntries: maxEntries, KeepGoal: keepGoal}
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, entries []Entry) ([]Entry, error) {
	if w.MaxEntries <= 0 || len(entries) <= w.MaxEntries {
		return entries, nil
	}
	if !w.KeepGoal {
		return entries[len(entries)-w.MaxEntries:], nil
	}

	goals, others := splitGoals(entries)
	available := w.MaxEntries - len(goals)
	if available < 0 {
		available = 0
	}
	if len(others) > available {
		others = others[len(others)-available:]
	}
	return merge(goals, others), nil
}

// TokenStrategy keeps the most recent entries that fit a token budget.
type TokenStrategy struct {
	MaxTokens int
	// TokenCounter estimates tokens for an entry. If nil, uses len(content)/4.
	TokenCounter func(e Entry) int
	// KeepGoal preserves goal entries regardless of budget.
	KeepGoal bool
}

// NewTokenStrategy creates a token-based truncation strategy.
func NewTokenStrategy(maxTokens int, keepGoal bool) *TokenStrategy {
	return &TokenStrategy{MaxTokens: maxTokens, KeepGoal: keepGoal}
}

// Truncate implements TruncationStrategy.
func (t *TokenStrategy) Truncate(_ context.Context, entries []Entry) ([]Entry, error) {
	counter := t.TokenCounter
	if counter == nil {
		counter = EstimateTokens
	}

	total := 0
	for _, e := range entries {
		total += counter(e)
	}
	if total <= t.MaxTokens {
		return entries, nil
	}

	var goals, others []Entry
	if t.KeepGoal {
		goals, others = splitGoals(entries)
	} else {
		others = entries
	}
	budget := t.MaxTokens
	for _, g := range goals {
		budget -= counter(g)
	}

	start := len(others)
	used := 0
	for i := len(others) - 1; i >= 0; i-- {
		n := counter(others[i])
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return merge(goals, others[start:]), nil
}

// EstimateTokens is the rough len/4 heuristic.
func EstimateTokens(e Entry) int {
	return len(e.Content) / 4
}

func splitGoals(entries []Entry) (goals, others []Entry) {
	for _, e := range entries {
		if e.Kind == KindGoal {
			goals = append(goals, e)
		} else {
			others = append(others, e)
		}
	}
	return goals, others
}

// merge interleaves two Seq-ordered slices back into Seq order.
func merge(a, b []Entry) []Entry {
	out := make([]Entry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Seq <= b[j].Seq {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
