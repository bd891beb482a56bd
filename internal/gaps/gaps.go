// Package gaps maintains the ranked capability-gap registry. Signals are
// upserted by key, scores are recomputed from severity, confidence,
// freshness, and occurrence count, and the registry is kept bounded.
package gaps

import (
	"math"
	"sort"
	"strings"

	"autonomyd/internal/signal"
	"autonomyd/internal/types"
)

// Severity and confidence blending weights for repeated observations. The
// old value dominates so one outlier signal cannot swing an established gap.
const (
	severityOldWeight   = 0.65
	severityNewWeight   = 0.35
	confidenceOldWeight = 0.7
	confidenceNewWeight = 0.3
)

// Upsert merges signals into the gap set by key, rescores every gap, and
// returns the ranked registry truncated to the gap cap. The input slice is
// not mutated.
func Upsert(existing []types.Gap, signals []signal.Signal, nowMs int64) []types.Gap {
	merged := make([]types.Gap, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, g := range merged {
		index[g.Key] = i
	}

	for _, sig := range signals {
		ts := sig.TS
		if ts <= 0 {
			ts = nowMs
		}
		if i, ok := index[sig.Key]; ok {
			g := &merged[i]
			g.Title = sig.Title
			g.Category = sig.Category
			g.LastSource = sig.Source
			g.Occurrences++
			if ts > g.LastSeenAt {
				g.LastSeenAt = ts
			}
			g.Severity = int(math.Round(severityOldWeight*float64(g.Severity) + severityNewWeight*float64(sig.Severity)))
			g.Confidence = types.Clamp01(confidenceOldWeight*g.Confidence + confidenceNewWeight*sig.Confidence)
			g.Evidence = appendEvidence(g.Evidence, sig.Evidence)
			continue
		}
		merged = append(merged, types.Gap{
			ID:          sig.ID,
			Key:         sig.Key,
			Title:       sig.Title,
			Category:    sig.Category,
			Status:      types.GapOpen,
			Severity:    sig.Severity,
			Confidence:  types.Clamp01(sig.Confidence),
			Occurrences: 1,
			FirstSeenAt: ts,
			LastSeenAt:  ts,
			LastSource:  sig.Source,
			Evidence:    appendEvidence(nil, sig.Evidence),
		})
		index[sig.Key] = len(merged) - 1
	}

	for i := range merged {
		merged[i].Score = Score(merged[i], nowMs)
	}

	Rank(merged)
	if len(merged) > types.MaxGaps {
		merged = merged[:types.MaxGaps]
	}
	return merged
}

// Score ranks a gap by severity, confidence, freshness, and recurrence.
// Freshness rewards gaps seen within the last 24 hours.
func Score(g types.Gap, nowMs int64) int {
	freshnessHours := float64(nowMs-g.LastSeenAt) / 3_600_000.0
	if freshnessHours < 0 {
		freshnessHours = 0
	}
	freshness := 24.0 - freshnessHours
	if freshness < 0 {
		freshness = 0
	} else if freshness > 24 {
		freshness = 24
	}
	occurrences := float64(g.Occurrences)
	if occurrences > 20 {
		occurrences = 20
	}
	score := 0.55*float64(g.Severity) +
		0.25*types.Clamp01(g.Confidence)*100 +
		0.2*freshness +
		0.5*occurrences
	return int(math.Round(score))
}

// Rank sorts in place by descending score, then most recently seen, then
// ascending key for a stable total order.
func Rank(gaps []types.Gap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Score != gaps[j].Score {
			return gaps[i].Score > gaps[j].Score
		}
		if gaps[i].LastSeenAt != gaps[j].LastSeenAt {
			return gaps[i].LastSeenAt > gaps[j].LastSeenAt
		}
		return gaps[i].Key < gaps[j].Key
	})
}

func appendEvidence(evidence []string, item string) []string {
	item = strings.TrimSpace(item)
	if item == "" {
		return evidence
	}
	out := append(append([]string(nil), evidence...), item)
	if len(out) > types.MaxEvidence {
		out = out[len(out)-types.MaxEvidence:]
	}
	return out
}
