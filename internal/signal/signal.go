// Package signal normalizes raw queue events into classified discovery
// signals. Classification uses a fixed, ordered rule table keyed on the
// event type; the first matching rule wins.
package signal

import (
	"strings"

	"autonomyd/internal/types"
)

// Signal is one classified discovery observation derived from an event.
type Signal struct {
	ID         string            `json:"id"`
	Key        string            `json:"key"`
	Title      string            `json:"title"`
	Category   types.GapCategory `json:"category"`
	Severity   int               `json:"severity"`   // [0,100]
	Confidence float64           `json:"confidence"` // [0,1]
	TS         int64             `json:"ts"`
	Source     string            `json:"source"`
	Evidence   string            `json:"evidence,omitempty"`
}

// classRule maps an event-type shape to a classification.
type classRule struct {
	match      func(eventType string) bool
	category   types.GapCategory
	severity   int
	confidence float64
}

func prefixRule(prefix string) func(string) bool {
	return func(t string) bool { return strings.HasPrefix(t, prefix) }
}

func containsAnyRule(needles ...string) func(string) bool {
	return func(t string) bool {
		for _, n := range needles {
			if strings.Contains(t, n) {
				return true
			}
		}
		return false
	}
}

// classTable is evaluated top to bottom; the unknown fallback is applied
// when nothing matches.
var classTable = []classRule{
	{prefixRule("queue."), types.GapReliability, 85, 0.9},
	{prefixRule("task.stale."), types.GapCapability, 70, 0.85},
	{prefixRule("review."), types.GapQuality, 40, 0.6},
	{containsAnyRule("security", "policy"), types.GapSafety, 90, 0.8},
	{containsAnyRule("timeout", "error", "failed"), types.GapReliability, 75, 0.8},
	{containsAnyRule("latency"), types.GapLatency, 65, 0.65},
	{containsAnyRule("cost", "budget"), types.GapCost, 55, 0.7},
}

// Classify returns the category, severity, and confidence for an event type.
// Engine-synthesized events carry an "autonomy." prefix that is stripped so
// they classify the same as their external counterparts.
func Classify(eventType string) (types.GapCategory, int, float64) {
	t := strings.ToLower(strings.TrimSpace(eventType))
	t = strings.TrimPrefix(t, "autonomy.")
	for _, r := range classTable {
		if r.match(t) {
			return r.category, r.severity, r.confidence
		}
	}
	return types.GapUnknown, 30, 0.4
}

// Normalize converts cycle events into discovery signals. At most one
// signal is produced per dedupe key; later events with a repeated key are
// ignored. Input order is preserved.
func Normalize(events []types.Event) []Signal {
	seen := make(map[string]bool, len(events))
	out := make([]Signal, 0, len(events))
	for _, ev := range events {
		key := ev.EffectiveDedupeKey()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		category, severity, confidence := Classify(ev.Type)
		out = append(out, Signal{
			ID:         types.HashID(key),
			Key:        key,
			Title:      titleFor(ev),
			Category:   category,
			Severity:   severity,
			Confidence: confidence,
			TS:         ev.TS,
			Source:     string(ev.Source),
			Evidence:   evidenceFor(ev),
		})
	}
	return out
}

// titleFor prefers a non-empty payload title, falling back to the dotted
// event type with dots turned into spaces.
func titleFor(ev types.Event) string {
	if t, ok := ev.Payload["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return strings.ReplaceAll(ev.Type, ".", " ")
}

func evidenceFor(ev types.Event) string {
	var b strings.Builder
	b.WriteString(string(ev.Source))
	b.WriteString(":")
	b.WriteString(ev.Type)
	if ev.ID != "" {
		b.WriteString(" (")
		b.WriteString(ev.ID)
		b.WriteString(")")
	}
	return b.String()
}
