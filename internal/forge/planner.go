package forge

import (
	"sort"

	"autonomyd/internal/types"
)

// maxNewCandidatesPerCall bounds one planning pass.
const maxNewCandidatesPerCall = 5

// baseConstraints apply to every planned skill regardless of category.
var baseConstraints = []string{
	"writes are restricted to the generated skills directory",
	"no privileged or destructive commands may be invoked",
	"abort immediately on the first policy denial",
}

// categoryConstraints extend the base set for higher-risk gap categories.
var categoryConstraints = map[types.GapCategory][]string{
	types.GapSafety:      {"include a policy-deny regression test before any rollout"},
	types.GapReliability: {"include a timeout and retry resilience test"},
}

// requiredTests must be declared by every candidate and later verified to
// appear in the generated skill file.
var requiredTests = []string{
	"dry-run produces the documented output",
	"repeated invocation is idempotent",
	"failure path surfaces a machine-readable error",
}

// Plan proposes candidates for open gaps that no existing candidate
// addresses, at most five per call. Output is deterministic for a fixed gap
// snapshot: ids derive from the gap key and ordering is total. The merged
// candidate list is returned ranked and bounded.
func Plan(gaps []types.Gap, existing []types.SkillCandidate, nowMs int64) []types.SkillCandidate {
	covered := make(map[string]bool, len(existing))
	for _, c := range existing {
		covered[c.SourceGapID] = true
	}

	merged := append([]types.SkillCandidate(nil), existing...)
	added := 0
	for _, g := range gaps {
		if added >= maxNewCandidatesPerCall {
			break
		}
		if g.Status != types.GapOpen || covered[g.ID] {
			continue
		}
		c, ok := candidateForGap(g, nowMs)
		if !ok {
			continue
		}
		merged = append(merged, c)
		covered[g.ID] = true
		added++
	}

	RankCandidates(merged)
	if len(merged) > types.MaxCandidates {
		merged = merged[:types.MaxCandidates]
	}
	return merged
}

// candidateForGap builds one candidate. A candidate without explicit safety
// constraints is refused outright.
func candidateForGap(g types.Gap, nowMs int64) (types.SkillCandidate, bool) {
	constraints := append([]string(nil), baseConstraints...)
	constraints = append(constraints, categoryConstraints[g.Category]...)
	if len(constraints) == 0 {
		return types.SkillCandidate{}, false
	}

	name := candidateName(g)
	priority := g.Score
	if priority < 1 {
		priority = 1
	}
	return types.SkillCandidate{
		ID:          types.HashID("candidate:" + g.Key),
		SourceGapID: g.ID,
		Name:        name,
		Intent:      "Address gap: " + g.Title,
		Status:      types.CandidateProposed,
		Priority:    priority,
		CreatedAt:   nowMs,
		UpdatedAt:   nowMs,
		Safety: types.CandidateSafety{
			ExecutionClass: types.ClassReversibleWrite,
			Constraints:    constraints,
		},
		Tests: append([]string(nil), requiredTests...),
	}, true
}

// candidateName slugs the first non-empty of title, key, id.
func candidateName(g types.Gap) string {
	for _, s := range []string{g.Title, g.Key, g.ID} {
		if slug := Slug(s); slug != "" {
			return "autonomy-" + slug
		}
	}
	return "autonomy-" + g.ID
}

// RankCandidates sorts in place by descending priority, then oldest first,
// then ascending id.
func RankCandidates(candidates []types.SkillCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		if candidates[i].CreatedAt != candidates[j].CreatedAt {
			return candidates[i].CreatedAt < candidates[j].CreatedAt
		}
		return candidates[i].ID < candidates[j].ID
	})
}
