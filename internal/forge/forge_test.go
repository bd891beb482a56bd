package forge

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autonomyd/internal/types"
)

const testNow = int64(1_700_000_000_000)

func openGap(key string, score int) types.Gap {
	return types.Gap{
		ID:          types.HashID(key),
		Key:         key,
		Title:       "Title for " + key,
		Category:    types.GapReliability,
		Status:      types.GapOpen,
		Severity:    70,
		Confidence:  0.8,
		Score:       score,
		Occurrences: 1,
		FirstSeenAt: testNow,
		LastSeenAt:  testNow,
	}
}

// =============================================================================
// SLUG
// =============================================================================

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Deploy Pipeline Broke!", "deploy-pipeline-broke"},
		{"  queue.overflow  ", "queue-overflow"},
		{"already-slugged", "already-slugged"},
		{"___", ""},
		{"A--B", "a-b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), "slug(%q)", tt.in)
	}
}

// =============================================================================
// PLANNER
// =============================================================================

func TestPlanCreatesCandidateFromOpenGap(t *testing.T) {
	g := openGap("queue.overflow", 73)
	got := Plan([]types.Gap{g}, nil, testNow)

	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, types.HashID("candidate:queue.overflow"), c.ID)
	assert.Equal(t, g.ID, c.SourceGapID)
	assert.Equal(t, "autonomy-title-for-queue-overflow", c.Name)
	assert.Equal(t, "Address gap: Title for queue.overflow", c.Intent)
	assert.Equal(t, types.CandidateProposed, c.Status)
	assert.Equal(t, 73, c.Priority)
	assert.Equal(t, types.ClassReversibleWrite, c.Safety.ExecutionClass)
	assert.NotEmpty(t, c.Safety.Constraints)
	assert.Len(t, c.Tests, 3)
}

func TestPlanCategoryConstraints(t *testing.T) {
	safety := openGap("policy.violation", 90)
	safety.Category = types.GapSafety
	quality := openGap("review.lag", 40)
	quality.Category = types.GapQuality

	got := Plan([]types.Gap{safety, quality}, nil, testNow)
	require.Len(t, got, 2)

	var safetyCand, qualityCand types.SkillCandidate
	for _, c := range got {
		if c.SourceGapID == safety.ID {
			safetyCand = c
		} else {
			qualityCand = c
		}
	}
	assert.Contains(t, safetyCand.Safety.Constraints, "include a policy-deny regression test before any rollout")
	assert.Equal(t, len(baseConstraints), len(qualityCand.Safety.Constraints))
}

func TestPlanSkipsCoveredAndNonOpenGaps(t *testing.T) {
	covered := openGap("covered", 80)
	addressed := openGap("addressed", 70)
	addressed.Status = types.GapAddressed
	fresh := openGap("fresh", 60)

	existing := []types.SkillCandidate{{
		ID: "c-existing", SourceGapID: covered.ID, Name: "autonomy-covered",
		Status: types.CandidateVerified, Priority: 80, CreatedAt: testNow - 100, UpdatedAt: testNow - 100,
	}}

	got := Plan([]types.Gap{covered, addressed, fresh}, existing, testNow)
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	assert.Contains(t, ids, "c-existing")
	assert.Contains(t, ids, types.HashID("candidate:fresh"))
}

func TestPlanBoundedToFivePerCall(t *testing.T) {
	var gapList []types.Gap
	for i := 0; i < 9; i++ {
		gapList = append(gapList, openGap(string(rune('a'+i)), 50+i))
	}
	got := Plan(gapList, nil, testNow)
	assert.Len(t, got, 5)
}

func TestPlanPriorityFloorsAtOne(t *testing.T) {
	g := openGap("weak", 0)
	got := Plan([]types.Gap{g}, nil, testNow)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Priority)
}

func TestPlanDeterministic(t *testing.T) {
	gapList := []types.Gap{openGap("k1", 70), openGap("k2", 60)}
	a := Plan(gapList, nil, testNow)
	b := Plan(gapList, nil, testNow)
	assert.Equal(t, a, b)
}

func TestRankCandidatesOrdering(t *testing.T) {
	cands := []types.SkillCandidate{
		{ID: "b", Priority: 50, CreatedAt: 10},
		{ID: "a", Priority: 70, CreatedAt: 30},
		{ID: "c", Priority: 50, CreatedAt: 5},
		{ID: "aa", Priority: 50, CreatedAt: 10},
	}
	RankCandidates(cands)
	ids := []string{cands[0].ID, cands[1].ID, cands[2].ID, cands[3].ID}
	assert.Equal(t, []string{"a", "c", "aa", "b"}, ids)
}

// =============================================================================
// SYNTHESIZER
// =============================================================================

func TestSynthesizeWritesSkillFileAndMarksPlanned(t *testing.T) {
	ws := t.TempDir()
	cands := Plan([]types.Gap{openGap("queue.overflow", 73)}, nil, testNow)

	got, err := Synthesize(ws, cands, testNow+10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.CandidatePlanned, got[0].Status)
	assert.Equal(t, testNow+10, got[0].UpdatedAt)

	data, err := os.ReadFile(SkillFilePath(ws, got[0].Name))
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "## Purpose")
	assert.Contains(t, body, "## Safety constraints")
	assert.Contains(t, body, "## Verification checklist")
	for _, constraint := range got[0].Safety.Constraints {
		assert.Contains(t, body, constraint)
	}
	for _, test := range got[0].Tests {
		assert.Contains(t, body, test)
	}
}

func TestSynthesizeIdempotent(t *testing.T) {
	ws := t.TempDir()
	cands := Plan([]types.Gap{openGap("k", 50)}, nil, testNow)

	first, err := Synthesize(ws, cands, testNow)
	require.NoError(t, err)
	path := SkillFilePath(ws, first[0].Name)
	before, err := os.Stat(path)
	require.NoError(t, err)

	second, err := Synthesize(ws, first, testNow+99_999)
	require.NoError(t, err)
	// Unchanged input: the file and updatedAt stay put.
	assert.Equal(t, first[0].UpdatedAt, second[0].UpdatedAt)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestSynthesizeBoundedToThreePerCall(t *testing.T) {
	ws := t.TempDir()
	var gapList []types.Gap
	for i := 0; i < 5; i++ {
		gapList = append(gapList, openGap(string(rune('a'+i)), 50))
	}
	cands := Plan(gapList, nil, testNow)

	got, err := Synthesize(ws, cands, testNow)
	require.NoError(t, err)
	planned := 0
	for _, c := range got {
		if c.Status == types.CandidatePlanned {
			planned++
		}
	}
	assert.Equal(t, 3, planned)
}

// =============================================================================
// VERIFIER
// =============================================================================

func TestVerifyPassesSynthesizedCandidate(t *testing.T) {
	ws := t.TempDir()
	cands := Plan([]types.Gap{openGap("good", 60)}, nil, testNow)
	cands, err := Synthesize(ws, cands, testNow)
	require.NoError(t, err)

	got, reports := Verify(ws, cands, testNow+1)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Passed)
	assert.Empty(t, reports[0].Codes)
	assert.Equal(t, types.CandidateVerified, got[0].Status)
}

func TestVerifyRejectsMissingFile(t *testing.T) {
	ws := t.TempDir()
	cands := Plan([]types.Gap{openGap("ghost", 60)}, nil, testNow)
	cands[0].Status = types.CandidatePlanned

	got, reports := Verify(ws, cands, testNow)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Passed)
	assert.Equal(t, []string{CodeMissingFile}, reports[0].Codes)
	assert.Equal(t, types.CandidateRejected, got[0].Status)
}

func TestVerifyRejectsTamperedFile(t *testing.T) {
	ws := t.TempDir()
	cands := Plan([]types.Gap{openGap("tampered", 60)}, nil, testNow)
	cands, err := Synthesize(ws, cands, testNow)
	require.NoError(t, err)

	// Strip the checklist section and all declared tests.
	path := SkillFilePath(ws, cands[0].Name)
	require.NoError(t, os.WriteFile(path, []byte("# x\n\n## Purpose\n\np\n\n## Safety constraints\n\n- none\n"), 0o644))

	got, reports := Verify(ws, cands, testNow)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Passed)
	assert.Contains(t, reports[0].Codes, CodeMissingSection)
	assert.Contains(t, reports[0].Codes, CodeMissingConstraint)
	assert.Contains(t, reports[0].Codes, CodeMissingTest)
	assert.Equal(t, types.CandidateRejected, got[0].Status)
}

func TestVerifySkipsNonPlanned(t *testing.T) {
	ws := t.TempDir()
	cands := []types.SkillCandidate{
		{ID: "v", Status: types.CandidateVerified},
		{ID: "r", Status: types.CandidateRejected},
		{ID: "p", Status: types.CandidateProposed},
	}
	got, reports := Verify(ws, cands, testNow)
	assert.Empty(t, reports)
	assert.Equal(t, cands, got)
}
