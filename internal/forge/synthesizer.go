package forge

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"autonomyd/internal/types"
)

// maxSynthesisPerCall bounds one synthesis pass.
const maxSynthesisPerCall = 3

// Synthesize renders up to three proposed or planned candidates into skill
// files and marks them planned. Only meaningful while the FSM sits in the
// synthesize stage; callers gate on that. File writes are idempotent: an
// unchanged rendering leaves the file untouched and the candidate's
// updatedAt alone.
func Synthesize(workspaceDir string, candidates []types.SkillCandidate, nowMs int64) ([]types.SkillCandidate, error) {
	out := append([]types.SkillCandidate(nil), candidates...)
	done := 0
	for i := range out {
		if done >= maxSynthesisPerCall {
			break
		}
		c := &out[i]
		if c.Status != types.CandidateProposed && c.Status != types.CandidatePlanned {
			continue
		}

		path := SkillFilePath(workspaceDir, c.Name)
		body := renderSkill(*c)
		changed, err := writeIfChanged(path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize %s: %w", c.Name, err)
		}
		if c.Status != types.CandidatePlanned {
			c.Status = types.CandidatePlanned
			c.UpdatedAt = nowMs
		} else if changed {
			c.UpdatedAt = nowMs
		}
		done++
	}
	return out, nil
}

// renderSkill produces the canonical markdown for a candidate. The verifier
// depends on the three section headers and on every constraint and test
// appearing literally.
func renderSkill(c types.SkillCandidate) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", c.Name)
	fmt.Fprintf(&b, "## Purpose\n\n%s\n\n", c.Intent)

	b.WriteString("## Safety constraints\n\n")
	for _, constraint := range c.Safety.Constraints {
		fmt.Fprintf(&b, "- %s\n", constraint)
	}
	b.WriteString("\n## Verification checklist\n\n")
	for _, test := range c.Tests {
		fmt.Fprintf(&b, "- %s\n", test)
	}

	b.WriteString("\n## Operational guidance\n\n")
	fmt.Fprintf(&b, "Execution class: %s. ", c.Safety.ExecutionClass)
	b.WriteString("Run only within the agent workspace. ")
	b.WriteString("If any safety constraint cannot be honored, stop and surface the failure instead of proceeding.\n")
	return b.Bytes()
}

func writeIfChanged(path string, body []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, body) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
