package forge

import (
	"fmt"
	"os"
	"strings"

	"autonomyd/internal/types"
)

// maxVerificationsPerCall bounds one verification pass.
const maxVerificationsPerCall = 5

// Machine-readable verification failure codes.
const (
	CodeMissingFile       = "missing_file"
	CodeMissingSection    = "missing_section"
	CodeMissingConstraint = "missing_constraint"
	CodeMissingTest       = "missing_test"
)

// requiredSections must appear as headers in every generated skill file.
var requiredSections = []string{"Purpose", "Safety constraints", "Verification checklist"}

// VerificationReport records the outcome for one candidate.
type VerificationReport struct {
	CandidateID string   `json:"candidateId"`
	Name        string   `json:"name"`
	Passed      bool     `json:"passed"`
	Codes       []string `json:"codes,omitempty"`
	Details     []string `json:"details,omitempty"`
}

// Verify checks up to five planned candidates against their generated skill
// files. A candidate passes only when the file exists, carries all required
// section headers, and literally contains every declared constraint and
// test. Passing candidates become verified, failing ones rejected.
func Verify(workspaceDir string, candidates []types.SkillCandidate, nowMs int64) ([]types.SkillCandidate, []VerificationReport) {
	out := append([]types.SkillCandidate(nil), candidates...)
	var reports []VerificationReport
	for i := range out {
		if len(reports) >= maxVerificationsPerCall {
			break
		}
		c := &out[i]
		if c.Status != types.CandidatePlanned {
			continue
		}

		report := verifyCandidate(workspaceDir, *c)
		if report.Passed {
			c.Status = types.CandidateVerified
		} else {
			c.Status = types.CandidateRejected
		}
		c.UpdatedAt = nowMs
		reports = append(reports, report)
	}
	return out, reports
}

func verifyCandidate(workspaceDir string, c types.SkillCandidate) VerificationReport {
	report := VerificationReport{CandidateID: c.ID, Name: c.Name}

	data, err := os.ReadFile(SkillFilePath(workspaceDir, c.Name))
	if err != nil {
		report.Codes = []string{CodeMissingFile}
		report.Details = []string{fmt.Sprintf("skill file not readable: %v", err)}
		return report
	}
	body := string(data)

	for _, section := range requiredSections {
		if !strings.Contains(body, "## "+section) {
			report.Codes = append(report.Codes, CodeMissingSection)
			report.Details = append(report.Details, fmt.Sprintf("missing section %q", section))
		}
	}
	for _, constraint := range c.Safety.Constraints {
		if !strings.Contains(body, constraint) {
			report.Codes = append(report.Codes, CodeMissingConstraint)
			report.Details = append(report.Details, fmt.Sprintf("constraint not declared in file: %q", constraint))
		}
	}
	for _, test := range c.Tests {
		if !strings.Contains(body, test) {
			report.Codes = append(report.Codes, CodeMissingTest)
			report.Details = append(report.Details, fmt.Sprintf("test not declared in file: %q", test))
		}
	}

	report.Passed = len(report.Codes) == 0
	return report
}
