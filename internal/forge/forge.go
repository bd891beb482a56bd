// Package forge is the skill pipeline: the planner turns ranked gaps into
// skill candidates, the synthesizer renders candidates into generated skill
// files, and the verifier checks those files against their declared safety
// envelope before anything may promote.
package forge

import (
	"path/filepath"
	"strings"
)

// GeneratedSkillsDir is the workspace-relative directory for synthesized
// skill files.
const GeneratedSkillsDir = "skills/autonomy-generated"

// Slug lowers a name into a filesystem- and id-safe token. Runs of
// non-alphanumeric characters collapse into single hyphens.
func Slug(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// SkillFilePath returns the generated file path for a candidate name.
func SkillFilePath(workspaceDir, candidateName string) string {
	return filepath.Join(workspaceDir, filepath.FromSlash(GeneratedSkillsDir), Slug(candidateName)+".md")
}
