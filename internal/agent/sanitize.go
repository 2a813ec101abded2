package agent

import (
	"regexp"
	"strings"
	"unicode"
)

// ContextType selects the length cap sanitize applies (spec.md §4.A step 1).
type ContextType string

const (
	ContextTypeChat            ContextType = "chat"
	ContextTypeTaskDescription ContextType = "task_description"
)

const (
	maxChatLen = 1000
	maxTaskLen = 5000
)

// neutralizedMarker replaces a detected role-override or environment-probing
// pattern. It is itself inert text: re-running sanitize over output that
// already contains it finds no further matches, which is what gives
// Sanitize its idempotence (spec.md §8 property 5).
const neutralizedMarker = "[neutralized]"

// roleOverridePatterns catches attempts to override the system persona or
// impersonate a privileged speaker. Matched case-insensitively.
var roleOverridePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?previous instructions`),
	regexp.MustCompile(`(?i)disregard (the )?(above|prior) instructions`),
	regexp.MustCompile(`(?i)you are now\b`),
	regexp.MustCompile(`(?i)^\s*system\s*:`),
	regexp.MustCompile(`(?i)^\s*assistant\s*:`),
	regexp.MustCompile(`(?i)print the system prompt`),
	regexp.MustCompile(`(?i)reveal your (system )?instructions`),
}

// environmentProbePatterns catch embedded code referencing environment or
// process state, the same concern spec.md §4.D's sandbox static validator
// applies to generated scripts, mirrored here for inbound chat text.
var environmentProbePatterns = []*regexp.Regexp{
	regexp.MustCompile(`os\.environ`),
	regexp.MustCompile(`process\.env`),
	regexp.MustCompile(`os\.Getenv`),
}

// Sanitize applies spec.md §4.A step 1's injection-resistant normalization:
// strip control characters other than tab/newline/carriage-return, neutralize
// role-override and environment-probing patterns, and enforce a length cap
// appropriate to ctxType. Sanitize is idempotent: Sanitize(Sanitize(s)) ==
// Sanitize(s) for all s (spec.md §8 property 5), because every neutralization
// rewrites matched text into neutralizedMarker, which none of the patterns
// match.
func Sanitize(message string, ctxType ContextType) string {
	s := stripControlChars(message)
	s = neutralizeRoleOverrides(s)
	s = neutralizeEnvironmentProbes(s)
	return truncate(s, capFor(ctxType))
}

func capFor(ctxType ContextType) int {
	if ctxType == ContextTypeTaskDescription {
		return maxTaskLen
	}
	return maxChatLen
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func neutralizeRoleOverrides(s string) string {
	for _, pat := range roleOverridePatterns {
		s = pat.ReplaceAllString(s, neutralizedMarker)
	}
	return s
}

func neutralizeEnvironmentProbes(s string) string {
	for _, pat := range environmentProbePatterns {
		s = pat.ReplaceAllString(s, neutralizedMarker)
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
