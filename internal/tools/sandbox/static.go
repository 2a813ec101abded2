package sandbox

import (
	"fmt"
	"regexp"

	"github.com/loomkit/adk/pkg/models"
)

// blockedPatterns flags constructs spec.md §4.D step 3 requires a script to
// be rejected for: process/environment access, dynamic-eval constructs,
// network access outside the provided helpers, and C-style infinite loops.
// Grounded on the teacher's
// internal/tools/policy allow/deny pattern style, narrowed to the fixed list
// spec.md names rather than a configurable blocklist.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bos\.environ\b`),
	regexp.MustCompile(`\bprocess\.env\b`),
	regexp.MustCompile(`\bos\.Getenv\b`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\b__import__\s*\(`),
	regexp.MustCompile(`\brequire\s*\(\s*['"]child_process['"]\s*\)`),
	regexp.MustCompile(`\bsocket\.(socket|connect)\b`),
	regexp.MustCompile(`\bnet\.(Dial|Listen)\b`),
	regexp.MustCompile(`\bfetch\s*\(\s*['"]file://`),
	regexp.MustCompile(`\bopen\s*\(\s*['"]/etc/`),
	regexp.MustCompile(`\bwhile\s*\(\s*(true|1)\s*\)`),
	regexp.MustCompile(`\bfor\s*\(\s*;;\s*\)`),
}

// DefaultStaticValidate implements Sandbox.StaticValidate: empty check, size
// cap, blocked patterns, and an unbounded-loop check; the script is not
// parsed. Shared by every Sandbox implementation
// in this package so swapping the execution backend never changes what is
// accepted.
func DefaultStaticValidate(scriptSource string, budget Budget) error {
	cap := budget.ScriptSizeCap
	if cap <= 0 {
		cap = 200 * 1024
	}
	if len(scriptSource) == 0 {
		return models.NewCoreError(models.ErrScriptInvalid, "script source is empty")
	}
	if len(scriptSource) > cap {
		return models.NewCoreError(models.ErrScriptInvalid, fmt.Sprintf("script exceeds size cap of %d bytes", cap))
	}
	for _, pat := range blockedPatterns {
		if pat.MatchString(scriptSource) {
			return models.NewCoreError(models.ErrScriptInvalid, fmt.Sprintf("script references a blocked pattern: %s", pat.String()))
		}
	}
	if !hasCancellationCheck(scriptSource) && hasUnboundedLoop(scriptSource) {
		return models.NewCoreError(models.ErrScriptInvalid, "unbounded loop construct without a cancellation check")
	}
	return nil
}

var unboundedLoopPattern = regexp.MustCompile(`\bfor\s+true\s*:|\bloop\s*\{|\bwhile\s+True\s*:`)
var cancellationHintPattern = regexp.MustCompile(`\bcancelled\b|\bctx\.Done\b|\bshould_stop\b|\bcheck_cancel`)

func hasUnboundedLoop(src string) bool {
	return unboundedLoopPattern.MatchString(src)
}

func hasCancellationCheck(src string) bool {
	return cancellationHintPattern.MatchString(src)
}
