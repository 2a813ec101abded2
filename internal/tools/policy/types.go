// Package policy implements spec.md §4.B's role-gated tool selection: a
// fail-secure resolver that decides whether a user or admin may see or
// invoke a given tool.
package policy

// Decision explains why a tool was allowed or denied, for audit logging and
// debugging. Grounded on the teacher's policy.Decision shape
// (internal/tools/policy/resolver.go), kept verbatim since the allow/deny
// audit trail pattern generalizes directly to the simpler role model.
type Decision struct {
	Allowed bool
	Tool    string
	Reason  string
}
