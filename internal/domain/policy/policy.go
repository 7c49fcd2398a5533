// Package policy defines the command policy that decides whether the
// commands of a decision may run unattended, need confirmation, or are forbidden.
package policy

// Verdict is the result of evaluating one command against a Profile.
type Verdict string

const (
	VerdictAllow   Verdict = "allow"
	VerdictConfirm Verdict = "confirm"
	VerdictForbid  Verdict = "forbid"
)

var severity = map[Verdict]int{
	VerdictAllow:   0,
	VerdictConfirm: 1,
	VerdictForbid:  2,
}

// Worse returns the more restrictive of two verdicts.
func Worse(a, b Verdict) Verdict {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Rule maps a command pattern to a verdict.
// Pattern examples: "df -h", "systemctl status:*", "rm -rf *", "*".
type Rule struct {
	Pattern string  `json:"pattern" yaml:"pattern"`
	Verdict Verdict `json:"verdict" yaml:"verdict"`
	Reason  string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Profile is a named, ordered rule set. Default applies when no rule matches.
type Profile struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Rules       []Rule  `json:"rules" yaml:"rules"`
	Default     Verdict `json:"default,omitempty" yaml:"default,omitempty"`
}

// Request asks for a verdict on a command list on behalf of a tenant.
type Request struct {
	TenantID string   `json:"tenant_id"`
	Commands []string `json:"commands"`
}
