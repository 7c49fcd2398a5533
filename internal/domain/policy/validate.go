package policy

import "fmt"

// Validate checks that a Profile is well-formed.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy: name is required")
	}
	if p.Default != "" && !isValidVerdict(p.Default) {
		return fmt.Errorf("policy: invalid default %q", p.Default)
	}
	for i := range p.Rules {
		if err := p.Rules[i].Validate(); err != nil {
			return fmt.Errorf("policy: rule[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks that a Rule is well-formed.
func (r *Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("pattern is required")
	}
	if !isValidVerdict(r.Verdict) {
		return fmt.Errorf("invalid verdict %q", r.Verdict)
	}
	return nil
}

func isValidVerdict(v Verdict) bool {
	switch v {
	case VerdictAllow, VerdictConfirm, VerdictForbid:
		return true
	}
	return false
}
