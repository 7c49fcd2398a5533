package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CommandResult records which rule decided one command.
type CommandResult struct {
	Command   string  `json:"command"`
	Verdict   Verdict `json:"verdict"`
	RuleIndex int     `json:"rule_index"` // -1 if the profile default applied
	Reason    string  `json:"reason"`
}

// Evaluation is the combined verdict for a command list: the most
// restrictive per-command verdict, with the reasons for every non-allow.
type Evaluation struct {
	Verdict  Verdict         `json:"verdict"`
	Profile  string          `json:"profile"`
	Commands []CommandResult `json:"commands"`
	Reasons  []string        `json:"reasons,omitempty"`
}

// EvaluateCommand checks one command using first-match-wins.
func (p *Profile) EvaluateCommand(cmd string) CommandResult {
	cmd = strings.TrimSpace(cmd)
	for i := range p.Rules {
		rule := &p.Rules[i]
		if !matchCommand(rule.Pattern, cmd) {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("matched rule[%d]: pattern=%q", i, rule.Pattern)
		}
		return CommandResult{Command: cmd, Verdict: rule.Verdict, RuleIndex: i, Reason: reason}
	}
	return CommandResult{
		Command:   cmd,
		Verdict:   p.defaultVerdict(),
		RuleIndex: -1,
		Reason:    fmt.Sprintf("no matching rule; %s by default", p.defaultVerdict()),
	}
}

// Evaluate checks every command. An empty list is allowed.
func (p *Profile) Evaluate(commands []string) Evaluation {
	ev := Evaluation{Verdict: VerdictAllow, Profile: p.Name, Commands: make([]CommandResult, 0, len(commands))}
	for _, cmd := range commands {
		res := p.EvaluateCommand(cmd)
		ev.Commands = append(ev.Commands, res)
		ev.Verdict = Worse(ev.Verdict, res.Verdict)
		if res.Verdict != VerdictAllow {
			ev.Reasons = append(ev.Reasons, fmt.Sprintf("%s: %s (%s)", res.Verdict, res.Command, res.Reason))
		}
	}
	return ev
}

func (p *Profile) defaultVerdict() Verdict {
	if p.Default == "" {
		return VerdictConfirm
	}
	return p.Default
}

// matchCommand checks whether a rule pattern matches a command:
//   - "*" matches everything
//   - "systemctl status:*" matches "systemctl status nginx" and "systemctl status"
//   - "rm -rf *" matches any command starting with "rm -rf "
//   - other patterns use filepath.Match, then exact comparison
func matchCommand(pattern, cmd string) bool {
	if pattern == cmd || pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		return cmd == prefix || strings.HasPrefix(cmd, prefix+" ")
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && !strings.ContainsAny(prefix, "*?[") {
		return strings.HasPrefix(cmd, prefix)
	}
	matched, err := filepath.Match(pattern, cmd)
	return err == nil && matched
}
