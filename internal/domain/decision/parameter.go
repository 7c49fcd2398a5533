package decision

import (
	"fmt"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Format names a cheap syntactic check on a parameter value.
type Format string

const (
	FormatEmail    Format = "email"
	FormatHostname Format = "hostname"
	FormatPort     Format = "port"
)

// Rule holds the local validation constraints of a parameter.
type Rule struct {
	MinLength int      `json:"min_length,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Enum      []string `json:"enum,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Format    Format   `json:"format,omitempty"`
}

// ParameterDescriptor describes one input the user must supply.
type ParameterDescriptor struct {
	Key        string `json:"key"`
	Label      string `json:"label,omitempty"`
	Required   bool   `json:"required"`
	Validation Rule   `json:"validation,omitzero"`
	Default    string `json:"default,omitempty"`
}

var hostnameRe = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// Check validates value against the descriptor and returns a user-facing
// message, or "" when the value is acceptable.
func (p *ParameterDescriptor) Check(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		if p.Required {
			return "is required"
		}
		return ""
	}

	r := p.Validation
	n := utf8.RuneCountInString(value)
	if r.MinLength > 0 && n < r.MinLength {
		return fmt.Sprintf("must be at least %d characters", r.MinLength)
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return fmt.Sprintf("must be at most %d characters", r.MaxLength)
	}
	if len(r.Enum) > 0 && !slices.Contains(r.Enum, value) {
		return "must be one of: " + strings.Join(r.Enum, ", ")
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return "has an invalid validation pattern"
		}
		if !re.MatchString(value) {
			return "has an invalid format"
		}
	}
	switch r.Format {
	case FormatEmail:
		if a, err := mail.ParseAddress(value); err != nil || a.Address != value {
			return "must be a valid email address"
		}
	case FormatHostname:
		if len(value) > 253 || !hostnameRe.MatchString(value) {
			return "must be a valid hostname"
		}
	case FormatPort:
		var port int
		if _, err := fmt.Sscanf(value, "%d", &port); err != nil || port < 1 || port > 65535 || fmt.Sprint(port) != value {
			return "must be a port between 1 and 65535"
		}
	}
	return ""
}

// DisplayLabel returns the label, falling back to the key.
func (p *ParameterDescriptor) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Key
}
