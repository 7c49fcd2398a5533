// Package catalog defines candidate automations returned by the catalog
// lookup for a free-text request.
package catalog

// Candidate is one ranked automation that may satisfy a request.
type Candidate struct {
	AutomationID string   `json:"automation_id" yaml:"automation_id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	OS           []string `json:"os,omitempty" yaml:"os,omitempty"`
	Keywords     []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Score        float64  `json:"score"`
}

// Query is the input of a catalog lookup.
type Query struct {
	Text     string `json:"text"`
	TargetOS string `json:"target_os,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}
