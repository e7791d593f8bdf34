// Package models defines core data structures for intents, chat turns, and decisions.
package models

// IntentType classifies how a recognized intent is handled.
type IntentType string

const (
	// IntentFAQ routes the turn to knowledge retrieval and a direct answer.
	IntentFAQ IntentType = "faq"
	// IntentFlow starts or continues a multi-step guided process.
	IntentFlow IntentType = "flow"
	// IntentUnknown is the fallback when no intent can be determined.
	IntentUnknown IntentType = "unknown"
)

// IntentDefinition is one entry of the intent catalog. Definitions are
// immutable after load; identity is ID.
type IntentDefinition struct {
	ID       string     `yaml:"id" json:"id"`
	Name     string     `yaml:"name" json:"name"`
	Keywords []string   `yaml:"keywords" json:"keywords"`
	Examples []string   `yaml:"examples" json:"examples"`
	Type     IntentType `yaml:"type" json:"type"`
	NextFlow string     `yaml:"next_flow" json:"next_flow,omitempty"`
	// Enabled defaults to true when unset in the catalog file.
	Enabled *bool `yaml:"enabled" json:"enabled,omitempty"`
}

// IsEnabled reports whether the intent participates in matching.
func (d *IntentDefinition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// IndexText is the text embedded for this intent: keywords and examples
// joined with spaces.
func (d *IntentDefinition) IndexText() string {
	parts := make([]string, 0, len(d.Keywords)+len(d.Examples))
	parts = append(parts, d.Keywords...)
	parts = append(parts, d.Examples...)
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// ResolutionSource identifies which pipeline stage produced a result.
type ResolutionSource string

const (
	SourceVector ResolutionSource = "vector"
	SourceRemote ResolutionSource = "remote"
	SourceRule   ResolutionSource = "rule"
)

// ResolutionResult is the outcome of one intent resolution attempt.
// Produced fresh per request, never persisted.
type ResolutionResult struct {
	Intent     string           `json:"intent"`
	Confidence float64          `json:"confidence"`
	FlowID     string           `json:"flow_id,omitempty"`
	Source     ResolutionSource `json:"source"`
}
