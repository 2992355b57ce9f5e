package model

import "strings"

// DocumentField declares an extractable field for one schema version.
type DocumentField struct {
	ID          int64  `json:"id"`
	VersionID   int64  `json:"versionId"`
	Name        string `json:"name"`
	Context     string `json:"context"`
	Path        string `json:"path"`
	ListMember  string `json:"listMember,omitempty"`
	Tag         string `json:"tag"`
	Description string `json:"description,omitempty"`
}

// Rule binds a DocumentField to a SchemaVersion.
type Rule struct {
	ID        int64 `json:"id"`
	FieldID   int64 `json:"fieldId"`
	VersionID int64 `json:"versionId"`
	Active    bool  `json:"active"`
}

// FormatRule constrains a field value with a regular expression. Field and
// Path are denormalised from the owning DocumentField.
type FormatRule struct {
	ID            int64  `json:"id"`
	RuleID        int64  `json:"ruleId"`
	Field         string `json:"field"`
	Path          string `json:"path"`
	Predicate     string `json:"predicate"`
	Pattern       string `json:"pattern"`
	Length        string `json:"length,omitempty"`
	ErrorTemplate string `json:"errorTemplate,omitempty"`
}

// Enabled reports whether the gating predicate switches the rule on.
func (r FormatRule) Enabled() bool { return flagTrue(r.Predicate) }

// RequirementRule demands that a field is present and non-empty.
type RequirementRule struct {
	ID            int64  `json:"id"`
	RuleID        int64  `json:"ruleId"`
	Field         string `json:"field"`
	Path          string `json:"path"`
	Predicate     string `json:"predicate"`
	Required      string `json:"required"`
	ErrorTemplate string `json:"errorTemplate,omitempty"`
}

// Enabled reports whether the gating predicate switches the rule on.
func (r RequirementRule) Enabled() bool { return flagTrue(r.Predicate) }

// IsRequired reports whether the required flag is set.
func (r RequirementRule) IsRequired() bool { return flagTrue(r.Required) }

// Flags are stored as text ("True"/"False") in the rule store.
func flagTrue(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}
