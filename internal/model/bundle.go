package model

// RuleBundle describes versions, their field catalogues and rules in a
// portable form. Importing a bundle replaces the catalogue of every version it
// names.
type RuleBundle struct {
	Versions []VersionBundle `json:"versions"`
}

// VersionBundle is one schema version with its fields.
type VersionBundle struct {
	Code   string        `json:"code"`
	Schema string        `json:"schema,omitempty"`
	Fields []FieldBundle `json:"fields"`
}

// FieldBundle is a document field, its rule binding and the rules attached.
type FieldBundle struct {
	Name        string            `json:"name"`
	Context     string            `json:"context,omitempty"`
	Path        string            `json:"path"`
	ListMember  string            `json:"listMember,omitempty"`
	Tag         string            `json:"tag,omitempty"`
	Description string            `json:"description,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	Format      []FormatSpec      `json:"format,omitempty"`
	Requirement []RequirementSpec `json:"requirement,omitempty"`
}

// IsActive defaults to true when the flag is omitted.
func (f FieldBundle) IsActive() bool { return f.Active == nil || *f.Active }

// FormatSpec is a format rule without its ids.
type FormatSpec struct {
	Predicate     string `json:"predicate,omitempty"`
	Pattern       string `json:"pattern"`
	Length        string `json:"length,omitempty"`
	ErrorTemplate string `json:"errorTemplate,omitempty"`
}

// RequirementSpec is a requirement rule without its ids.
type RequirementSpec struct {
	Predicate     string `json:"predicate,omitempty"`
	Required      string `json:"required,omitempty"`
	ErrorTemplate string `json:"errorTemplate,omitempty"`
}
