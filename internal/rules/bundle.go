package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/antchfx/xpath"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

const flagOn = "True"

// LoadBundle decodes and checks a rule bundle. Omitted gate and required
// flags default to "True"; paths must be valid XPath and patterns valid
// regular expressions.
func LoadBundle(r io.Reader) (*model.RuleBundle, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var bundle model.RuleBundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode rule bundle: %w", err)
	}
	if err := normalize(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

func normalize(bundle *model.RuleBundle) error {
	if len(bundle.Versions) == 0 {
		return errors.New("rule bundle has no versions")
	}
	seen := make(map[string]bool)
	for vi := range bundle.Versions {
		v := &bundle.Versions[vi]
		v.Code = strings.TrimSpace(v.Code)
		if v.Code == "" {
			return fmt.Errorf("version %d: code is empty", vi)
		}
		if seen[v.Code] {
			return fmt.Errorf("version %s: declared twice", v.Code)
		}
		seen[v.Code] = true
		for fi := range v.Fields {
			if err := normalizeField(&v.Fields[fi]); err != nil {
				return fmt.Errorf("version %s: %w", v.Code, err)
			}
		}
	}
	return nil
}

func normalizeField(f *model.FieldBundle) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return errors.New("field with empty name")
	}
	if strings.TrimSpace(f.Path) == "" {
		return fmt.Errorf("field %s: path is empty", f.Name)
	}
	if _, err := xpath.Compile(f.Path); err != nil {
		return fmt.Errorf("field %s: path %q: %w", f.Name, f.Path, err)
	}
	if f.Tag == "" {
		f.Tag = f.Name
	}
	for i := range f.Format {
		spec := &f.Format[i]
		if spec.Predicate == "" {
			spec.Predicate = flagOn
		}
		if _, err := regexp.Compile(anchor(spec.Pattern)); err != nil {
			return fmt.Errorf("field %s: pattern %q: %w", f.Name, spec.Pattern, err)
		}
	}
	for i := range f.Requirement {
		spec := &f.Requirement[i]
		if spec.Predicate == "" {
			spec.Predicate = flagOn
		}
		if spec.Required == "" {
			spec.Required = flagOn
		}
	}
	return nil
}

func anchor(pattern string) string {
	return "^(?:" + pattern + ")$"
}
