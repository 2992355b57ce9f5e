// Package validation evaluates field values against format and requirement
// rules.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

const (
	defaultFormatTemplate   = "invalid format for field {field}"
	defaultRequiredTemplate = "field {field} is required"
)

// FieldValues resolves a logical field to its extracted text. path is the
// extraction path declared by the rule's field.
type FieldValues interface {
	Value(field, path string) (string, bool)
}

// Result is the decision and the ordered error list.
type Result struct {
	Decision model.Decision
	Errors   []model.ValidationError
}

// Engine is stateless; one value can serve concurrent workers.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Validate runs every enabled format rule, then every enabled requirement
// rule. Format errors always precede requirement errors. A pattern that does
// not compile is a configuration error.
func (e *Engine) Validate(values FieldValues, format []model.FormatRule, requirement []model.RequirementRule) (Result, error) {
	var errs []model.ValidationError

	for _, rule := range format {
		if !rule.Enabled() || rule.Pattern == "" {
			continue
		}
		value, found := values.Value(rule.Field, rule.Path)
		if !found || value == "" {
			continue
		}
		re, err := regexp.Compile(`^(?:` + rule.Pattern + `)$`)
		if err != nil {
			return Result{}, &model.ConfigurationError{
				Err: fmt.Errorf("format rule %d for field %s: %w", rule.ID, rule.Field, err),
			}
		}
		if !re.MatchString(value) {
			errs = append(errs, newError(rule.Field, rule.ErrorTemplate, defaultFormatTemplate))
		}
	}

	for _, rule := range requirement {
		if !rule.Enabled() || !rule.IsRequired() {
			continue
		}
		if value, found := values.Value(rule.Field, rule.Path); !found || value == "" {
			errs = append(errs, newError(rule.Field, rule.ErrorTemplate, defaultRequiredTemplate))
		}
	}

	decision := model.DecisionAccepted
	if len(errs) > 0 {
		decision = model.DecisionRejected
	}
	return Result{Decision: decision, Errors: errs}, nil
}

func newError(field, template, fallback string) model.ValidationError {
	if strings.TrimSpace(template) == "" {
		template = fallback
	}
	return model.ValidationError{
		Field:   field,
		Message: strings.ReplaceAll(template, "{field}", field),
	}
}
