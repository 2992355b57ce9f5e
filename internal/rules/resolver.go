// Package rules resolves schema versions and the rule set bound to them.
package rules

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

// Store is the read-only view of the rule store. VersionByCode returns
// model.ErrNotFound for an unknown code.
type Store interface {
	VersionByCode(ctx context.Context, code string) (*model.SchemaVersion, error)
	FieldsByVersion(ctx context.Context, versionID int64) ([]model.DocumentField, error)
	ActiveFormatRules(ctx context.Context, versionID int64) ([]model.FormatRule, error)
	ActiveRequirementRules(ctx context.Context, versionID int64) ([]model.RequirementRule, error)
}

// RuleSet holds the active rules for one version in load order.
type RuleSet struct {
	Format      []model.FormatRule
	Requirement []model.RequirementRule
}

// Resolver reads the store on every call so rule edits apply without a
// redeploy.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up the schema version by code.
func (r *Resolver) Resolve(ctx context.Context, code string) (*model.SchemaVersion, error) {
	version, err := r.store.VersionByCode(ctx, code)
	if errors.Is(err, model.ErrNotFound) {
		return nil, &model.ConfigurationError{Version: code, Err: model.ErrUnsupportedVersion}
	}
	if err != nil {
		return nil, model.Infra("resolve version", err)
	}
	return version, nil
}

// LoadFieldCatalogue returns the fields declared for the version.
func (r *Resolver) LoadFieldCatalogue(ctx context.Context, version *model.SchemaVersion) ([]model.DocumentField, error) {
	fields, err := r.store.FieldsByVersion(ctx, version.ID)
	if err != nil {
		return nil, model.Infra("load field catalogue", err)
	}
	return fields, nil
}

// LoadActiveRules returns format and requirement rules reachable through an
// active Rule of the version.
func (r *Resolver) LoadActiveRules(ctx context.Context, version *model.SchemaVersion) (RuleSet, error) {
	format, err := r.store.ActiveFormatRules(ctx, version.ID)
	if err != nil {
		return RuleSet{}, model.Infra("load format rules", err)
	}
	requirement, err := r.store.ActiveRequirementRules(ctx, version.ID)
	if err != nil {
		return RuleSet{}, model.Infra("load requirement rules", err)
	}
	return RuleSet{Format: format, Requirement: requirement}, nil
}
