package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

// RuleRepository reads schema versions, fields and rules. The pipeline only
// reads; Import is an operator action.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// VersionByCode returns model.ErrNotFound for an unknown code.
func (r *RuleRepository) VersionByCode(ctx context.Context, code string) (*model.SchemaVersion, error) {
	var v model.SchemaVersion
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, COALESCE(xml_schema, '') FROM schema_versions WHERE code=$1
	`, code)
	if err := row.Scan(&v.ID, &v.Code, &v.Schema); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select schema version: %w", err)
	}
	return &v, nil
}

// FieldsByVersion returns the field catalogue in declaration order.
func (r *RuleRepository) FieldsByVersion(ctx context.Context, versionID int64) ([]model.DocumentField, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, version_id, name, context, path, list_member, tag, description
		FROM document_fields WHERE version_id=$1 ORDER BY id
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("select document fields: %w", err)
	}
	defer rows.Close()
	var out []model.DocumentField
	for rows.Next() {
		var f model.DocumentField
		if err := rows.Scan(&f.ID, &f.VersionID, &f.Name, &f.Context, &f.Path, &f.ListMember, &f.Tag, &f.Description); err != nil {
			return nil, fmt.Errorf("scan document field: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document fields: %w", err)
	}
	return out, nil
}

// ActiveFormatRules returns format rules bound through an active rule of the
// version, in rule id order.
func (r *RuleRepository) ActiveFormatRules(ctx context.Context, versionID int64) ([]model.FormatRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT f.id, f.rule_id, d.name, d.path, f.predicate, f.pattern, f.length, f.error_template
		FROM format_rules f
		JOIN rules r ON r.id = f.rule_id
		JOIN document_fields d ON d.id = r.field_id
		WHERE r.version_id=$1 AND r.is_active
		ORDER BY f.id
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("select format rules: %w", err)
	}
	defer rows.Close()
	var out []model.FormatRule
	for rows.Next() {
		var fr model.FormatRule
		if err := rows.Scan(&fr.ID, &fr.RuleID, &fr.Field, &fr.Path, &fr.Predicate, &fr.Pattern, &fr.Length, &fr.ErrorTemplate); err != nil {
			return nil, fmt.Errorf("scan format rule: %w", err)
		}
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate format rules: %w", err)
	}
	return out, nil
}

// ActiveRequirementRules mirrors ActiveFormatRules for requirement rules.
func (r *RuleRepository) ActiveRequirementRules(ctx context.Context, versionID int64) ([]model.RequirementRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT q.id, q.rule_id, d.name, d.path, q.predicate, q.is_required, q.error_template
		FROM requirement_rules q
		JOIN rules r ON r.id = q.rule_id
		JOIN document_fields d ON d.id = r.field_id
		WHERE r.version_id=$1 AND r.is_active
		ORDER BY q.id
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("select requirement rules: %w", err)
	}
	defer rows.Close()
	var out []model.RequirementRule
	for rows.Next() {
		var rr model.RequirementRule
		if err := rows.Scan(&rr.ID, &rr.RuleID, &rr.Field, &rr.Path, &rr.Predicate, &rr.Required, &rr.ErrorTemplate); err != nil {
			return nil, fmt.Errorf("scan requirement rule: %w", err)
		}
		out = append(out, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requirement rules: %w", err)
	}
	return out, nil
}

// Import replaces the catalogue of every version in the bundle inside one
// transaction. Messages keep referencing their version row, which is updated
// in place.
func (r *RuleRepository) Import(ctx context.Context, bundle *model.RuleBundle) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, vb := range bundle.Versions {
			var versionID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO schema_versions (code, xml_schema) VALUES ($1, NULLIF($2, ''))
				ON CONFLICT (code) DO UPDATE SET xml_schema = EXCLUDED.xml_schema
				RETURNING id
			`, vb.Code, vb.Schema).Scan(&versionID)
			if err != nil {
				return fmt.Errorf("upsert version %s: %w", vb.Code, err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM document_fields WHERE version_id=$1`, versionID); err != nil {
				return fmt.Errorf("clear fields of %s: %w", vb.Code, err)
			}
			for _, fb := range vb.Fields {
				if err := importField(ctx, tx, versionID, fb); err != nil {
					return fmt.Errorf("version %s field %s: %w", vb.Code, fb.Name, err)
				}
			}
		}
		return nil
	})
}

func importField(ctx context.Context, tx pgx.Tx, versionID int64, fb model.FieldBundle) error {
	var fieldID, ruleID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_fields (version_id, name, context, path, list_member, tag, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id
	`, versionID, fb.Name, fb.Context, fb.Path, fb.ListMember, fb.Tag, fb.Description).Scan(&fieldID)
	if err != nil {
		return fmt.Errorf("insert field: %w", err)
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO rules (field_id, version_id, is_active) VALUES ($1,$2,$3) RETURNING id
	`, fieldID, versionID, fb.IsActive()).Scan(&ruleID)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	batch := &pgx.Batch{}
	for _, spec := range fb.Format {
		batch.Queue(`
			INSERT INTO format_rules (rule_id, predicate, pattern, length, error_template)
			VALUES ($1,$2,$3,$4,$5)
		`, ruleID, spec.Predicate, spec.Pattern, spec.Length, spec.ErrorTemplate)
	}
	for _, spec := range fb.Requirement {
		batch.Queue(`
			INSERT INTO requirement_rules (rule_id, predicate, is_required, error_template)
			VALUES ($1,$2,$3,$4)
		`, ruleID, spec.Predicate, spec.Required, spec.ErrorTemplate)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert rules: %w", err)
	}
	return nil
}
