package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/xmlgate/internal/storage"
)

const sampleBundle = `{
  "versions": [{
    "code": "3.0",
    "fields": [
      {"name": "TransactionDate", "path": "./Operation/TransactionDate",
       "requirement": [{"errorTemplate": "{field} is missing"}]},
      {"name": "Currency", "path": "./Operation/Currency",
       "format": [{"pattern": "[A-Z]{3}"}]},
      {"name": "Legacy", "path": "./Legacy", "active": false,
       "requirement": [{}]}
    ]
  }]
}`

func TestLoadBundleDefaults(t *testing.T) {
	bundle, err := LoadBundle(strings.NewReader(sampleBundle))
	require.NoError(t, err)

	fields := bundle.Versions[0].Fields
	assert.Equal(t, "True", fields[0].Requirement[0].Predicate)
	assert.Equal(t, "True", fields[0].Requirement[0].Required)
	assert.Equal(t, "True", fields[1].Format[0].Predicate)
	assert.Equal(t, "Currency", fields[1].Tag)
	assert.False(t, fields[2].IsActive())
}

func TestLoadBundleRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"unknown field":  `{"versions":[{"code":"1","colour":"red"}]}`,
		"no versions":    `{"versions":[]}`,
		"empty code":     `{"versions":[{"code":" "}]}`,
		"duplicate code": `{"versions":[{"code":"1"},{"code":"1"}]}`,
		"bad xpath":      `{"versions":[{"code":"1","fields":[{"name":"A","path":"./A[["}]}]}`,
		"bad pattern":    `{"versions":[{"code":"1","fields":[{"name":"A","path":"./A","format":[{"pattern":"(["}]}]}]}`,
		"unnamed field":  `{"versions":[{"code":"1","fields":[{"path":"./A"}]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadBundle(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestImportedBundleResolves(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	bundle, err := LoadBundle(strings.NewReader(sampleBundle))
	require.NoError(t, err)
	require.NoError(t, store.Import(ctx, bundle))

	r := NewResolver(store)
	v, err := r.Resolve(ctx, "3.0")
	require.NoError(t, err)
	set, err := r.LoadActiveRules(ctx, v)
	require.NoError(t, err)

	require.Len(t, set.Requirement, 1, "inactive field is skipped")
	assert.Equal(t, "TransactionDate", set.Requirement[0].Field)
	require.Len(t, set.Format, 1)
	assert.Equal(t, "./Operation/Currency", set.Format[0].Path)

	// a second import replaces the catalogue instead of appending
	require.NoError(t, store.Import(ctx, bundle))
	fields, err := r.LoadFieldCatalogue(ctx, v)
	require.NoError(t, err)
	assert.Len(t, fields, 3)
}
