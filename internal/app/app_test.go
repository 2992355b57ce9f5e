package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/xmlgate/internal/config"
)

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{InputDir: filepath.Join(root, "IN"), OutputDir: filepath.Join(root, "nested", "OUT")}

	require.NoError(t, EnsureDirs(cfg))
	require.NoError(t, EnsureDirs(cfg), "idempotent")

	for _, dir := range []string{cfg.InputDir, cfg.OutputDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestEnsureDirsFailsOnFile(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "IN")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := EnsureDirs(&config.Config{InputDir: blocker, OutputDir: filepath.Join(root, "OUT")})
	assert.Error(t, err)
}
