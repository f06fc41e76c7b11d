package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

func TestResolveConfigDir(t *testing.T) {
	dir, err := resolveConfigDir("/tmp/planaudit-test")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/planaudit-test", dir)

	t.Setenv("HOME", "/home/auditor")
	dir, err = resolveConfigDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/auditor", ".planaudit"), dir)
}

func TestLoadCatalog_BuiltInWhenAbsent(t *testing.T) {
	settings := domain.DefaultAppSettings()

	cat, err := loadCatalog(&settings, t.TempDir())

	require.NoError(t, err)
	assert.Positive(t, cat.Len())
}

func TestNewSettingsService(t *testing.T) {
	svc, err := newSettingsService(t.TempDir())
	require.NoError(t, err)

	settings, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAppSettings().Chunker, settings.Chunker)
}

func TestNewSettingsService_UnusableDirKeepsSettingsInMemory(t *testing.T) {
	svc, err := newSettingsService("/dev/null/cannot/create")
	require.NoError(t, err)

	require.NoError(t, svc.Set("judge.kind", "keyword"))
	settings, err := svc.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.JudgeKeyword, settings.Judge.Kind)
}
