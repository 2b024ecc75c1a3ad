package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()

	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "controller.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfigDefaults(t *testing.T) {
	t.Run("empty config picks sqlite", func(t *testing.T) {
		cfg := &Config{}
		cfg.ApplyDefaults()
		assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
		assert.NotEmpty(t, cfg.SQLite.Path)
	})

	t.Run("postgres fills connection defaults", func(t *testing.T) {
		cfg := &Config{Type: DatabaseTypePostgres}
		cfg.ApplyDefaults()
		assert.Equal(t, 5432, cfg.Postgres.Port)
		assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	})

	t.Run("postgres requires host", func(t *testing.T) {
		cfg := &Config{Type: DatabaseTypePostgres}
		cfg.ApplyDefaults()
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		cfg := &Config{Type: "mysql"}
		assert.Error(t, cfg.Validate())
	})
}

func TestComputeCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := &models.ComputeRecord{
		ComputeID: "c1",
		Name:      "lab",
		Protocol:  "http",
		Host:      "192.168.1.10",
		Port:      3080,
	}
	require.NoError(t, s.CreateCompute(ctx, record))

	err := s.CreateCompute(ctx, &models.ComputeRecord{ComputeID: "c1", Protocol: "http", Host: "x", Port: 1})
	assert.ErrorIs(t, err, models.ErrDuplicateCompute)

	got, err := s.GetCompute(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", got.Host)

	got.Host = "192.168.1.11"
	require.NoError(t, s.UpdateCompute(ctx, got))
	got, err = s.GetCompute(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.11", got.Host)

	all, err := s.ListComputes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteCompute(ctx, "c1"))
	_, err = s.GetCompute(ctx, "c1")
	assert.ErrorIs(t, err, models.ErrComputeNotFound)
}

func TestProjectIndexUniqueName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProject(ctx, &models.ProjectRecord{
		ProjectID: "11111111-1111-1111-1111-111111111111",
		Name:      "lab",
		Path:      "/tmp/p1",
	}))

	err := s.CreateProject(ctx, &models.ProjectRecord{
		ProjectID: "22222222-2222-2222-2222-222222222222",
		Name:      "lab",
		Path:      "/tmp/p2",
	})
	assert.ErrorIs(t, err, models.ErrDuplicateProject)

	got, err := s.GetProjectByName(ctx, "lab")
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", got.ProjectID)
}

func TestSettingUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	val, err := s.GetSetting(ctx, "modification_uuid")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetSetting(ctx, "modification_uuid", "a"))
	require.NoError(t, s.SetSetting(ctx, "modification_uuid", "b"))

	val, err = s.GetSetting(ctx, "modification_uuid")
	require.NoError(t, err)
	assert.Equal(t, "b", val)

	settings, err := s.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, settings, 1)
}
