//go:build integration

// Integration tests for the controller store against a real PostgreSQL
// backend. Run with:
//
//	go test -tags integration ./test/integration/store/
//
// An external database can be supplied via POSTGRES_HOST/POSTGRES_PORT;
// otherwise a container is started with testcontainers.
package store_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/store"
)

// Shared PostgreSQL container for the whole test run.
var (
	pgHost string
	pgPort int
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		pgHost = host
		pgPort = 5432
		if p := os.Getenv("POSTGRES_PORT"); p != "" {
			pgPort, _ = strconv.Atoi(p)
		}
		os.Exit(m.Run())
	}

	// PostgreSQL logs "database system is ready" twice during startup, once
	// during bootstrap and once when it actually accepts connections.
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("netloom_test"),
		postgres.WithUsername("netloom_test"),
		postgres.WithPassword("netloom_test"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = container.Terminate(ctx)
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}
	pgHost = host
	pgPort = mapped.Int()

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// newPostgresStore opens a GORM store against the shared container. Each
// caller gets its own connection but the schema is shared, so tests use
// unique ids throughout.
func newPostgresStore(t *testing.T) *store.GORMStore {
	t.Helper()

	s, err := store.New(&store.Config{
		Type: store.DatabaseTypePostgres,
		Postgres: store.PostgresConfig{
			Host:     pgHost,
			Port:     pgPort,
			Database: "netloom_test",
			User:     "netloom_test",
			Password: "netloom_test",
			SSLMode:  "disable",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresComputeCRUD(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	computeID := uuid.New().String()
	record := &models.ComputeRecord{
		ComputeID: computeID,
		Name:      "rack-1",
		Protocol:  "http",
		Host:      "10.0.0.7",
		Port:      3080,
		User:      "admin",
		Password:  "secret",
	}
	require.NoError(t, s.CreateCompute(ctx, record))

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := s.CreateCompute(ctx, &models.ComputeRecord{
			ComputeID: computeID,
			Protocol:  "http",
			Host:      "10.0.0.8",
			Port:      3080,
		})
		assert.ErrorIs(t, err, models.ErrDuplicateCompute)
	})

	t.Run("get round-trips fields", func(t *testing.T) {
		got, err := s.GetCompute(ctx, computeID)
		require.NoError(t, err)
		assert.Equal(t, "rack-1", got.Name)
		assert.Equal(t, "10.0.0.7", got.Host)
		assert.Equal(t, 3080, got.Port)
		assert.Equal(t, "secret", got.Password)
	})

	t.Run("update persists", func(t *testing.T) {
		record.Host = "10.0.0.9"
		record.Name = "rack-1b"
		require.NoError(t, s.UpdateCompute(ctx, record))

		got, err := s.GetCompute(ctx, computeID)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.9", got.Host)
		assert.Equal(t, "rack-1b", got.Name)
	})

	t.Run("list contains record", func(t *testing.T) {
		all, err := s.ListComputes(ctx)
		require.NoError(t, err)
		found := false
		for _, c := range all {
			if c.ComputeID == computeID {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("delete then not found", func(t *testing.T) {
		require.NoError(t, s.DeleteCompute(ctx, computeID))

		_, err := s.GetCompute(ctx, computeID)
		assert.ErrorIs(t, err, models.ErrComputeNotFound)
		assert.ErrorIs(t, s.DeleteCompute(ctx, computeID), models.ErrComputeNotFound)
	})
}

func TestPostgresProjectIndex(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	projectID := uuid.New().String()
	name := "topology-" + projectID[:8]
	require.NoError(t, s.CreateProject(ctx, &models.ProjectRecord{
		ProjectID: projectID,
		Name:      name,
		Path:      "/var/lib/netloom/projects/" + projectID,
	}))

	t.Run("name is unique", func(t *testing.T) {
		err := s.CreateProject(ctx, &models.ProjectRecord{
			ProjectID: uuid.New().String(),
			Name:      name,
			Path:      "/tmp/elsewhere",
		})
		assert.ErrorIs(t, err, models.ErrDuplicateProject)
	})

	t.Run("lookup by name", func(t *testing.T) {
		got, err := s.GetProjectByName(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, projectID, got.ProjectID)
	})

	t.Run("auto_open flag survives update", func(t *testing.T) {
		record, err := s.GetProject(ctx, projectID)
		require.NoError(t, err)
		record.AutoOpen = true
		require.NoError(t, s.UpdateProject(ctx, record))

		got, err := s.GetProject(ctx, projectID)
		require.NoError(t, err)
		assert.True(t, got.AutoOpen)
	})

	require.NoError(t, s.DeleteProject(ctx, projectID))
	_, err := s.GetProject(ctx, projectID)
	assert.ErrorIs(t, err, models.ErrProjectNotFound)
}

func TestPostgresSettings(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	key := "test." + uuid.New().String()

	val, err := s.GetSetting(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, val, "unset key reads as empty")

	require.NoError(t, s.SetSetting(ctx, key, `{"theme":"dark"}`))
	val, err = s.GetSetting(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"dark"}`, val)

	// Upsert overwrites.
	require.NoError(t, s.SetSetting(ctx, key, `{"theme":"light"}`))
	val, err = s.GetSetting(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"light"}`, val)

	require.NoError(t, s.DeleteSetting(ctx, key))
	val, err = s.GetSetting(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, val)
}

func TestPostgresConcurrentSettingWriters(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	key := "counter." + uuid.New().String()
	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			done <- s.SetSetting(ctx, key, strconv.Itoa(n))
		}(i)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}

	// Last writer wins; the row must exist and hold one of the values.
	val, err := s.GetSetting(ctx, key)
	require.NoError(t, err)
	n, err := strconv.Atoi(val)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
	assert.Less(t, n, 10)
}
