package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/controller"
	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
)

// memStore is a minimal in-memory controller.Store for handler tests.
type memStore struct {
	mu       sync.Mutex
	computes map[string]*models.ComputeRecord
	projects map[string]*models.ProjectRecord
	settings map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		computes: map[string]*models.ComputeRecord{},
		projects: map[string]*models.ProjectRecord{},
		settings: map[string]string{},
	}
}

func (s *memStore) CreateCompute(_ context.Context, c *models.ComputeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.computes[c.ComputeID]; ok {
		return models.ErrDuplicateCompute
	}
	s.computes[c.ComputeID] = c
	return nil
}

func (s *memStore) GetCompute(_ context.Context, id string) (*models.ComputeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.computes[id]
	if !ok {
		return nil, models.ErrComputeNotFound
	}
	return c, nil
}

func (s *memStore) ListComputes(_ context.Context) ([]*models.ComputeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ComputeRecord, 0, len(s.computes))
	for _, c := range s.computes {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) UpdateCompute(_ context.Context, c *models.ComputeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computes[c.ComputeID] = c
	return nil
}

func (s *memStore) DeleteCompute(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.computes, id)
	return nil
}

func (s *memStore) CreateProject(_ context.Context, p *models.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ProjectID]; ok {
		return models.ErrDuplicateProject
	}
	s.projects[p.ProjectID] = p
	return nil
}

func (s *memStore) GetProject(_ context.Context, id string) (*models.ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, models.ErrProjectNotFound
	}
	return p, nil
}

func (s *memStore) ListProjects(_ context.Context) ([]*models.ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ProjectRecord, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *memStore) UpdateProject(_ context.Context, p *models.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ProjectID] = p
	return nil
}

func (s *memStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

func (s *memStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", models.ErrSettingNotFound
	}
	return v, nil
}

func (s *memStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	bus := notification.NewBus()
	ctrl, err := controller.New(controller.Options{
		Version: "2.2.0",
		DataDir: t.TempDir(),
		Store:   newMemStore(),
		Bus:     bus,
	})
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Shutdown)

	router := NewRouter(RouterOptions{Controller: ctrl, Local: true})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.ContentLength != 0 && resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func TestVersionEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v2/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2.2.0", body["version"])
	assert.Equal(t, true, body["local"])
}

func TestHealthEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = doJSON(t, http.MethodGet, server.URL+"/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestProjectEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/v2/projects", map[string]any{"name": "t1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	projectID, _ := body["project_id"].(string)
	require.NotEmpty(t, projectID)
	assert.Equal(t, "opened", body["status"])

	// Duplicate name is a conflict problem.
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v2/projects", map[string]any{"name": "T1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "conflict", body["type"])

	// Empty name is a validation problem.
	resp, body = doJSON(t, http.MethodPost, server.URL+"/v2/projects", map[string]any{"name": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation-error", body["type"])

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v2/projects/%s/close", server.URL, projectID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v2/projects/%s", server.URL, projectID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "closed", body["status"])

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v2/projects/%s/open", server.URL, projectID), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/v2/projects/%s", server.URL, projectID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v2/projects/%s", server.URL, projectID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", body["type"])
}

func TestSettingsEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/v2/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)

	resp, _ = doJSON(t, http.MethodPut, server.URL+"/v2/settings", map[string]any{"gui": map[string]any{"theme": "dark"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/v2/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "gui")
}

func TestComputeValidationProblems(t *testing.T) {
	server := newTestServer(t)

	// Missing host.
	resp, body := doJSON(t, http.MethodPost, server.URL+"/v2/computes", map[string]any{"protocol": "http", "port": 3080})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation-error", body["type"])

	// Unknown compute.
	resp, body = doJSON(t, http.MethodGet, server.URL+"/v2/computes/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not-found", body["type"])

	// Malformed body.
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v2/computes", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestStatisticsEndpoint(t *testing.T) {
	server := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, server.URL+"/v2/projects", map[string]any{"name": "t1"})
	require.NotEmpty(t, body["project_id"])

	resp, stats := doJSON(t, http.MethodGet, server.URL+"/v2/statistics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), stats["projects"])
	assert.Equal(t, float64(1), stats["projects_opened"])
}
