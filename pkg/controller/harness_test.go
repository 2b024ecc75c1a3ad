package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
)

const testVersion = "2.2.0"

// memStore is an in-memory Store for controller tests.
type memStore struct {
	mu       sync.Mutex
	computes map[string]*models.ComputeRecord
	projects map[string]*models.ProjectRecord
	settings map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		computes: make(map[string]*models.ComputeRecord),
		projects: make(map[string]*models.ProjectRecord),
		settings: make(map[string]string),
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
	if _, ok := s.computes[c.ComputeID]; !ok {
		return models.ErrComputeNotFound
	}
	s.computes[c.ComputeID] = c
	return nil
}

func (s *memStore) DeleteCompute(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.computes[id]; !ok {
		return models.ErrComputeNotFound
	}
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
	if _, ok := s.projects[p.ProjectID]; !ok {
		return models.ErrProjectNotFound
	}
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
	return s.settings[key], nil
}

func (s *memStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// nioKey addresses one NIO on a fake compute.
type nioKey struct {
	nodeID  string
	adapter int
	port    int
}

// fakeCompute emulates the compute REST contract in memory.
type fakeCompute struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	nodes      map[string]map[string]any // node_id -> create payload
	duplicates map[string]map[string]any // source node_id -> duplicate payload
	nios       map[nioKey]map[string]any
	captures   map[nioKey]string // -> capture file name
	verbOrder  []string          // "<node_id>:<verb>" in call order
	failVerbs  map[string]bool   // "<node_id>:<verb>" -> force 500
}

func newFakeComputeAgent(t *testing.T) *fakeCompute {
	f := &fakeCompute{
		t:          t,
		nodes:      make(map[string]map[string]any),
		duplicates: make(map[string]map[string]any),
		nios:       make(map[nioKey]map[string]any),
		captures:   make(map[nioKey]string),
		failVerbs:  make(map[string]bool),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v2/compute/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"version": testVersion})
	})
	mux.HandleFunc("GET /v2/compute/capabilities", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version": testVersion, "platform": "linux",
			"node_types": []string{"vpcs", "qemu", "docker", "ethernet_switch", "cloud"},
		})
	})
	mux.HandleFunc("GET /v2/compute/network/ports", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"console_ports": []int{}, "udp_ports": []int{}})
	})
	mux.HandleFunc("GET /v2/compute/notifications", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		<-r.Context().Done()
	})

	mux.HandleFunc("POST /v2/compute/projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v2/compute/projects/{pid}/close", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v2/compute/projects/{pid}/{emulator}/nodes", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		nodeID, _ := payload["node_id"].(string)
		f.mu.Lock()
		f.nodes[nodeID] = payload
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("PUT /v2/compute/projects/{pid}/{emulator}/nodes/{nid}", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_ = json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("DELETE /v2/compute/projects/{pid}/{emulator}/nodes/{nid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		delete(f.nodes, r.PathValue("nid"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/duplicate", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.duplicates[r.PathValue("nid")] = payload
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	for _, verb := range []string{"start", "stop", "suspend", "resume"} {
		verb := verb
		pattern := fmt.Sprintf("POST /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/%s", verb)
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			key := r.PathValue("nid") + ":" + verb
			f.mu.Lock()
			f.verbOrder = append(f.verbOrder, key)
			fail := f.failVerbs[key]
			f.mu.Unlock()
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{"message": "driver exploded"})
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{}"))
		})
	}

	mux.HandleFunc("POST /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/adapters/{a}/ports/{p}/nio",
		func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			f.mu.Lock()
			f.nios[f.key(r)] = payload
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(payload)
		})
	mux.HandleFunc("PUT /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/adapters/{a}/ports/{p}/nio",
		func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			f.mu.Lock()
			f.nios[f.key(r)] = payload
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(payload)
		})
	mux.HandleFunc("DELETE /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/adapters/{a}/ports/{p}/nio",
		func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			delete(f.nios, f.key(r))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})

	mux.HandleFunc("POST /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/adapters/{a}/ports/{p}/start_capture",
		func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			name, _ := payload["capture_file_name"].(string)
			f.mu.Lock()
			f.captures[f.key(r)] = name
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{"pcap_file_path": "/tmp/" + name})
		})
	mux.HandleFunc("POST /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/adapters/{a}/ports/{p}/stop_capture",
		func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			delete(f.captures, f.key(r))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
	mux.HandleFunc("GET /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/adapters/{a}/ports/{p}/pcap",
		func(w http.ResponseWriter, r *http.Request) {
			data := []byte("pcap-bytes")
			var start int
			if n, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-", &start); n == 1 && err == nil && start < len(data) {
				w.Header().Set("Content-Range",
					fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write(data[start:])
				return
			}
			_, _ = w.Write(data)
		})

	mux.HandleFunc("GET /v2/compute/projects/{pid}/{emulator}/nodes/{nid}/archive",
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "no archive"})
		})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		// The notification stream handler blocks until its request context is
		// cancelled; drop client connections first so Close does not wait on it.
		f.srv.CloseClientConnections()
		f.srv.Close()
	})
	return f
}

func (f *fakeCompute) key(r *http.Request) nioKey {
	adapter, _ := strconv.Atoi(r.PathValue("a"))
	port, _ := strconv.Atoi(r.PathValue("p"))
	return nioKey{nodeID: r.PathValue("nid"), adapter: adapter, port: port}
}

func (f *fakeCompute) nioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nios)
}

func (f *fakeCompute) nio(nodeID string, adapter, port int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nios[nioKey{nodeID: nodeID, adapter: adapter, port: port}]
}

func (f *fakeCompute) duplicated(nodeID string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duplicates[nodeID]
}

func (f *fakeCompute) created(nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[nodeID]
	return ok
}

func (f *fakeCompute) startOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, entry := range f.verbOrder {
		out = append(out, entry)
	}
	return out
}

func (f *fakeCompute) failVerb(nodeID, verb string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failVerbs[nodeID+":"+verb] = true
}

func (f *fakeCompute) request(id string) ComputeRequest {
	u, err := url.Parse(f.srv.URL)
	require.NoError(f.t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(f.t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(f.t, err)
	return ComputeRequest{ComputeID: id, Name: id, Protocol: u.Scheme, Host: host, Port: port}
}

// harness wires a controller to one or more fake computes.
type harness struct {
	t        *testing.T
	ctrl     *Controller
	store    *memStore
	bus      *notification.Bus
	computes map[string]*fakeCompute
	ctx      context.Context
}

func newHarness(t *testing.T, computeIDs ...string) *harness {
	t.Helper()

	store := newMemStore()
	bus := notification.NewBus()
	t.Cleanup(bus.Close)

	ctrl, err := New(Options{
		Version: testVersion,
		DataDir: t.TempDir(),
		Store:   store,
		Bus:     bus,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, ctrl.Start(ctx))
	t.Cleanup(ctrl.Shutdown)

	h := &harness{t: t, ctrl: ctrl, store: store, bus: bus, computes: make(map[string]*fakeCompute), ctx: ctx}
	for _, id := range computeIDs {
		h.addCompute(id)
	}
	return h
}

func (h *harness) addCompute(id string) *fakeCompute {
	h.t.Helper()
	agent := newFakeComputeAgent(h.t)
	h.computes[id] = agent

	proxy, err := h.ctrl.AddCompute(h.ctx, agent.request(id))
	require.NoError(h.t, err)
	require.Eventually(h.t, proxy.Connected, 5*time.Second, 10*time.Millisecond,
		"compute %s never connected", id)
	return agent
}

func (h *harness) newProject(name string) *Project {
	h.t.Helper()
	project, err := h.ctrl.CreateProject(h.ctx, ProjectRequest{Name: name})
	require.NoError(h.t, err)
	return project
}

func (h *harness) addNode(p *Project, computeID, name, nodeType string) *Node {
	h.t.Helper()
	node, err := p.CreateNode(h.ctx, NodeRequest{
		Name:      name,
		NodeType:  nodeType,
		ComputeID: computeID,
	})
	require.NoError(h.t, err)
	return node
}
