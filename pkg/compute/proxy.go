// Package compute maintains the controller-side proxies for compute agents:
// connection state, version handshake, capability refresh, port bookkeeping
// and the notification stream feeding the event bus.
package compute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/models"
	"github.com/netloom/netloom/pkg/notification"
	"github.com/netloom/netloom/pkg/ports"
)

// State is the proxy connection state.
type State string

const (
	StateUnregistered State = "unregistered"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Reconnect backoff bounds.
const (
	reconnectInitialInterval = 1 * time.Second
	reconnectMaxInterval     = 30 * time.Second
)

// refreshInterval is how often capabilities and port usage are re-read from
// a connected compute.
const refreshInterval = 60 * time.Second

// Capabilities is what a compute reports it can run.
type Capabilities struct {
	Version   string   `json:"version"`
	Platform  string   `json:"platform"`
	CPUs      int      `json:"cpus"`
	Memory    int64    `json:"memory"`
	DiskSize  int64    `json:"disk_size"`
	NodeTypes []string `json:"node_types"`
}

// Usage is the rolling resource usage reported by compute pings.
type Usage struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	DiskUsagePercent   float64 `json:"disk_usage_percent"`
}

// portsReport is the compute's view of ports currently bound on it.
type portsReport struct {
	ConsolePorts []int `json:"console_ports"`
	UDPPorts     []int `json:"udp_ports"`
}

// EventSink receives events forwarded from the compute stream. The
// notification bus satisfies it.
type EventSink interface {
	Publish(notification.Event)
}

// Proxy is the controller-side handle for one compute agent.
type Proxy struct {
	computeID string

	client *Client
	pools  *ports.Pool
	sink   EventSink

	controllerVersion *semver.Version

	mu           sync.RWMutex
	name         string
	protocol     string
	host         string
	port         int
	state        State
	version      string
	capabilities Capabilities
	usage        Usage
	lastError    string

	cancel    context.CancelFunc
	interrupt context.CancelFunc
	wg        sync.WaitGroup
}

// NewProxy builds a proxy from a stored compute record. controllerVersion is
// used for the handshake; pools track the compute's console and UDP ranges.
func NewProxy(record *models.ComputeRecord, controllerVersion *semver.Version, pools *ports.Pool, sink EventSink) *Proxy {
	return &Proxy{
		computeID:         record.ComputeID,
		name:              record.Name,
		protocol:          record.Protocol,
		host:              record.Host,
		port:              record.Port,
		client:            NewClient(record.ComputeID, record.Protocol, record.Host, record.Port, record.User, record.Password),
		pools:             pools,
		sink:              sink,
		controllerVersion: controllerVersion,
		state:             StateUnregistered,
	}
}

// ID returns the compute id.
func (p *Proxy) ID() string {
	return p.computeID
}

// Host returns the compute host as advertised for consoles and tunnels.
func (p *Proxy) Host() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.host
}

// Name returns the display name.
func (p *Proxy) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// State returns the current connection state.
func (p *Proxy) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Connected reports whether the proxy is usable for calls.
func (p *Proxy) Connected() bool {
	return p.State() == StateConnected
}

// Version returns the compute's reported version, empty until the first
// successful handshake.
func (p *Proxy) Version() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Capabilities returns the last reported capabilities.
func (p *Proxy) Capabilities() Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capabilities
}

// Usage returns the last reported resource usage.
func (p *Proxy) Usage() Usage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.usage
}

// LastError returns the most recent connection error message.
func (p *Proxy) LastError() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastError
}

// Pools exposes the compute's port allocators.
func (p *Proxy) Pools() *ports.Pool {
	return p.pools
}

// UpdateEndpoint replaces the connection parameters. The proxy reconnects on
// its next cycle; callers should Stop and Start to force it immediately.
func (p *Proxy) UpdateEndpoint(record *models.ComputeRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = record.Name
	p.protocol = record.Protocol
	p.host = record.Host
	p.port = record.Port
	p.client = NewClient(record.ComputeID, record.Protocol, record.Host, record.Port, record.User, record.Password)
}

// Start launches the connection loop. It returns immediately; the proxy
// keeps reconnecting until Stop is called or ctx is cancelled.
func (p *Proxy) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.state = StateConnecting
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(runCtx)
	}()
}

// Stop terminates the connection loop and waits for it to finish.
func (p *Proxy) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	p.state = StateUnregistered
	p.mu.Unlock()
}

// run is the reconnect loop: connect with backoff, serve the notification
// stream until it breaks, then start over.
func (p *Proxy) run(ctx context.Context) {
	for {
		if err := p.connect(ctx); err != nil {
			// Only context cancellation escapes the backoff loop.
			return
		}

		p.serve(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}

		p.setState(StateDisconnected, "")
		p.publishComputeUpdated()
	}
}

// connect retries the handshake with exponential backoff until it succeeds
// or ctx is cancelled.
func (p *Proxy) connect(ctx context.Context) error {
	p.setState(StateConnecting, "")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectInitialInterval
	policy.MaxInterval = reconnectMaxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		if err := p.handshake(ctx); err != nil {
			p.setState(StateConnecting, err.Error())
			logger.Debug("compute handshake failed",
				logger.KeyComputeID, p.computeID,
				logger.KeyAttempt, attempt,
				logger.KeyError, err,
			)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return err
	}

	if err := p.refresh(ctx); err != nil {
		logger.Warn("compute capability refresh failed",
			logger.KeyComputeID, p.computeID,
			logger.KeyError, err,
		)
	}

	p.setState(StateConnected, "")
	logger.Info("compute connected",
		logger.KeyComputeID, p.computeID,
		logger.KeyHost, p.host,
		logger.KeyPort, p.port,
	)
	p.publishComputeUpdated()
	return nil
}

type versionResponse struct {
	Version string `json:"version"`
	Local   bool   `json:"local"`
}

// handshake reads the compute version and verifies protocol compatibility.
// Major and minor must match the controller's; patch levels may differ.
func (p *Proxy) handshake(ctx context.Context) error {
	var resp versionResponse
	if err := p.client.Get(ctx, "/v2/compute/version", &resp); err != nil {
		return err
	}

	remote, err := semver.NewVersion(resp.Version)
	if err != nil {
		return &Error{
			Kind:      KindProtocol,
			ComputeID: p.computeID,
			Message:   fmt.Sprintf("compute reports unparseable version %q", resp.Version),
			Err:       err,
		}
	}

	if remote.Major() != p.controllerVersion.Major() || remote.Minor() != p.controllerVersion.Minor() {
		return &Error{
			Kind:      KindProtocol,
			ComputeID: p.computeID,
			Message: fmt.Sprintf("compute version %s is incompatible with controller %s",
				remote, p.controllerVersion),
		}
	}

	p.mu.Lock()
	p.version = resp.Version
	p.mu.Unlock()
	return nil
}

// refresh re-reads capabilities and reconciles port usage.
func (p *Proxy) refresh(ctx context.Context) error {
	var caps Capabilities
	if err := p.client.Get(ctx, "/v2/compute/capabilities", &caps); err != nil {
		return err
	}

	p.mu.Lock()
	p.capabilities = caps
	p.mu.Unlock()

	var report portsReport
	if err := p.client.Get(ctx, "/v2/compute/network/ports", &report); err != nil {
		return err
	}
	p.pools.Console.MarkExternal(report.ConsolePorts)
	p.pools.UDP.MarkExternal(report.UDPPorts)
	return nil
}

// serve consumes the notification stream and refreshes capabilities until
// the stream breaks or ctx is cancelled.
func (p *Proxy) serve(ctx context.Context) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Expose the stream cancel so a failed proxied call can cut this
	// cycle short and trigger the reconnect loop right away.
	p.mu.Lock()
	p.interrupt = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.interrupt = nil
		p.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.streamEvents(streamCtx)
	}()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-done:
			return
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil {
				logger.Debug("compute refresh failed",
					logger.KeyComputeID, p.computeID,
					logger.KeyError, err,
				)
			}
		}
	}
}

func (p *Proxy) setState(state State, lastError string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if lastError != "" {
		p.lastError = lastError
	}
	if state == StateConnected {
		p.lastError = ""
	}
}

// publishComputeUpdated emits the compute summary on the bus.
func (p *Proxy) publishComputeUpdated() {
	if p.sink == nil {
		return
	}
	p.sink.Publish(notification.Event{
		Action: notification.ActionComputeUpdated,
		Event:  p.Summary(),
	})
}

// Summary is the wire representation of a compute.
type Summary struct {
	ComputeID          string       `json:"compute_id"`
	Name               string       `json:"name"`
	Protocol           string       `json:"protocol"`
	Host               string       `json:"host"`
	Port               int          `json:"port"`
	User               string       `json:"user,omitempty"`
	Connected          bool         `json:"connected"`
	State              State        `json:"state"`
	Version            string       `json:"version,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	CPUUsagePercent    float64      `json:"cpu_usage_percent"`
	MemoryUsagePercent float64      `json:"memory_usage_percent"`
	LastError          string       `json:"last_error,omitempty"`
}

// Summary snapshots the proxy for API responses and notifications.
func (p *Proxy) Summary() Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Summary{
		ComputeID:          p.computeID,
		Name:               p.name,
		Protocol:           p.protocol,
		Host:               p.host,
		Port:               p.port,
		Connected:          p.state == StateConnected,
		State:              p.state,
		Version:            p.version,
		Capabilities:       p.capabilities,
		CPUUsagePercent:    p.usage.CPUUsagePercent,
		MemoryUsagePercent: p.usage.MemoryUsagePercent,
		LastError:          p.lastError,
	}
}

// requireConnected gates calls on connection state.
func (p *Proxy) requireConnected() error {
	if p.Connected() {
		return nil
	}
	return &Error{
		Kind:      KindNetwork,
		ComputeID: p.computeID,
		Message:   fmt.Sprintf("compute %s is not connected", p.computeID),
		Err:       models.ErrComputeUnreachable,
	}
}

// noteCallFailure flips a connected proxy to disconnected when a proxied
// call died on the wire. Without it the state would lag until the
// notification stream notices; callers in between would keep hitting a dead
// compute. The current serve cycle is interrupted so the reconnect loop
// takes over immediately.
func (p *Proxy) noteCallFailure(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// The caller gave up; the compute may be fine.
		return
	}
	var cerr *Error
	if !errors.As(err, &cerr) {
		return
	}
	if cerr.Kind != KindNetwork && cerr.Kind != KindTimeout {
		return
	}

	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return
	}
	p.state = StateDisconnected
	p.lastError = cerr.Error()
	interrupt := p.interrupt
	p.mu.Unlock()

	logger.Warn("compute call failed, marking disconnected",
		logger.KeyComputeID, p.computeID,
		logger.KeyError, err,
	)
	if interrupt != nil {
		interrupt()
	}
	p.publishComputeUpdated()
}

// Get performs a GET against a connected compute.
func (p *Proxy) Get(ctx context.Context, path string, result any) error {
	if err := p.requireConnected(); err != nil {
		return err
	}
	if err := p.client.Get(ctx, path, result); err != nil {
		p.noteCallFailure(ctx, err)
		return err
	}
	return nil
}

// Post performs a POST against a connected compute.
func (p *Proxy) Post(ctx context.Context, path string, body, result any) error {
	if err := p.requireConnected(); err != nil {
		return err
	}
	if err := p.client.Post(ctx, path, body, result); err != nil {
		p.noteCallFailure(ctx, err)
		return err
	}
	return nil
}

// Put performs a PUT against a connected compute.
func (p *Proxy) Put(ctx context.Context, path string, body, result any) error {
	if err := p.requireConnected(); err != nil {
		return err
	}
	if err := p.client.Put(ctx, path, body, result); err != nil {
		p.noteCallFailure(ctx, err)
		return err
	}
	return nil
}

// Delete performs a DELETE against a connected compute.
func (p *Proxy) Delete(ctx context.Context, path string, result any) error {
	if err := p.requireConnected(); err != nil {
		return err
	}
	if err := p.client.Delete(ctx, path, result); err != nil {
		p.noteCallFailure(ctx, err)
		return err
	}
	return nil
}

// Forward relays a request verbatim to a connected compute.
func (p *Proxy) Forward(ctx context.Context, method, path string, body io.Reader, header http.Header, stream bool) (*http.Response, error) {
	if err := p.requireConnected(); err != nil {
		return nil, err
	}
	resp, err := p.client.Forward(ctx, method, path, body, header, stream)
	if err != nil {
		p.noteCallFailure(ctx, err)
		return nil, err
	}
	return resp, nil
}

// OpenStream opens a long-lived stream on a connected compute.
func (p *Proxy) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := p.requireConnected(); err != nil {
		return nil, err
	}
	return p.client.OpenStream(ctx, path)
}

// OpenPCAP opens a capture byte stream on a connected compute, forwarding an
// optional Range header.
func (p *Proxy) OpenPCAP(ctx context.Context, path, rangeHeader string) (*http.Response, error) {
	if err := p.requireConnected(); err != nil {
		return nil, err
	}
	resp, err := p.client.OpenPCAP(ctx, path, rangeHeader)
	if err != nil {
		p.noteCallFailure(ctx, err)
		return nil, err
	}
	return resp, nil
}

// UploadImage pushes an image file to a connected compute.
func (p *Proxy) UploadImage(ctx context.Context, emulator, filename, localPath string) (string, error) {
	if err := p.requireConnected(); err != nil {
		return "", err
	}
	return p.client.UploadImage(ctx, emulator, filename, localPath)
}

// AcquireUDPPort reserves a UDP tunnel port on this compute.
func (p *Proxy) AcquireUDPPort() (int, error) {
	return p.pools.UDP.Acquire()
}

// ReleaseUDPPort returns a UDP tunnel port.
func (p *Proxy) ReleaseUDPPort(port int) {
	p.pools.UDP.Release(port)
}

// AcquireConsolePort reserves a console port on this compute.
func (p *Proxy) AcquireConsolePort() (int, error) {
	return p.pools.Console.Acquire()
}

// ReleaseConsolePort returns a console port.
func (p *Proxy) ReleaseConsolePort(port int) {
	p.pools.Console.Release(port)
}
