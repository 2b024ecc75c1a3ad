// Package ports manages per-compute reservations of TCP console ports and
// UDP tunnel ports from configured ranges.
package ports

import (
	"fmt"
	"sync"

	"github.com/netloom/netloom/pkg/models"
)

// Default port ranges. Console ports carry telnet/VNC sessions, UDP ports
// carry link tunnels between computes.
const (
	DefaultConsolePortStart = 5000
	DefaultConsolePortEnd   = 10000
	DefaultUDPPortStart     = 10000
	DefaultUDPPortEnd       = 20000
)

// Allocator hands out integer ports from a fixed [start, end) range.
// Acquire always returns the smallest free port, so released ports are
// reused before the range grows. An Allocator is safe for concurrent use.
type Allocator struct {
	mu sync.Mutex

	start int
	end   int

	// used maps port -> externally held. Externally held ports were reported
	// in use by the compute without a controller-side owner; they are never
	// released by Release.
	used map[int]bool
}

// NewAllocator creates an allocator for the half-open range [start, end).
func NewAllocator(start, end int) (*Allocator, error) {
	if start <= 0 || end <= start {
		return nil, fmt.Errorf("invalid port range [%d, %d)", start, end)
	}
	return &Allocator{
		start: start,
		end:   end,
		used:  make(map[int]bool),
	}, nil
}

// Acquire reserves the smallest free port in the range.
func (a *Allocator) Acquire() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port := a.start; port < a.end; port++ {
		if _, taken := a.used[port]; !taken {
			a.used[port] = false
			return port, nil
		}
	}
	return 0, models.ErrNoPortAvailable
}

// AcquireSpecific reserves the given port, failing if it is outside the range
// or already reserved.
func (a *Allocator) AcquireSpecific(port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.start || port >= a.end {
		return fmt.Errorf("port %d outside range [%d, %d): %w", port, a.start, a.end, models.ErrPortAlreadyAllocated)
	}
	if _, taken := a.used[port]; taken {
		return models.ErrPortAlreadyAllocated
	}
	a.used[port] = false
	return nil
}

// Release returns a port to the pool. Releasing an unknown or externally held
// port is a no-op; external reservations are only cleared by a fresh
// reconciliation (MarkExternal).
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if external, ok := a.used[port]; ok && !external {
		delete(a.used, port)
	}
}

// MarkExternal records ports the compute reports in use but the allocator
// does not know about. They become reserved-but-untracked so the controller
// never double-allocates them. Previously external ports absent from the new
// report are freed.
func (a *Allocator) MarkExternal(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reported := make(map[int]struct{}, len(ports))
	for _, p := range ports {
		reported[p] = struct{}{}
	}

	for p, external := range a.used {
		if external {
			if _, still := reported[p]; !still {
				delete(a.used, p)
			}
		}
	}

	for p := range reported {
		if p < a.start || p >= a.end {
			continue
		}
		if _, taken := a.used[p]; !taken {
			a.used[p] = true
		}
	}
}

// Used returns the number of reserved ports (external holds included).
func (a *Allocator) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// Capacity returns the size of the range.
func (a *Allocator) Capacity() int {
	return a.end - a.start
}

// Pool groups the two allocators of one compute.
type Pool struct {
	Console *Allocator
	UDP     *Allocator
}

// NewPool creates a console+UDP allocator pair. Zero bounds pick defaults.
func NewPool(consoleStart, consoleEnd, udpStart, udpEnd int) (*Pool, error) {
	if consoleStart == 0 {
		consoleStart = DefaultConsolePortStart
	}
	if consoleEnd == 0 {
		consoleEnd = DefaultConsolePortEnd
	}
	if udpStart == 0 {
		udpStart = DefaultUDPPortStart
	}
	if udpEnd == 0 {
		udpEnd = DefaultUDPPortEnd
	}

	console, err := NewAllocator(consoleStart, consoleEnd)
	if err != nil {
		return nil, fmt.Errorf("console range: %w", err)
	}
	udp, err := NewAllocator(udpStart, udpEnd)
	if err != nil {
		return nil, fmt.Errorf("udp range: %w", err)
	}
	return &Pool{Console: console, UDP: udp}, nil
}
