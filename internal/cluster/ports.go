package cluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// DefaultLease is how long an allocated port stays reserved.
const DefaultLease = 30 * time.Minute

// ErrNoEndpoints is returned when a request asks for zero or fewer endpoints.
var ErrNoEndpoints = errors.New("at least one endpoint must be requested")

// PortAllocator hands out free TCP ports on a host. A port stays reserved
// until it is released or its lease expires, so concurrent jobs never
// receive the same endpoint.
type PortAllocator struct {
	host  string
	lease time.Duration
	now   func() time.Time

	mu       sync.Mutex
	reserved map[int]time.Time
}

// NewPortAllocator returns an allocator that advertises endpoints on host.
func NewPortAllocator(host string) *PortAllocator {
	if host == "" {
		host = "127.0.0.1"
	}
	return &PortAllocator{
		host:     host,
		lease:    DefaultLease,
		now:      time.Now,
		reserved: make(map[int]time.Time),
	}
}

func (p *PortAllocator) expire() {
	now := p.now()
	for port, until := range p.reserved {
		if now.After(until) {
			delete(p.reserved, port)
		}
	}
}

// Allocate reserves n free ports and returns them as host:port endpoints.
func (p *PortAllocator) Allocate(n int) ([]string, error) {
	if n <= 0 {
		return nil, ErrNoEndpoints
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.expire()

	// Listeners stay open until every port is chosen so the kernel cannot
	// hand out the same one twice within a request.
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for attempts := 0; len(ports) < n; attempts++ {
		if attempts > n*8 {
			return nil, fmt.Errorf("could not find %d free ports", n)
		}
		l, err := net.Listen("tcp", net.JoinHostPort(p.host, "0"))
		if err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}
		listeners = append(listeners, l)
		port := l.Addr().(*net.TCPAddr).Port
		if _, taken := p.reserved[port]; taken {
			continue
		}
		ports = append(ports, port)
	}

	until := p.now().Add(p.lease)
	endpoints := make([]string, len(ports))
	for i, port := range ports {
		p.reserved[port] = until
		endpoints[i] = net.JoinHostPort(p.host, strconv.Itoa(port))
	}
	return endpoints, nil
}

// Release returns endpoints to the pool. Unknown endpoints are ignored.
func (p *PortAllocator) Release(endpoints []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range endpoints {
		_, portStr, err := net.SplitHostPort(ep)
		if err != nil {
			continue
		}
		if port, err := strconv.Atoi(portStr); err == nil {
			delete(p.reserved, port)
		}
	}
}

// Reserved returns the number of ports currently held.
func (p *PortAllocator) Reserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expire()
	return len(p.reserved)
}
