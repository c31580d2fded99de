package media

import (
	"fmt"
	"net"
	"sync"
)

// PortManager hands out even RTP ports from a configured range
type PortManager struct {
	minPort int
	maxPort int

	mu        sync.Mutex
	usedPorts map[int]bool
	next      int
}

// portAvailable is replaced in tests
var portAvailable = func(port int) bool {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// NewPortManager creates a port manager for [minPort, maxPort]. An invalid
// range falls back to 10000-20000.
func NewPortManager(minPort, maxPort int) *PortManager {
	if minPort <= 0 || maxPort <= 0 || minPort >= maxPort {
		minPort = 10000
		maxPort = 20000
	}
	if minPort%2 != 0 {
		minPort++
	}
	return &PortManager{
		minPort:   minPort,
		maxPort:   maxPort,
		usedPorts: make(map[int]bool),
		next:      minPort,
	}
}

// AllocatePort returns a free even port. Allocation rotates through the
// range so a just released port is not reused immediately.
func (pm *PortManager) AllocatePort() (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	span := (pm.maxPort-pm.minPort)/2 + 1
	for i := 0; i < span; i++ {
		port := pm.next
		pm.next += 2
		if pm.next > pm.maxPort {
			pm.next = pm.minPort
		}
		if pm.usedPorts[port] || !portAvailable(port) {
			continue
		}
		pm.usedPorts[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("no free ports available in range %d-%d", pm.minPort, pm.maxPort)
}

// ReleasePort returns port to the pool
func (pm *PortManager) ReleasePort(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.usedPorts, port)
}

// GetPortRange returns the configured port range
func (pm *PortManager) GetPortRange() (min, max int) {
	return pm.minPort, pm.maxPort
}

// GetUsedPortCount returns the number of allocated ports
func (pm *PortManager) GetUsedPortCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.usedPorts)
}
