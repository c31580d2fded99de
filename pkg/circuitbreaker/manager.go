package circuitbreaker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the circuit breakers of every backend
type Manager struct {
	logger   *logrus.Entry
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
}

// NewManager creates a new circuit breaker manager
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		logger:   logger.WithField("component", "circuit_breaker_manager"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// GetCircuitBreaker gets or creates the breaker called name. config is only
// used on creation; nil selects DefaultConfig.
func (m *Manager) GetCircuitBreaker(name string, config *Config) *CircuitBreaker {
	m.mutex.RLock()
	if breaker, exists := m.breakers[name]; exists {
		m.mutex.RUnlock()
		return breaker
	}
	m.mutex.RUnlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	if config == nil {
		config = DefaultConfig()
	}

	breaker := NewCircuitBreaker(name, config, m.logger.Logger)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_name":      name,
		"failure_threshold": config.FailureThreshold,
		"timeout":           config.Timeout,
	}).Info("Created new circuit breaker")

	return breaker
}

// GetAllStatistics returns statistics for all circuit breakers
func (m *Manager) GetAllStatistics() map[string]Statistics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := make(map[string]Statistics, len(m.breakers))
	for name, breaker := range m.breakers {
		stats[name] = breaker.GetStatistics()
	}
	return stats
}

// OpenBreakers returns the sorted names of open circuits
func (m *Manager) OpenBreakers() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var open []string
	for name, breaker := range m.breakers {
		if breaker.IsOpen() {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}

// HealthCheck fails while any circuit is open
func (m *Manager) HealthCheck() error {
	if open := m.OpenBreakers(); len(open) > 0 {
		return fmt.Errorf("open circuits: %s", strings.Join(open, ", "))
	}
	return nil
}
