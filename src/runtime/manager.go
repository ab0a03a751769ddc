package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Service is a background worker the engine runs: the moderation worker,
// the dispatcher, the broadcast watcher.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// Manager coordinates lifecycle of all registered services.
type Manager struct {
	services []Service
	mu       sync.Mutex
	started  bool
}

func NewManager(svcs ...Service) *Manager {
	return &Manager{services: svcs}
}

// Add registers additional services before Start is invoked.
func (m *Manager) Add(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("runtime.Manager: cannot add services after start")
	}
	m.services = append(m.services, svc)
	return nil
}

// Start initializes all services. If any fails, previously started services
// are stopped in reverse order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("runtime.Manager already started")
	}

	started := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		if svc == nil {
			continue
		}
		if err := svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop(ctx)
			}
			return fmt.Errorf("service %s failed: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}

	m.started = true
	return nil
}

// Stop shuts down all services in reverse order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.services) - 1; i >= 0; i-- {
		if svc := m.services[i]; svc != nil {
			svc.Stop(ctx)
		}
	}
	m.started = false
}
