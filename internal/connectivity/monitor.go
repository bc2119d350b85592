// Package connectivity tracks whether the remote backend is reachable and
// notifies listeners on online/offline transitions.
package connectivity

import (
	"sync"

	"go.uber.org/zap"

	"offline-sync-service/internal/logger"
)

type handler struct {
	id uint64
	fn func()
}

// Monitor holds the current connectivity state. Set is edge-triggered:
// handlers run once per real transition and never for a repeated state.
type Monitor struct {
	// dispatchMu serialises transitions with their handlers so observers see
	// them in the order they happened.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	online    bool
	nextID    uint64
	onOnline  []handler
	onOffline []handler
}

// NewMonitor starts in the state reported by the host environment.
func NewMonitor(initiallyOnline bool) *Monitor {
	return &Monitor{online: initiallyOnline}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the new state and reports whether it was a transition.
// Handlers run synchronously on the calling goroutine, in registration order,
// and finish before the next transition is applied. A handler must not call Set.
func (m *Monitor) Set(online bool) bool {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	var handlers []handler
	if online {
		handlers = append(handlers, m.onOnline...)
	} else {
		handlers = append(handlers, m.onOffline...)
	}
	m.mu.Unlock()

	logger.Log.Info("Connectivity changed", zap.Bool("online", online))
	for _, h := range handlers {
		h.fn()
	}
	return true
}

// OnOnline registers fn for offline->online transitions.
func (m *Monitor) OnOnline(fn func()) (remove func()) {
	return m.register(&m.onOnline, fn)
}

// OnOffline registers fn for online->offline transitions.
func (m *Monitor) OnOffline(fn func()) (remove func()) {
	return m.register(&m.onOffline, fn)
}

func (m *Monitor) register(list *[]handler, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	*list = append(*list, handler{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, h := range *list {
				if h.id == id {
					*list = append((*list)[:i:i], (*list)[i+1:]...)
					return
				}
			}
		})
	}
}
