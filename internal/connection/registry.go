package connection

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds one Manager per target URL so that callers sharing a
// target share its connection.
type Registry struct {
	logger *slog.Logger
	opts   []Option

	mu       sync.Mutex
	managers map[string]Manager
}

// NewRegistry creates an empty registry. opts are applied to every manager it creates.
func NewRegistry(logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		opts:     opts,
		managers: make(map[string]Manager),
	}
}

// Register returns the manager for cfg.URL, creating it on first use.
// A later call with the same URL returns the existing manager and ignores cfg.
func (r *Registry) Register(cfg ManagerConfig, opts ...Option) (Manager, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[cfg.URL]; ok {
		return m, nil
	}

	all := append(append([]Option(nil), r.opts...), opts...)
	m := NewManager(cfg, r.logger, all...)
	r.managers[cfg.URL] = m
	r.logger.Debug("registered connection", "url", cfg.URL)
	return m, nil
}

// Get returns the manager registered for url.
func (r *Registry) Get(url string) (Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[url]
	return m, ok
}

// URLs returns the registered URLs in sorted order.
func (r *Registry) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	urls := make([]string, 0, len(r.managers))
	for u := range r.managers {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Remove disconnects and forgets the manager for url.
func (r *Registry) Remove(url string) bool {
	r.mu.Lock()
	m, ok := r.managers[url]
	delete(r.managers, url)
	r.mu.Unlock()

	if ok {
		m.Disconnect()
	}
	return ok
}

// DisconnectAll disconnects every registered manager concurrently and waits.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	managers := make([]Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func(m Manager) {
			defer wg.Done()
			m.Disconnect()
		}(m)
	}
	wg.Wait()
}
