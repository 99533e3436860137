package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry wraps a Repository with a snapshot cache.
//
// Cached devices are served for up to ttl after they were fetched, so a
// change made outside this process (an admin disabling a device, another
// instance toggling a feature) becomes visible within ttl. A ttl of zero
// disables caching for reads. Writes made through the Registry update the
// cache immediately.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	ttl     time.Duration
	now     func() time.Time
	cache   map[string]cacheEntry
	cacheMu sync.RWMutex
	logger  Logger
}

type cacheEntry struct {
	device    *Device
	fetchedAt time.Time
}

// NewRegistry creates a registry over repo with the given staleness window.
func NewRegistry(repo Repository, ttl time.Duration) *Registry {
	return &Registry{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// TTL reports the staleness window.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Authenticate resolves a connection credential. It always reads the
// repository so admission sees the current enabled flag.
func (r *Registry) Authenticate(ctx context.Context, apiKey string) (*Device, error) {
	d, err := r.repo.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d.Clone(), nil
}

// GetDevice returns a snapshot no older than the staleness window.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	entry, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok && r.ttl > 0 && r.now().Sub(entry.fetchedAt) < r.ttl {
		return entry.device.Clone(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(d)
	r.logger.Debug("device snapshot refreshed", "device_id", id)
	return d.Clone(), nil
}

// MarkOnline records a successful connection and returns the updated device.
func (r *Registry) MarkOnline(ctx context.Context, id string) (*Device, error) {
	d, err := r.repo.MarkOnline(ctx, id, r.now())
	if err != nil {
		return nil, fmt.Errorf("marking %s online: %w", id, err)
	}
	r.store(d)
	r.logger.Info("device online", "device_id", id, "connection_count", d.ConnectionCount)
	return d.Clone(), nil
}

// MarkOffline records a disconnect.
func (r *Registry) MarkOffline(ctx context.Context, id string) error {
	if err := r.repo.MarkOffline(ctx, id); err != nil {
		return fmt.Errorf("marking %s offline: %w", id, err)
	}
	r.update(id, func(d *Device) { d.Online = false })
	r.logger.Info("device offline", "device_id", id)
	return nil
}

// SetEnabled toggles the admission gate.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := r.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	r.update(id, func(d *Device) { d.Enabled = enabled })
	r.logger.Info("device enabled changed", "device_id", id, "enabled", enabled)
	return nil
}

// SetFeature persists a feature toggle.
func (r *Registry) SetFeature(ctx context.Context, id string, feature Feature, enabled bool) error {
	if err := r.repo.SetFeature(ctx, id, feature, enabled); err != nil {
		return err
	}
	r.update(id, func(d *Device) {
		switch feature {
		case FeatureProfiler:
			d.ProfilerEnabled = enabled
		case FeatureIntruderDetection:
			d.IntruderDetectionEnabled = enabled
		}
	})
	r.logger.Debug("device feature changed", "device_id", id, "feature", feature, "enabled", enabled)
	return nil
}

// Invalidate drops the cached snapshot for id.
func (r *Registry) Invalidate(id string) {
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()
}

// store caches a copy of d.
func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = cacheEntry{device: d.Clone(), fetchedAt: r.now()}
	r.cacheMu.Unlock()
}

// update applies fn to a copy of the cached device, keeping its fetch time.
func (r *Registry) update(id string, fn func(*Device)) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	entry, ok := r.cache[id]
	if !ok {
		return
	}
	updated := entry.device.Clone()
	fn(updated)
	r.cache[id] = cacheEntry{device: updated, fetchedAt: entry.fetchedAt}
}
