package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/nicguard/internal/core/domain"
)

// DefaultPrefix namespaces every snapshot key.
const DefaultPrefix = "nicguard:"

// DefaultTTL expires snapshots of a daemon that stopped publishing.
const DefaultTTL = time.Minute

// Store is the key-value surface the publisher needs.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// Source exposes the state that gets published.
type Source interface {
	Devices() []string
	GetStatistics(id string) (domain.DeviceErrorState, error)
	CoordinatorState() domain.CoordinatorState
}

// Snapshot is one published view of the system.
type Snapshot struct {
	PublishedAt time.Time                 `json:"published_at"`
	Devices     []domain.DeviceErrorState `json:"devices"`
	Coordinator domain.CoordinatorState   `json:"coordinator"`
}

type deviceIndex struct {
	PublishedAt time.Time `json:"published_at"`
	Devices     []string  `json:"devices"`
}

// SnapshotPublisher exports device statistics and coordinator state as
// JSON with a TTL so operators can read them without reaching the daemon.
// Nothing is ever restored from these keys.
type SnapshotPublisher struct {
	store  Store
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	published map[string]bool
}

// NewSnapshotPublisher creates a publisher writing through store.
func NewSnapshotPublisher(store Store, cfg Config, logger *slog.Logger) *SnapshotPublisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotPublisher{
		store:     store,
		prefix:    cfg.Prefix,
		ttl:       cfg.TTL,
		logger:    logger.With("component", "snapshot"),
		published: make(map[string]bool),
	}
}

// Key helpers
func (p *SnapshotPublisher) deviceKey(id string) string {
	return fmt.Sprintf("%sdevice:%s", p.prefix, id)
}

func (p *SnapshotPublisher) coordinatorKey() string {
	return p.prefix + "coordinator"
}

func (p *SnapshotPublisher) indexKey() string {
	return p.prefix + "devices"
}

// Publish writes the current state of src. Devices that disappeared since
// the previous publish are deleted. Publish is not safe for concurrent use.
func (p *SnapshotPublisher) Publish(ctx context.Context, src Source, now time.Time) error {
	ids := src.Devices()
	seen := make(map[string]bool, len(ids))
	written := make([]string, 0, len(ids))

	for _, id := range ids {
		st, err := src.GetStatistics(id)
		if err != nil {
			continue
		}
		if err := p.put(ctx, p.deviceKey(id), st); err != nil {
			return err
		}
		seen[id] = true
		written = append(written, id)
	}

	if err := p.put(ctx, p.coordinatorKey(), src.CoordinatorState()); err != nil {
		return err
	}
	if err := p.put(ctx, p.indexKey(), deviceIndex{PublishedAt: now, Devices: written}); err != nil {
		return err
	}

	var stale []string
	for id := range p.published {
		if !seen[id] {
			stale = append(stale, p.deviceKey(id))
		}
	}
	if err := p.store.Del(ctx, stale...); err != nil {
		p.logger.Warn("Failed to delete stale device snapshots", "error", err)
	}
	p.published = seen

	p.logger.Debug("Snapshot published", "devices", len(written))
	return nil
}

func (p *SnapshotPublisher) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return p.store.Set(ctx, key, data, p.ttl)
}

// Latest reads the most recent snapshot back. Devices whose keys expired
// between reads are skipped.
func (p *SnapshotPublisher) Latest(ctx context.Context) (*Snapshot, error) {
	var idx deviceIndex
	if err := p.get(ctx, p.indexKey(), &idx); err != nil {
		return nil, err
	}

	snap := &Snapshot{PublishedAt: idx.PublishedAt}
	if err := p.get(ctx, p.coordinatorKey(), &snap.Coordinator); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	for _, id := range idx.Devices {
		var st domain.DeviceErrorState
		err := p.get(ctx, p.deviceKey(id), &st)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Devices = append(snap.Devices, st)
	}
	return snap, nil
}

// Device reads one published device snapshot.
func (p *SnapshotPublisher) Device(ctx context.Context, id string) (domain.DeviceErrorState, error) {
	var st domain.DeviceErrorState
	err := p.get(ctx, p.deviceKey(id), &st)
	return st, err
}

func (p *SnapshotPublisher) get(ctx context.Context, key string, v any) error {
	data, err := p.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}
