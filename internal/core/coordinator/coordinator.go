package coordinator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrFetchFailed = errors.New("fetch failed")

// FieldKey names one polled attribute of a device.
type FieldKey string

type Value = any

type Snapshot map[FieldKey]Value

// Fetcher retrieves the current state of one device from its remote API.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

type FetcherFunc func(ctx context.Context) (Snapshot, error)

func (f FetcherFunc) Fetch(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

type UpdateReason int

const (
	UpdateRefresh UpdateReason = iota
	UpdateOptimistic
	UpdateUnavailable
)

func (r UpdateReason) String() string {
	switch r {
	case UpdateRefresh:
		return "refresh"
	case UpdateOptimistic:
		return "optimistic"
	case UpdateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("UpdateReason(%d)", int(r))
	}
}

type Update struct {
	DeviceID string
	Reason   UpdateReason
	// Keys is set for optimistic writes only.
	Keys []FieldKey
}

type Listener func(Update)

type Option func(*DataCoordinator)

// WithMergeRefresh merges fetched snapshots into the cache instead of replacing it.
// Use it for fetchers that return partial state.
func WithMergeRefresh() Option {
	return func(c *DataCoordinator) {
		c.merge = true
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *DataCoordinator) {
		c.now = now
	}
}

// DataCoordinator caches the latest polled snapshot of one device.
// Refresh is the single writer of polled data; Set applies optimistic writes.
type DataCoordinator struct {
	deviceID string
	fetcher  Fetcher
	logger   *zap.Logger
	merge    bool
	now      func() time.Time

	mu         sync.RWMutex
	data       Snapshot
	available  bool
	lastErr    error
	lastUpdate time.Time

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

func NewDataCoordinator(deviceID string, fetcher Fetcher, logger *zap.Logger, opts ...Option) *DataCoordinator {
	c := &DataCoordinator{
		deviceID:  deviceID,
		fetcher:   fetcher,
		logger:    logger.With(zap.String("device", deviceID)),
		now:       time.Now,
		data:      Snapshot{},
		listeners: map[int]Listener{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DataCoordinator) DeviceID() string {
	return c.deviceID
}

// Refresh fetches a new snapshot. A failed fetch keeps the previous snapshot,
// marks the device unavailable and reports false; it is never returned as an error.
func (c *DataCoordinator) Refresh(ctx context.Context) bool {
	snapshot, err := c.fetcher.Fetch(ctx)
	if err == nil && snapshot == nil {
		err = errors.New("empty snapshot")
	}
	if err != nil {
		c.mu.Lock()
		wasAvailable := c.available
		c.available = false
		c.lastErr = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		c.mu.Unlock()

		c.logger.Warn("coordinator refresh failed", zap.Error(err))
		if wasAvailable {
			c.notify(Update{DeviceID: c.deviceID, Reason: UpdateUnavailable})
		}
		return false
	}

	c.mu.Lock()
	if c.merge {
		maps.Copy(c.data, snapshot)
	} else {
		c.data = maps.Clone(snapshot)
	}
	c.available = true
	c.lastErr = nil
	c.lastUpdate = c.now()
	c.mu.Unlock()

	c.logger.Debug("coordinator refreshed", zap.Int("fields", len(snapshot)))
	c.notify(Update{DeviceID: c.deviceID, Reason: UpdateRefresh})
	return true
}

func (c *DataCoordinator) Get(key FieldKey) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *DataCoordinator) Has(key FieldKey) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *DataCoordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.data)
}

// Set writes a value ahead of the next poll. The next successful refresh overwrites it.
func (c *DataCoordinator) Set(key FieldKey, value Value) {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()

	c.notify(Update{DeviceID: c.deviceID, Reason: UpdateOptimistic, Keys: []FieldKey{key}})
}

func (c *DataCoordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *DataCoordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *DataCoordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Subscribe registers a listener called after every refresh, optimistic write and
// availability loss. The returned func removes it.
func (c *DataCoordinator) Subscribe(listener Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *DataCoordinator) notify(update Update) {
	c.listenersMu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(update)
	}
}
