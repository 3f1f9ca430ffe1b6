package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/anthanhphan/go-docsync/internal/node/domain"
	"github.com/anthanhphan/go-docsync/internal/node/metrics"
	"github.com/anthanhphan/go-docsync/internal/node/port"
	"github.com/anthanhphan/gosdk/logger"
)

// NeighborEntry is the runtime state of one neighbor. Conn is nil while the
// neighbor is not connected.
type NeighborEntry struct {
	Neighbor  domain.Neighbor
	Conn      port.Connection
	State     domain.NeighborState
	Attempts  int
	LastSync  time.Time
	LastError string
}

// Registry maps neighbor keys (host:port) to their entries. Entries are copied
// in and out under the lock, so callers never observe a partially updated entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*NeighborEntry
	order   []string
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		entries: make(map[string]*NeighborEntry),
		metrics: m,
	}
}

// Load adds one entry per distinct key with no connection. Duplicate keys are
// skipped. It returns the number of entries in the registry.
func (r *Registry) Load(neighbors []domain.Neighbor) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range neighbors {
		key := n.Key()
		if _, ok := r.entries[key]; ok {
			logger.Warnw("Duplicate neighbor ignored", "neighbor", key, "node_id", n.NodeID)
			continue
		}
		r.entries[key] = &NeighborEntry{Neighbor: n, State: domain.StateUnknown}
		r.order = append(r.order, key)
		r.metrics.SetNeighborState(key, int(domain.StateUnknown))
	}
	return len(r.entries)
}

func (r *Registry) Get(key string) (NeighborEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return NeighborEntry{}, fmt.Errorf("%w: %s", domain.ErrUnknownNeighbor, key)
	}
	return *e, nil
}

// Set stores conn for key and returns the connection it replaced. A non-nil
// conn moves the entry to connected, nil to disconnected.
func (r *Registry) Set(key string, conn port.Connection) (port.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNeighbor, key)
	}
	prev := e.Conn
	e.Conn = conn
	if conn != nil {
		e.LastError = ""
		r.setStateLocked(key, e, domain.StateConnected)
	} else {
		r.setStateLocked(key, e, domain.StateDisconnected)
	}
	return prev, nil
}

// Clear removes conn from key only if it is still the stored connection, so a
// late close of an old connection never wipes its replacement.
func (r *Registry) Clear(key string, conn port.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || conn == nil || e.Conn != conn {
		return false
	}
	e.Conn = nil
	r.setStateLocked(key, e, domain.StateDisconnected)
	return true
}

// IsConnected reports whether key has a connection whose transport is open.
func (r *Registry) IsConnected(key string) bool {
	r.mu.RLock()
	e, ok := r.entries[key]
	var conn port.Connection
	if ok {
		conn = e.Conn
	}
	r.mu.RUnlock()

	return conn != nil && conn.IsAlive()
}

func (r *Registry) KeyForNode(nodeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range r.order {
		if r.entries[key].Neighbor.NodeID == nodeID {
			return key, true
		}
	}
	return "", false
}

// MarkState records a state transition. Entering connecting counts an attempt.
func (r *Registry) MarkState(key string, state domain.NeighborState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		if state == domain.StateConnecting {
			e.Attempts++
		}
		r.setStateLocked(key, e, state)
	}
}

// MarkSynced records a completed replication pass over conn. It is ignored if
// conn has been replaced or cleared meanwhile.
func (r *Registry) MarkSynced(key string, conn port.Connection, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.Conn == nil || e.Conn != conn {
		return false
	}
	e.LastSync = at
	e.LastError = ""
	r.setStateLocked(key, e, domain.StateSynced)
	return true
}

// MarkUnsynced moves every synced entry back to connected so the next pass
// replicates to it again.
func (r *Registry) MarkUnsynced() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		if e.State == domain.StateSynced {
			r.setStateLocked(key, e, domain.StateConnected)
		}
	}
}

func (r *Registry) RecordFailure(key string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.LastError = err.Error()
	}
}

// Keys returns the neighbor keys in load order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Snapshot() []port.NeighborStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]port.NeighborStatus, 0, len(r.order))
	for _, key := range r.order {
		e := r.entries[key]
		out = append(out, port.NeighborStatus{
			Key:       key,
			NodeID:    e.Neighbor.NodeID,
			State:     e.State.String(),
			Connected: e.Conn != nil && e.Conn.IsAlive(),
			Attempts:  e.Attempts,
			LastSync:  e.LastSync,
			LastError: e.LastError,
		})
	}
	return out
}

func (r *Registry) setStateLocked(key string, e *NeighborEntry, state domain.NeighborState) {
	e.State = state
	r.metrics.SetNeighborState(key, int(state))
}
