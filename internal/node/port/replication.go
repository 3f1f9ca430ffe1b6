package port

import (
	"context"
	"time"
)

// NeighborStatus is a read-only view of one registry entry.
type NeighborStatus struct {
	Key       string    `json:"key"`
	NodeID    string    `json:"node_id"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	Attempts  int       `json:"attempts"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Digest summarizes a node's document set.
type Digest struct {
	Root  string `json:"root"`
	Count int    `json:"count"`
}

// ReplicationService is what the admin surface needs from the coordinator.
type ReplicationService interface {
	Neighbors() []NeighborStatus
	Trigger()
	Resync()
	QueryDigest(ctx context.Context, key string) (Digest, error)
	LocalDigest(ctx context.Context) (Digest, error)
}
