package domain

import (
	"fmt"
	"net"
	"strconv"
)

// Neighbor identifies a statically configured peer node.
type Neighbor struct {
	NodeID   string
	Host     string
	Port     int
	MgmtPort int
}

// Key returns the registry key of the neighbor, its data-plane host:port.
func (n Neighbor) Key() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// MgmtAddr returns the management-plane address used for heartbeats.
func (n Neighbor) MgmtAddr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.MgmtPort))
}

func (n Neighbor) String() string {
	return fmt.Sprintf("%s(%s)", n.NodeID, n.Key())
}

// NeighborState is the replication state of one neighbor.
type NeighborState int

const (
	StateUnknown NeighborState = iota
	StateConnecting
	StateConnected
	StateSynced
	StateDisconnected
)

func (s NeighborState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSynced:
		return "synced"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
