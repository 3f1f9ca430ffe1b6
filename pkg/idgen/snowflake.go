package idgen

import (
	"errors"
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	// 64-bit id layout:
	// 1 bit unused (sign), 41 bits milliseconds since Epoch,
	// 10 bits node id, 12 bits per-millisecond sequence.
	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch = 1704067200000

	// MaxBackwardDrift is how far (ms) the clock may step back before Next fails.
	// Smaller steps are absorbed by staying on the last issued millisecond.
	MaxBackwardDrift = 10
)

var (
	ErrNodeIDTooLarge = errors.New("node ID too large")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Snowflake generates unique, increasing 64-bit ids. Nodes use them as Finger
// numbers so replies can be correlated without per-connection counters.
type Snowflake struct {
	mu       sync.Mutex
	clock    Clock
	nodeID   int64
	lastTime int64
	sequence int64
}

// New creates a generator for nodeID using clock (SystemClock when nil).
func New(nodeID int64, clock Clock) (*Snowflake, error) {
	if nodeID < 0 || nodeID > int64(maxNodeID) {
		return nil, ErrNodeIDTooLarge
	}

	if clock == nil {
		clock = &SystemClock{}
	}

	return &Snowflake{
		clock:    clock,
		nodeID:   nodeID,
		lastTime: -1,
	}, nil
}

// NodeIDFromName maps a node name onto the 10-bit node id space.
func NodeIDFromName(name string) int64 {
	return int64(murmur3.Sum32([]byte(name)) & uint32(maxNodeID))
}

// Next generates the next id.
func (s *Snowflake) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	if now < s.lastTime {
		if s.lastTime-now > MaxBackwardDrift {
			return 0, ErrClockMovedBack
		}
		now = s.lastTime
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & int64(maxSequence)
		if s.sequence == 0 {
			now = s.waitNextMillis()
		}
	} else {
		s.sequence = 0
	}

	s.lastTime = now

	return ((now - Epoch) << timestampShift) |
		(s.nodeID << nodeShift) |
		s.sequence, nil
}

func (s *Snowflake) waitNextMillis() int64 {
	now := s.clock.Now()
	for now <= s.lastTime {
		now = s.clock.Now()
	}
	return now
}
