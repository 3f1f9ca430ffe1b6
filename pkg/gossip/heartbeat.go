package gossip

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
)

// Listener receives liveness changes of remote members.
type Listener interface {
	PeerJoined(nodeID string)
	PeerLeft(nodeID string)
}

type Config struct {
	NodeID   string
	BindAddr string
	BindPort int
	// DataPort is advertised to peers in the node metadata.
	DataPort       int
	Seeds          []string
	ProbeInterval  time.Duration
	RejoinInterval time.Duration
}

// Member is a live member of the heartbeat cluster.
type Member struct {
	NodeID   string `json:"node_id"`
	Addr     string `json:"addr"`
	DataPort int    `json:"data_port"`
}

// Heartbeat tracks neighbor liveness over memberlist on the management port.
// Seeds are static; members missing from the cluster are re-joined periodically.
type Heartbeat struct {
	cfg         Config
	list        *memberlist.Memberlist
	listener    Listener
	incarnation string

	mu    sync.Mutex
	known map[string]string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	_ memberlist.Delegate      = (*Heartbeat)(nil)
	_ memberlist.EventDelegate = (*Heartbeat)(nil)
)

func newHeartbeat(cfg Config, listener Listener) *Heartbeat {
	return &Heartbeat{
		cfg:         cfg,
		listener:    listener,
		incarnation: uuid.NewString(),
		known:       make(map[string]string),
		stopCh:      make(chan struct{}),
	}
}

// Start binds the management port and begins joining the seeds.
func Start(cfg Config, listener Listener) (*Heartbeat, error) {
	h := newHeartbeat(cfg, listener)

	mlConf := memberlist.DefaultLANConfig()
	mlConf.Name = cfg.NodeID
	mlConf.BindAddr = cfg.BindAddr
	mlConf.BindPort = cfg.BindPort
	mlConf.AdvertisePort = cfg.BindPort
	mlConf.LogOutput = io.Discard
	if cfg.ProbeInterval > 0 {
		mlConf.ProbeInterval = cfg.ProbeInterval
	}
	mlConf.Events = h
	mlConf.Delegate = h

	list, err := memberlist.Create(mlConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	h.list = list

	h.join()

	interval := cfg.RejoinInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.wg.Add(1)
	go h.rejoinLoop(interval)

	return h, nil
}

func (h *Heartbeat) rejoinLoop(interval time.Duration) {
	defer h.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if h.list.NumMembers()-1 < len(h.cfg.Seeds) {
				h.join()
			}
		}
	}
}

func (h *Heartbeat) join() {
	if len(h.cfg.Seeds) == 0 {
		return
	}
	n, err := h.list.Join(h.cfg.Seeds)
	if err != nil {
		logger.Debugw("heartbeat join incomplete", "joined", n, "seeds", len(h.cfg.Seeds), "error", err.Error())
	}
}

// Leave announces departure and shuts memberlist down.
func (h *Heartbeat) Leave(timeout time.Duration) error {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()

	if h.list == nil {
		return nil
	}
	if err := h.list.Leave(timeout); err != nil {
		logger.Warnw("heartbeat leave failed", "error", err.Error())
	}
	return h.list.Shutdown()
}

// Members returns the live remote members.
func (h *Heartbeat) Members() []Member {
	if h.list == nil {
		return nil
	}
	nodes := h.list.Members()
	out := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		if n.Name == h.cfg.NodeID {
			continue
		}
		meta := decodeMeta(n.Meta)
		out = append(out, Member{
			NodeID:   n.Name,
			Addr:     n.Address(),
			DataPort: meta.DataPort,
		})
	}
	return out
}

type nodeMeta struct {
	NodeID      string `json:"node_id"`
	DataPort    int    `json:"data_port"`
	Incarnation string `json:"incarnation"`
}

// NodeMeta advertises the data port and the process incarnation.
func (h *Heartbeat) NodeMeta(limit int) []byte {
	data, err := json.Marshal(nodeMeta{
		NodeID:      h.cfg.NodeID,
		DataPort:    h.cfg.DataPort,
		Incarnation: h.incarnation,
	})
	if err != nil || len(data) > limit {
		logger.Warnw("heartbeat node meta does not fit", "size", len(data), "limit", limit)
		return nil
	}
	return data
}

func (h *Heartbeat) NotifyMsg([]byte)                           {}
func (h *Heartbeat) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (h *Heartbeat) LocalState(join bool) []byte                { return nil }
func (h *Heartbeat) MergeRemoteState(buf []byte, join bool)     {}

func (h *Heartbeat) NotifyJoin(node *memberlist.Node) {
	if node.Name == h.cfg.NodeID {
		return
	}
	meta := decodeMeta(node.Meta)

	h.mu.Lock()
	h.known[node.Name] = meta.Incarnation
	h.mu.Unlock()

	logger.Infow("Neighbor heartbeat up", "node_id", node.Name, "addr", node.Address())
	if h.listener != nil {
		h.listener.PeerJoined(node.Name)
	}
}

func (h *Heartbeat) NotifyLeave(node *memberlist.Node) {
	if node.Name == h.cfg.NodeID {
		return
	}

	h.mu.Lock()
	delete(h.known, node.Name)
	h.mu.Unlock()

	logger.Infow("Neighbor heartbeat down", "node_id", node.Name)
	if h.listener != nil {
		h.listener.PeerLeft(node.Name)
	}
}

// NotifyUpdate treats a changed incarnation as a restart: the old process is
// gone and a new one joined.
func (h *Heartbeat) NotifyUpdate(node *memberlist.Node) {
	if node.Name == h.cfg.NodeID {
		return
	}
	meta := decodeMeta(node.Meta)

	h.mu.Lock()
	prev, ok := h.known[node.Name]
	h.known[node.Name] = meta.Incarnation
	h.mu.Unlock()

	if !ok || prev == meta.Incarnation {
		return
	}

	logger.Infow("Neighbor restarted", "node_id", node.Name)
	if h.listener != nil {
		h.listener.PeerLeft(node.Name)
		h.listener.PeerJoined(node.Name)
	}
}

func decodeMeta(meta []byte) nodeMeta {
	var m nodeMeta
	if len(meta) == 0 {
		return m
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		logger.Warnw("failed to decode node metadata", "error", err.Error())
		return nodeMeta{}
	}
	return m
}
