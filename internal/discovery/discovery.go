// Package discovery layers SWIM-based liveness detection underneath the
// explicit parent/child connect tree: each server node gossips with the
// nodes on its direct connects, and a member declared dead drives the
// same teardown a transport error on the connect would (spec.md §4.6,
// SPEC_FULL.md DOMAIN STACK). It never carries protocol traffic and
// never replaces the tree topology; it only answers "is this connect
// still alive".
package discovery

import (
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// memberlistLeaveTimeout bounds the graceful leave broadcast.
const memberlistLeaveTimeout = 5 * time.Second

// Config selects the gossip identity and bind point of one server node.
type Config struct {
	NodeName string
	BindAddr string
	BindPort int
	// Peers are the gossip addresses of the nodes on the other end of
	// this node's connects.
	Peers []string
}

// EventKind distinguishes liveness transitions.
type EventKind int

const (
	MemberJoined EventKind = iota
	MemberLeft
)

// Event is one liveness transition of a peer node.
type Event struct {
	Kind EventKind
	Name string
	Addr string
}

// Monitor runs the memberlist cluster for one server node.
type Monitor struct {
	logger *zap.SugaredLogger
	list   *memberlist.Memberlist
	events chan Event
}

// eventDelegate adapts memberlist callbacks onto the Monitor's channel.
type eventDelegate struct {
	events chan Event
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
	d.events <- Event{Kind: MemberJoined, Name: n.Name, Addr: n.Address()}
}

func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
	d.events <- Event{Kind: MemberLeft, Name: n.Name, Addr: n.Address()}
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {}

// New starts gossiping and joins the configured peers.
func New(cfg Config, logger *zap.SugaredLogger) (*Monitor, error) {
	events := make(chan Event, 64)

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeName
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	if cfg.BindPort != 0 {
		mlConfig.BindPort = cfg.BindPort
		mlConfig.AdvertisePort = cfg.BindPort
	}
	mlConfig.Events = &eventDelegate{events: events}
	mlConfig.LogOutput = zapWriter{logger: logger}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("discovery: create memberlist: %w", err)
	}
	m := &Monitor{logger: logger, list: list, events: events}

	if len(cfg.Peers) > 0 {
		joined, err := list.Join(cfg.Peers)
		if err != nil {
			logger.Warnw("discovery join incomplete", "joined", joined, "err", err)
		}
	}
	return m, nil
}

// Events exposes liveness transitions; the consumer maps a MemberLeft
// for a connect's peer onto that connect's failure path.
func (m *Monitor) Events() <-chan Event { return m.events }

// Members returns the currently alive peer names.
func (m *Monitor) Members() []string {
	nodes := m.list.Members()
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// Shutdown leaves the gossip cluster.
func (m *Monitor) Shutdown() error {
	if err := m.list.Leave(memberlistLeaveTimeout); err != nil {
		m.logger.Warnw("discovery leave", "err", err)
	}
	return m.list.Shutdown()
}

// zapWriter routes memberlist's internal log lines into zap.
type zapWriter struct {
	logger *zap.SugaredLogger
}

func (w zapWriter) Write(p []byte) (int, error) {
	w.logger.Debugw("memberlist", "line", string(p))
	return len(p), nil
}
