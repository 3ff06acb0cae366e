// Package server implements the federation server node of spec.md §4.6:
// a container of federations reached through connects, one of which may
// be the parent direction toward the root. All state mutation is
// serialized through a single message-processing goroutine; connects feed
// it through per-connect reader goroutines (spec.md §5).
//
// Grounded on original_source/src/OpenRTI/ServerModel.h (ServerNode /
// NodeConnect) and MessageServer.cpp's dispatch structure.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openrti-go/rticore/internal/federation"
	"github.com/openrti-go/rticore/internal/handle"
	"github.com/openrti-go/rticore/internal/protocol"
	"github.com/openrti-go/rticore/internal/telemetry"
	"github.com/openrti-go/rticore/internal/transport"
)

// sendTimeout bounds one outbound Send; a connect that cannot accept a
// message within it is treated as failed (spec.md §5 timeouts).
const sendTimeout = 60 * time.Second

// Options are the node-local server options (spec.md §3 Server node).
type Options struct {
	Name string
	// PermitTimeRegulation gates EnableTimeRegulationRequest for every
	// connect of this node.
	PermitTimeRegulation bool
}

type envelope struct {
	from handle.Connect
	msg  protocol.Message
	err  error
}

type connectState struct {
	handle    handle.Connect
	transport transport.Connect
	parent    bool
}

// pendingRequest remembers where a forwarded request came from so the
// eventual response from the parent finds its way back down, plus the
// request context a JoinFederationExecutionResponse needs to build the
// local federate record.
type pendingRequest struct {
	origin         handle.Connect
	federationName string
	federateName   string
	federateType   string
}

// Node is one server in the routing tree.
type Node struct {
	opts   Options
	logger *zap.SugaredLogger

	inbound chan envelope
	stop    chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	connAlloc *handle.Allocator[handle.Connect]
	connects  map[handle.Connect]*connectState
	parent    handle.Connect

	fedAlloc          *handle.Allocator[handle.Federation]
	federations       map[handle.Federation]*federation.Federation
	federationsByName map[string]handle.Federation

	pending map[uuid.UUID]*pendingRequest

	// members maps a discovery gossip name to the connect reaching that
	// node, so a SWIM death drives the same path a transport error does.
	members map[string]handle.Connect

	snapshotReq chan chan Snapshot
}

// NewNode returns a stopped node; call Start to begin processing.
func NewNode(opts Options, logger *zap.SugaredLogger) *Node {
	return &Node{
		opts:              opts,
		logger:            logger.With("server", opts.Name),
		inbound:           make(chan envelope),
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
		connAlloc:         handle.NewAllocator[handle.Connect](),
		connects:          map[handle.Connect]*connectState{},
		parent:            handle.InvalidConnect,
		fedAlloc:          handle.NewAllocator[handle.Federation](),
		federations:       map[handle.Federation]*federation.Federation{},
		federationsByName: map[string]handle.Federation{},
		pending:           map[uuid.UUID]*pendingRequest{},
		members:           map[string]handle.Connect{},
		snapshotReq:       make(chan chan Snapshot),
	}
}

// BindMemberConnect associates a discovery member name with the connect
// reaching it (SPEC_FULL.md DOMAIN STACK).
func (n *Node) BindMemberConnect(member string, c handle.Connect) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.members[member] = c
}

// MemberLost tears down the connect bound to a gossip member the
// discovery layer declared dead, exactly as a transport error would.
func (n *Node) MemberLost(member string) {
	n.mu.Lock()
	c, ok := n.members[member]
	if ok {
		delete(n.members, member)
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	err := fmt.Errorf("discovery: member %s declared dead", member)
	select {
	case n.inbound <- envelope{from: c, err: err}:
	case <-n.stop:
	}
}

// IsRoot reports whether this node has no parent connect.
func (n *Node) IsRoot() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.parent.Valid()
}

// Start launches the message-processing loop.
func (n *Node) Start() {
	go n.run()
}

// Stop shuts the loop down and closes every connect.
func (n *Node) Stop() {
	close(n.stop)
	<-n.done
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, cs := range n.connects {
		cs.transport.Close()
	}
}

// AddConnect attaches a child connect and begins reading from it.
func (n *Node) AddConnect(t transport.Connect) handle.Connect {
	return n.addConnect(t, false)
}

// AddParent attaches the parent connect; this node becomes non-root.
func (n *Node) AddParent(t transport.Connect) handle.Connect {
	return n.addConnect(t, true)
}

func (n *Node) addConnect(t transport.Connect, parent bool) handle.Connect {
	n.mu.Lock()
	h, err := n.connAlloc.Get()
	if err != nil {
		n.mu.Unlock()
		panic(err)
	}
	cs := &connectState{handle: h, transport: t, parent: parent}
	n.connects[h] = cs
	if parent {
		n.parent = h
	}
	n.mu.Unlock()

	telemetry.ConnectCount.Inc()
	go n.read(cs)
	return h
}

// read pumps one connect into the node's single inbound queue, turning a
// transport failure into a connection-lost envelope (spec.md §4.6).
func (n *Node) read(cs *connectState) {
	ctx := context.Background()
	for {
		msg, err := cs.transport.Receive(ctx)
		select {
		case <-n.stop:
			return
		default:
		}
		if err != nil {
			select {
			case n.inbound <- envelope{from: cs.handle, err: err}:
			case <-n.stop:
			}
			return
		}
		select {
		case n.inbound <- envelope{from: cs.handle, msg: msg}:
		case <-n.stop:
			return
		}
	}
}

func (n *Node) run() {
	defer close(n.done)
	for {
		select {
		case env := <-n.inbound:
			if env.err != nil {
				n.connectionLost(env.from, env.err)
				continue
			}
			n.process(env.from, env.msg)
		case ch := <-n.snapshotReq:
			ch <- n.buildSnapshot()
		case <-n.stop:
			return
		}
	}
}

func (n *Node) connect(h handle.Connect) (*connectState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	cs, ok := n.connects[h]
	return cs, ok
}

// send delivers one message to one connect; a failed send tears the
// connect down the same way a failed receive does.
func (n *Node) send(to handle.Connect, msg protocol.Message) {
	cs, ok := n.connect(to)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := cs.transport.Send(ctx, msg); err != nil {
		n.logger.Warnw("send failed", "connect", to, "err", err)
		n.connectionLost(to, err)
		return
	}
	telemetry.MessagesRouted.WithLabelValues(n.opts.Name).Inc()
}

func (n *Node) sendAll(out []federation.Outgoing) {
	for _, o := range out {
		n.send(o.To, o.Msg)
	}
}

// forwardUp relays a request toward the root, remembering the origin so
// the response can be routed back.
func (n *Node) forwardUp(from handle.Connect, msg protocol.Message, pr *pendingRequest) {
	if pr != nil {
		pr.origin = from
		if id, ok := correlationOf(msg); ok {
			n.pending[id] = pr
		}
	}
	n.mu.Lock()
	parent := n.parent
	n.mu.Unlock()
	n.send(parent, msg)
}

// takePending resolves a response's correlation back to its origin.
func (n *Node) takePending(msg protocol.Message) (*pendingRequest, bool) {
	id, ok := correlationOf(msg)
	if !ok {
		return nil, false
	}
	pr, ok := n.pending[id]
	if ok {
		delete(n.pending, id)
	}
	return pr, ok
}

// federationOf resolves a message's target federation.
func (n *Node) federationOf(msg protocol.Message) (*federation.Federation, bool) {
	f, ok := n.federations[msg.Federation()]
	return f, ok
}

// federationByName resolves a federation by execution name.
func (n *Node) federationByName(name string) (*federation.Federation, bool) {
	h, ok := n.federationsByName[name]
	if !ok {
		return nil, false
	}
	return n.federations[h], true
}

// eraseFederation removes a federation from this node entirely.
func (n *Node) eraseFederation(f *federation.Federation) {
	delete(n.federations, f.Handle)
	delete(n.federationsByName, f.Name)
	n.fedAlloc.Put(f.Handle)
	telemetry.FederationCount.Dec()
}

// connectionLost tears down a connect: every federate reached through it
// is resigned with its configured resign action and the resulting
// deletes are routed (spec.md §4.6 failure semantics).
func (n *Node) connectionLost(c handle.Connect, cause error) {
	n.mu.Lock()
	cs, ok := n.connects[c]
	if ok {
		delete(n.connects, c)
		n.connAlloc.Put(c)
		if cs.parent {
			n.parent = handle.InvalidConnect
		}
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	cs.transport.Close()
	telemetry.ConnectCount.Dec()
	n.logger.Warnw("connect lost", "connect", c, "err", cause)

	for _, f := range n.federations {
		if !f.HasConnect(c) {
			continue
		}
		out, err := f.EraseConnect(c)
		if err != nil {
			n.logger.Errorw("connect teardown", "connect", c, "err", err)
			continue
		}
		n.sendAll(out)
		if cs.parent {
			// The rest of the tree is unreachable: local federates learn
			// through a connection-lost notification.
			lost := &protocol.ConnectionLost{ConnectHandle: c, Reason: cause.Error(), At: time.Now()}
			lost.FederationHandle = f.Handle
			n.sendAll(f.Broadcast(handle.InvalidConnect, lost))
		}
	}
}

// correlationOf extracts the ambient correlation id a request/response
// pair shares. Messages without one (pure broadcasts) return false.
func correlationOf(msg protocol.Message) (uuid.UUID, bool) {
	type correlated interface{ Correlation() uuid.UUID }
	if c, ok := msg.(correlated); ok {
		if id := c.Correlation(); id != (uuid.UUID{}) {
			return id, true
		}
	}
	return uuid.UUID{}, false
}

// Snapshot is the read-only view the admin API renders (SPEC_FULL.md §6.1).
type Snapshot struct {
	Name        string               `json:"name"`
	Root        bool                 `json:"root"`
	Federations []FederationSnapshot `json:"federations"`
}

// FederationSnapshot is one federation's admin view.
type FederationSnapshot struct {
	Name          string `json:"name"`
	TimeFactory   string `json:"time_factory"`
	FederateCount int    `json:"federate_count"`
	Regulators    int    `json:"regulators"`
	Instances     int    `json:"instances"`
}

// Snapshot collects the node's current state by asking the processing
// loop for it, so the loop stays the sole reader and writer of
// federation state. A stopped node returns an empty snapshot.
func (n *Node) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	select {
	case n.snapshotReq <- ch:
		return <-ch
	case <-n.stop:
		return Snapshot{Name: n.opts.Name}
	case <-time.After(sendTimeout):
		return Snapshot{Name: n.opts.Name}
	}
}

func (n *Node) buildSnapshot() Snapshot {
	s := Snapshot{Name: n.opts.Name, Root: n.IsRoot()}
	for _, f := range n.federations {
		s.Federations = append(s.Federations, FederationSnapshot{
			Name:          f.Name,
			TimeFactory:   f.LogicalTimeFactoryName,
			FederateCount: f.FederateCount(),
			Regulators:    len(f.Time.Regulators()),
			Instances:     len(f.Instances.Instances()),
		})
	}
	return s
}
