// Package transport models the abstract bidirectional message channel
// spec.md §6 calls a "connect". The core never speaks bytes directly to a
// socket, TLS session, or shared-memory ring (those live outside this
// module's scope); it only needs Send/Receive/Close on a Connect.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/openrti-go/rticore/internal/protocol"
)

// ErrClosed is returned by Send/Receive once the Connect has been closed.
var ErrClosed = errors.New("transport: connect closed")

// Connect is one bidirectional, ordered, reliable message channel between a
// server node and either an ambassador or another server node (spec.md
// §6). Per-connect FIFO ordering (spec.md §5) is the implementation's
// responsibility; the in-memory Pipe below gets it for free from a Go
// channel's delivery order.
type Connect interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
	Close() error
}

// Pipe is an in-memory, in-process Connect implementation used to join two
// endpoints in tests and in single-process multi-node topologies. NewPipe
// returns both ends; messages sent into one end arrive, in order, out the
// other.
type Pipe struct {
	out    chan protocol.Message
	in     chan protocol.Message
	once   *sync.Once
	closed chan struct{}
}

// NewPipe returns two connected Pipe ends: messages Sent on a arrive via
// Receive on b, and vice versa.
func NewPipe(buffer int) (a, b *Pipe) {
	ab := make(chan protocol.Message, buffer)
	ba := make(chan protocol.Message, buffer)
	closed := make(chan struct{})
	once := new(sync.Once)
	a = &Pipe{out: ab, in: ba, once: once, closed: closed}
	b = &Pipe{out: ba, in: ab, once: once, closed: closed}
	return a, b
}

func (p *Pipe) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- msg:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipe) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg, ok := <-p.in:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends of the pipe; subsequent Send/Receive calls on
// either end return ErrClosed.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
