// Package rendezvous runs the per-attempt coordination service workers use
// to find each other before collective communication. The tracker owns a
// TCP endpoint, holds every joining worker at a barrier until all of them
// have registered, and then relays sequenced reduce traffic between them
// for the rest of the attempt. A tracker instance serves exactly one
// training attempt; no state survives a retry.
package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/boostherd/boostherd/pkg/common/logger"
)

// shutdownGrace bounds how long Shutdown waits for workers to disconnect
// before abandoning the background goroutine.
const shutdownGrace = 5 * time.Second

type Tracker struct {
	world int

	ln   net.Listener
	env  Environment
	done chan struct{}
	stop chan struct{}

	stopOnce sync.Once

	mu    sync.Mutex
	conns []net.Conn
}

func NewTracker(world int) *Tracker {
	return &Tracker{
		world: world,
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}
}

// Start binds an ephemeral TCP port and begins servicing joins in the
// background. The environment is available immediately after Start returns.
func (t *Tracker) Start(ctx context.Context) error {
	if t.world <= 0 {
		return fmt.Errorf("tracker needs a positive worker count, got %d", t.world)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("bind tracker endpoint: %w", err)
	}
	t.ln = ln

	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		ln.Close()
		return fmt.Errorf("resolve tracker address: %w", err)
	}
	t.env = Environment{
		EnvWorldSize:   strconv.Itoa(t.world),
		EnvTrackerHost: host,
		EnvTrackerPort: port,
	}

	logger.WithFields(map[string]interface{}{
		"world": t.world,
		"addr":  ln.Addr().String(),
	}).Debug("Rendezvous tracker started")

	go t.run()
	return nil
}

// Env returns the coordination environment shared by all workers. The
// per-worker task identifier is added later via Environment.WithTaskID.
func (t *Tracker) Env() Environment {
	return t.env
}

// Done is closed once every joined worker has disconnected.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Shutdown stops accepting traffic and waits, best-effort, for the
// background goroutine to finish servicing workers. If workers have already
// disconnected this returns immediately; otherwise it gives up after a
// bounded grace period and lets the goroutine drain on its own.
func (t *Tracker) Shutdown(ctx context.Context) {
	t.stopOnce.Do(func() { close(t.stop) })
	select {
	case <-t.done:
	case <-ctx.Done():
	case <-time.After(shutdownGrace):
	}
}

type member struct {
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	rank   int
	taskID string
}

type memberEvent struct {
	member *member
	msg    Message
	err    error
}

func (t *Tracker) run() {
	defer close(t.done)
	defer t.closeAll()

	joins := make(chan *member, t.world)
	go t.accept(joins)

	members := make([]*member, 0, t.world)
	stopCh := t.stop
	for len(members) < t.world {
		select {
		case m := <-joins:
			members = append(members, m)
		case <-stopCh:
			return
		}
	}

	// Barrier complete: release every worker at once.
	for _, m := range members {
		if err := m.enc.Encode(Message{Type: MsgStart, World: t.world}); err != nil {
			logger.WithField("rank", m.rank).WithError(err).Warn("Failed to release worker from rendezvous barrier")
		}
	}
	logger.WithField("world", t.world).Debug("All workers joined rendezvous")

	events := make(chan memberEvent, t.world)
	for _, m := range members {
		go readMember(m, events)
	}

	pending := make(map[uint64][][]float64)
	left := 0
	broken := false
	for left < t.world {
		select {
		case <-stopCh:
			stopCh = nil
			broken = true
			t.closeAll()
		case ev := <-events:
			switch {
			case ev.err != nil:
				left++
				if !broken {
					// A worker vanished mid-attempt. Its peers are blocked
					// inside a collective call; cut every connection so they
					// observe the failure instead of hanging.
					broken = true
					t.closeAll()
				}
			case ev.msg.Type == MsgLeave:
				left++
				if !broken && len(pending) > 0 {
					// A departed worker can no longer contribute; pending
					// reduces will never complete.
					broken = true
					t.broadcast(members, Message{Type: MsgError, Error: "worker left during a collective operation"})
					t.closeAll()
				}
			case ev.msg.Type == MsgReduce:
				if broken {
					continue
				}
				if left > 0 {
					broken = true
					t.broadcast(members, Message{Type: MsgError, Seq: ev.msg.Seq, Error: "collective group is no longer complete"})
					t.closeAll()
					continue
				}
				seq := ev.msg.Seq
				vecs := append(pending[seq], ev.msg.Vector)
				if len(vecs) < t.world {
					pending[seq] = vecs
					continue
				}
				delete(pending, seq)
				sum, err := sumVectors(vecs)
				if err != nil {
					t.broadcast(members, Message{Type: MsgError, Seq: seq, Error: err.Error()})
					broken = true
					t.closeAll()
					continue
				}
				t.broadcast(members, Message{Type: MsgResult, Seq: seq, Vector: sum})
			}
		}
	}
}

func (t *Tracker) accept(joins chan<- *member) {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		t.track(conn)
		go func() {
			dec := json.NewDecoder(conn)
			var msg Message
			if err := dec.Decode(&msg); err != nil || msg.Type != MsgJoin {
				conn.Close()
				return
			}
			joins <- &member{
				conn:   conn,
				enc:    json.NewEncoder(conn),
				dec:    dec,
				rank:   msg.Rank,
				taskID: msg.TaskID,
			}
		}()
	}
}

func readMember(m *member, events chan<- memberEvent) {
	for {
		var msg Message
		if err := m.dec.Decode(&msg); err != nil {
			events <- memberEvent{member: m, err: err}
			return
		}
		events <- memberEvent{member: m, msg: msg}
		if msg.Type == MsgLeave {
			return
		}
	}
}

func (t *Tracker) broadcast(members []*member, msg Message) {
	for _, m := range members {
		if err := m.enc.Encode(msg); err != nil {
			logger.WithField("rank", m.rank).WithError(err).Debug("Dropped tracker message to worker")
		}
	}
}

func (t *Tracker) track(conn net.Conn) {
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
}

func (t *Tracker) closeAll() {
	if t.ln != nil {
		t.ln.Close()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.conns {
		conn.Close()
	}
	t.conns = nil
}

func sumVectors(vecs [][]float64) ([]float64, error) {
	for _, v := range vecs[1:] {
		if len(v) != len(vecs[0]) {
			return nil, fmt.Errorf("reduce vectors disagree on length: %d vs %d", len(vecs[0]), len(v))
		}
	}
	sum := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			sum[i] += x
		}
	}
	return sum, nil
}
