// Package collective gives a worker its view of the synchronized group: a
// Comm joined through the rendezvous tracker, over which gradient vectors
// are sum-reduced across all ranks in lockstep.
package collective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/boostherd/boostherd/pkg/rendezvous"
)

// Comm is one rank's handle on the synchronized group. AllreduceSum blocks
// until every rank has contributed a vector for the same round; the result
// is identical on every rank.
type Comm interface {
	Rank() int
	Size() int
	AllreduceSum(ctx context.Context, vec []float64) ([]float64, error)
	Close() error
}

// Join connects to the tracker named by the environment, registers with the
// per-worker task identifier, and blocks until all workers have joined. It
// must be called before any collective operation.
func Join(ctx context.Context, env rendezvous.Environment, rank int) (Comm, error) {
	taskID := env[rendezvous.EnvTaskID]
	if taskID == "" {
		return nil, errors.New("rendezvous environment is missing the task identifier")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", env.TrackerAddr())
	if err != nil {
		return nil, fmt.Errorf("dial tracker: %w", err)
	}

	c := &trackerComm{
		rank: rank,
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}
	if err := c.enc.Encode(rendezvous.Message{Type: rendezvous.MsgJoin, TaskID: taskID, Rank: rank}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("register with tracker: %w", err)
	}

	msg, err := c.recv(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await rendezvous barrier: %w", err)
	}
	if msg.Type != rendezvous.MsgStart {
		conn.Close()
		return nil, fmt.Errorf("unexpected tracker message %q during join", msg.Type)
	}
	c.world = msg.World
	return c, nil
}

type trackerComm struct {
	rank  int
	world int
	conn  net.Conn
	enc   *json.Encoder
	dec   *json.Decoder
	seq   uint64

	closeOnce sync.Once
	closeErr  error
}

func (c *trackerComm) Rank() int {
	return c.rank
}

func (c *trackerComm) Size() int {
	return c.world
}

func (c *trackerComm) AllreduceSum(ctx context.Context, vec []float64) ([]float64, error) {
	c.seq++
	msg := rendezvous.Message{Type: rendezvous.MsgReduce, Seq: c.seq, Vector: vec}
	if err := c.enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("send reduce contribution: %w", err)
	}
	reply, err := c.recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("await reduce result: %w", err)
	}
	if reply.Type != rendezvous.MsgResult || reply.Seq != c.seq {
		return nil, fmt.Errorf("tracker protocol violation: got %q seq %d, want result seq %d", reply.Type, reply.Seq, c.seq)
	}
	return reply.Vector, nil
}

func (c *trackerComm) Close() error {
	c.closeOnce.Do(func() {
		// Leave is best-effort; the tracker also treats a closed
		// connection as departure.
		_ = c.enc.Encode(rendezvous.Message{Type: rendezvous.MsgLeave, Rank: c.rank})
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// recv decodes the next tracker frame, unblocking early if the context is
// canceled by expiring the read deadline.
func (c *trackerComm) recv(ctx context.Context) (*rendezvous.Message, error) {
	c.conn.SetReadDeadline(time.Time{})
	watchdog := make(chan struct{})
	defer close(watchdog)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetReadDeadline(time.Now())
		case <-watchdog:
		}
	}()

	var msg rendezvous.Message
	if err := c.dec.Decode(&msg); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if msg.Type == rendezvous.MsgError {
		return nil, errors.New(msg.Error)
	}
	return &msg, nil
}
