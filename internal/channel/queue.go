package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"l4book/models"
)

// Policy decides what a full queue does with a new frame.
type Policy string

const (
	// Block makes the producer wait for room. Nothing is ever lost but a
	// slow applier stalls the transport.
	Block Policy = "block"
	// DropOldest evicts the oldest buffered frame. The consumer learns about
	// the gap from the next frame it receives, see Missed.
	DropOldest Policy = "drop_oldest"
)

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Block, DropOldest:
		return p, nil
	case "":
		return Block, nil
	}
	return "", fmt.Errorf("unknown backpressure policy %q", s)
}

type QueueStats struct {
	Sent     int64
	Dropped  int64
	Length   int
	Capacity int
}

// FrameQueue is the bounded hand-off between one transport and one book.
// It has a single producer and a single consumer. Send stamps every frame
// with a consecutive sequence number, so an eviction shows up as a hole in
// the sequence the consumer receives.
type FrameQueue struct {
	name   string
	policy Policy
	ch     chan models.Frame

	sent    atomic.Int64
	dropped atomic.Int64
	seq     uint64 // producer only
	expect  uint64 // consumer only

	// OnDrop, when set, is called for every evicted frame.
	OnDrop func(models.Frame)

	closeOnce sync.Once
}

// NewFrameQueue creates a queue. capacity must be positive: an unbounded
// queue would hide a falling-behind applier.
func NewFrameQueue(name string, capacity int, policy Policy) (*FrameQueue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue %s: capacity must be greater than 0", name)
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	if policy == "" {
		policy = Block
	}
	return &FrameQueue{
		name:   name,
		policy: policy,
		ch:     make(chan models.Frame, capacity),
		expect: 1,
	}, nil
}

func (q *FrameQueue) Name() string   { return q.name }
func (q *FrameQueue) Policy() Policy { return q.policy }

// Send enqueues f according to the queue policy. It only fails when ctx is
// done while blocking.
func (q *FrameQueue) Send(ctx context.Context, f models.Frame) error {
	f.Seq = q.seq + 1
	if q.policy == Block {
		select {
		case q.ch <- f:
			q.seq = f.Seq
			q.sent.Add(1)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.ch <- f:
			q.seq = f.Seq
			q.sent.Add(1)
			return nil
		default:
		}
		select {
		case old := <-q.ch:
			q.dropped.Add(1)
			if q.OnDrop != nil {
				q.OnDrop(old)
			}
		default:
			// The consumer made room in between.
		}
	}
}

// Frames is the consumer side. It is closed by Close.
func (q *FrameQueue) Frames() <-chan models.Frame {
	return q.ch
}

// Missed reports whether frames were evicted between the previously
// received frame and f. Only the consumer may call it, once per received
// frame and in receive order.
func (q *FrameQueue) Missed(f models.Frame) bool {
	missed := f.Seq != q.expect
	q.expect = f.Seq + 1
	return missed
}

// Close is called by the producer once it will send no more frames.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

func (q *FrameQueue) Stats() QueueStats {
	return QueueStats{
		Sent:     q.sent.Load(),
		Dropped:  q.dropped.Load(),
		Length:   len(q.ch),
		Capacity: cap(q.ch),
	}
}
