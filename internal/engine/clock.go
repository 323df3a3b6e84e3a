// Discrete-event clock driving every simulated activity
package engine

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPastEvent is returned when an event is scheduled before the current time.
var ErrPastEvent = errors.New("event scheduled in the past")

// Event is a callback bound to a point in simulated time.
type Event struct {
	Time   float64
	Action func()
	seq    uint64
}

type eventQueue []*Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Time == q[j].Time {
		return q[i].seq < q[j].seq
	}
	return q[i].Time < q[j].Time
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*Event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// Clock manages the virtual time and the event schedule. It is not safe for
// concurrent use: events run one after another on the goroutine calling RunUntil.
type Clock struct {
	now      float64
	seq      uint64
	events   eventQueue
	executed int
	pace     float64
	sleep    func(context.Context, time.Duration) error
}

// NewClock initialises a clock at time zero.
func NewClock() *Clock {
	return &Clock{sleep: sleepCtx}
}

// SetPace makes RunUntil follow wall-clock time. A factor of 1 runs in real
// time, 10 runs ten times faster. Zero or negative disables pacing.
func (c *Clock) SetPace(factor float64) {
	c.pace = factor
}

// Now returns the current simulated time in seconds.
func (c *Clock) Now() float64 { return c.now }

// Schedule runs action after delay seconds.
func (c *Clock) Schedule(delay float64, action func()) error {
	return c.ScheduleAt(c.now+delay, action)
}

// ScheduleAt runs action at the absolute time t. Events sharing a timestamp run
// in insertion order.
func (c *Clock) ScheduleAt(t float64, action func()) error {
	if t < c.now {
		return fmt.Errorf("%w: %.6f < now %.6f", ErrPastEvent, t, c.now)
	}
	c.seq++
	heap.Push(&c.events, &Event{Time: t, Action: action, seq: c.seq})
	return nil
}

// RunUntil executes queued events in time order until the queue is empty or the
// next event lies after until. The clock then rests at until. Events left in the
// queue never run unless RunUntil is called again with a later bound.
func (c *Clock) RunUntil(ctx context.Context, until float64) error {
	for c.events.Len() > 0 {
		next := c.events[0]
		if next.Time > until {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.pace > 0 && next.Time > c.now {
			wait := time.Duration((next.Time - c.now) / c.pace * float64(time.Second))
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
		heap.Pop(&c.events)
		c.now = next.Time
		c.executed++
		next.Action()
	}
	if until > c.now {
		c.now = until
	}
	return nil
}

// Pending returns the number of queued events.
func (c *Clock) Pending() int { return c.events.Len() }

// Executed returns how many events have run so far.
func (c *Clock) Executed() int { return c.executed }

// NextEventTime returns the time of the earliest queued event, or -1 when idle.
func (c *Clock) NextEventTime() float64 {
	if c.events.Len() == 0 {
		return -1
	}
	return c.events[0].Time
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
