// Package presence converts raw typing start/stop signals into a minimal
// write pattern against the engine: one immediate "typing" write on start,
// one debounced write on stop, and a best-effort final stop write on
// teardown. Presence is non-critical; write failures are logged and never
// surfaced to the caller.
package presence

import (
	"context"
	"sync"
	"time"

	"feedsync/pkg/engine"
	"feedsync/pkg/logger"
)

type state int

const (
	idle state = iota
	signaling
	pendingStop
)

type pair struct{ feed, member string }

type entry struct {
	state state
	timer *time.Timer
}

// Debouncer runs one small state machine per (conversation, member) pair.
type Debouncer struct {
	eng  engine.Engine
	wait time.Duration

	mu      sync.Mutex
	entries map[pair]*entry
	closed  bool
}

func New(eng engine.Engine, wait time.Duration) *Debouncer {
	if wait <= 0 {
		wait = 1500 * time.Millisecond
	}
	return &Debouncer{eng: eng, wait: wait, entries: map[pair]*entry{}}
}

// SetTyping feeds a raw signal into the state machine.
//
// A true signal from idle writes immediately. A repeat true signal is a
// no-op and deliberately does not cancel a stop timer already running. A
// false signal from the signaling state arms the debounce timer; the stop
// write goes out only when the timer expires.
func (d *Debouncer) SetTyping(feedID, memberID string, typing bool) {
	k := pair{feedID, memberID}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	e := d.entries[k]
	if e == nil {
		e = &entry{}
		d.entries[k] = e
	}

	if typing {
		if e.state != idle {
			d.mu.Unlock()
			return
		}
		e.state = signaling
		d.mu.Unlock()
		d.write(feedID, memberID, true)
		return
	}

	if e.state != signaling {
		d.mu.Unlock()
		return
	}
	e.state = pendingStop
	var t *time.Timer
	t = time.AfterFunc(d.wait, func() { d.expire(k, t) })
	e.timer = t
	d.mu.Unlock()
}

func (d *Debouncer) expire(k pair, t *time.Timer) {
	d.mu.Lock()
	e := d.entries[k]
	if e == nil || e.state != pendingStop || e.timer != t {
		d.mu.Unlock()
		return
	}
	e.state = idle
	e.timer = nil
	d.mu.Unlock()
	d.write(k.feed, k.member, false)
}

// Teardown cancels any pending timer for the pair and, if a typing signal
// may still be visible, issues one final stop write. Safe from any state.
func (d *Debouncer) Teardown(feedID, memberID string) {
	k := pair{feedID, memberID}
	d.mu.Lock()
	e := d.entries[k]
	if e == nil {
		d.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	active := e.state != idle
	delete(d.entries, k)
	d.mu.Unlock()
	if active {
		d.write(feedID, memberID, false)
	}
}

// Close tears down every tracked pair.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var flush []pair
	for k, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.state != idle {
			flush = append(flush, k)
		}
	}
	d.entries = map[pair]*entry{}
	d.mu.Unlock()
	for _, k := range flush {
		d.write(k.feed, k.member, false)
	}
}

func (d *Debouncer) write(feedID, memberID string, typing bool) {
	_, err := d.eng.Put(context.Background(), engine.PresencePath(feedID, memberID), engine.Doc{
		"feed":       feedID,
		"member_id":  memberID,
		"typing":     typing,
		"updated_ts": time.Now().UTC().UnixNano(),
	})
	if err != nil {
		logger.Warn("presence_write_failed", "conversation", feedID, "member", memberID, "typing", typing, "error", err)
	}
}
