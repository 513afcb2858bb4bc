// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// Waiter blocks until the next hardware event fires.
// Implementations should return early with ctx.Err() once ctx is done.
type Waiter interface {
	WaitEvent(ctx context.Context) error
}

// WaiterFunc adapts a function to the Waiter interface.
type WaiterFunc func(ctx context.Context) error

func (f WaiterFunc) WaitEvent(ctx context.Context) error { return f(ctx) }

// Handler is called once per registered wait, with a nil error on
// success, an error matching ErrDriver if the wait failed, or
// ErrCancelled if the wait was cancelled.
type Handler func(err error)

// State is the state of a Bridge.
type State uint8

const (
	Idle      State = iota // no registered wait
	Waiting                // background wait in flight
	Completed              // completion queued, not yet dispatched
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", uint8(st))
	}
}

// Completion is the outcome of one background wait.
type Completion struct {
	id  uint64
	Err error
}

// Bridge runs a blocking wait for a hardware event on a background
// goroutine and queues its completion for the owner of the Bridge.
//
// At most one wait may be registered at a time. The registered handler
// is invoked exactly once, by Dispatch, Poll or Serve, on the caller's
// goroutine; the Bridge is back to Idle before the handler runs, so
// the handler may register the next wait.
type Bridge struct {
	w   Waiter
	msg *log.Logger

	mu     sync.Mutex
	state  State
	seq    uint64
	cur    *pending
	busy   chan struct{} // closed once the last wait goroutine returned
	missed bool          // an event was consumed by a cancelled wait

	done chan Completion
}

type pending struct {
	id      uint64
	handler Handler
	cancel  context.CancelFunc
}

// NewBridge creates a Bridge waiting on w.
// A nil logger discards messages.
func NewBridge(w Waiter, msg *log.Logger) *Bridge {
	if msg == nil {
		msg = log.New(io.Discard, "", 0)
	}
	return &Bridge{
		w:    w,
		msg:  msg,
		done: make(chan Completion, 1),
	}
}

// State returns the current state of the bridge.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Register starts waiting for the next hardware event.
// Register fails with ErrMisuse if a wait is already registered.
func (b *Bridge) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil completion handler", ErrInvalidArgument)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Idle {
		return fmt.Errorf("%w: a wait is already registered (state=%v)", ErrMisuse, b.state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.seq++
	b.cur = &pending{id: b.seq, handler: h, cancel: cancel}
	b.state = Waiting

	prev := b.busy
	b.busy = make(chan struct{})

	go b.wait(ctx, b.seq, prev, b.busy)
	return nil
}

// wait runs one background wait.
// Waits never overlap: a wait starts once the previous one returned.
func (b *Bridge) wait(ctx context.Context, id uint64, prev <-chan struct{}, busy chan struct{}) {
	defer close(busy)
	if prev != nil {
		<-prev
	}

	b.mu.Lock()
	missed := b.missed
	b.missed = false
	b.mu.Unlock()

	var err error
	switch {
	case missed:
	case ctx.Err() != nil:
		err = ctx.Err()
	default:
		err = b.w.WaitEvent(ctx)
		if err != nil {
			err = driverError("wait for event", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cur == nil || b.cur.id != id || b.state != Waiting {
		// cancelled: the handler was already given ErrCancelled.
		// an event seen after the cancellation belongs to the next wait.
		if err == nil {
			b.missed = true
		}
		return
	}
	b.state = Completed
	b.cur.cancel()

	// at most one completion is live at any time: this never blocks.
	b.done <- Completion{id: id, Err: err}
}

// C returns the channel on which completions are queued.
// Values received from C must be handed to Dispatch.
func (b *Bridge) C() <-chan Completion {
	return b.done
}

// Dispatch invokes the handler of the wait c completes.
// Dispatch reports whether a handler was invoked.
func (b *Bridge) Dispatch(c Completion) bool {
	b.mu.Lock()
	if b.cur == nil || b.cur.id != c.id {
		b.mu.Unlock()
		return false
	}
	h := b.cur.handler
	b.cur = nil
	b.state = Idle
	b.mu.Unlock()

	if c.Err != nil {
		b.msg.Printf("wait for event failed: %+v", c.Err)
	}
	h(c.Err)
	return true
}

// Poll dispatches a queued completion, if any, without blocking.
func (b *Bridge) Poll() bool {
	select {
	case c := <-b.done:
		return b.Dispatch(c)
	default:
		return false
	}
}

// Serve dispatches completions until ctx is done.
func (b *Bridge) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-b.done:
			b.Dispatch(c)
		}
	}
}

// Cancel retires the registered wait.
// A wait still in flight is stopped and its handler is invoked with
// ErrCancelled. A wait that already completed is dispatched with its
// actual result, unless its completion was already received from C.
// Cancel fails with ErrMisuse if no wait is registered.
func (b *Bridge) Cancel() error {
	b.mu.Lock()
	switch b.state {
	case Idle:
		b.mu.Unlock()
		return fmt.Errorf("%w: no registered wait to cancel", ErrMisuse)

	case Completed:
		b.mu.Unlock()
		b.Poll()
		return nil
	}

	cur := b.cur
	b.cur = nil
	b.state = Idle
	b.mu.Unlock()

	cur.cancel()
	cur.handler(ErrCancelled)
	return nil
}

// Close cancels any registered wait and, unless a handler registered
// a new one, waits for the background wait to return.
func (b *Bridge) Close() error {
	var err error
	if b.State() != Idle {
		err = b.Cancel()
		if errors.Is(err, ErrMisuse) {
			// dispatched concurrently.
			err = nil
		}
	}

	b.mu.Lock()
	busy := b.busy
	idle := b.state == Idle
	b.mu.Unlock()

	if idle && busy != nil {
		<-busy
	}
	return err
}
