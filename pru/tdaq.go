// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-daq/tdaq"
	"golang.org/x/sync/errgroup"
)

// TDAQ exposes a PRU subsystem to a tdaq run-control.
//
// The device is opened on /config, the data image loaded on /init and
// the program started on /start. While running, each interrupt raised
// by the program is acknowledged and a snapshot of the shared RAM block
// [Index, Index+Length) is published on the /shared output.
type TDAQ struct {
	Core    int    // PRU core running the program
	Program string // program image
	Data    string // optional data image, loaded into the core data RAM
	Addr    uint32 // program start address
	Event   uint32 // system event acknowledged after each interrupt
	Index   uint32 // first byte of the published block
	Length  uint32 // size of the published block, in bytes

	Options []Option

	open func(opts ...Option) (*Device, error)

	mu   sync.Mutex
	dev  *Device
	n    int // number of published snapshots
	data chan []byte
}

// NewTDAQ returns a node driving core with the given program image.
func NewTDAQ(core int, program string, opts ...Option) *TDAQ {
	return &TDAQ{
		Core:    core,
		Program: program,
		Event:   EvtPRU0ToHost,
		Length:  LegacyWords * uint32(Word),
		Options: opts,
		open:    Open,
		data:    make(chan []byte, 1024),
	}
}

func (node *TDAQ) device() *Device {
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.dev
}

func (node *TDAQ) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	node.mu.Lock()
	defer node.mu.Unlock()

	if node.dev != nil {
		err := node.dev.Close()
		if err != nil {
			ctx.Msg.Errorf("could not close previous PRU device: %+v", err)
		}
		node.dev = nil
	}

	dev, err := node.open(node.Options...)
	if err != nil {
		ctx.Msg.Errorf("could not open PRU device: %+v", err)
		return fmt.Errorf("pru: could not open PRU device: %w", err)
	}
	node.dev = dev
	return nil
}

func (node *TDAQ) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	dev := node.device()
	if dev == nil {
		return fmt.Errorf("%w: /init before /config", ErrMisuse)
	}

	node.reset()
	if node.Data == "" {
		return nil
	}

	err := dev.LoadDataFile(node.Core, node.Data)
	if err != nil {
		ctx.Msg.Errorf("could not load data image %q: %+v", node.Data, err)
		return err
	}
	return nil
}

func (node *TDAQ) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	dev := node.device()
	if dev == nil {
		node.reset()
		return nil
	}

	if dev.Bridge().State() != Idle {
		_ = dev.CancelWait()
	}
	err := dev.Disable(node.Core)
	if err != nil {
		return err
	}
	node.reset()
	return nil
}

func (node *TDAQ) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	dev := node.device()
	if dev == nil {
		return fmt.Errorf("%w: /start before /config", ErrMisuse)
	}

	err := dev.Execute(node.Core, node.Program, node.Addr)
	if err != nil {
		ctx.Msg.Errorf("could not start program %q: %+v", node.Program, err)
		return err
	}
	return nil
}

func (node *TDAQ) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	node.mu.Lock()
	n := node.n
	node.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)

	dev := node.device()
	if dev == nil {
		return nil
	}

	if dev.Bridge().State() != Idle {
		_ = dev.CancelWait()
	}
	return dev.Disable(node.Core)
}

func (node *TDAQ) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	node.mu.Lock()
	defer node.mu.Unlock()

	if node.dev == nil {
		return nil
	}
	err := node.dev.Close()
	node.dev = nil
	if err != nil {
		return fmt.Errorf("pru: could not close PRU device: %w", err)
	}
	return nil
}

// Shared is the output handler of the shared RAM snapshots.
func (node *TDAQ) Shared(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-node.data:
		dst.Body = data
	}
	return nil
}

// maxWaitErrors is the number of consecutive failed waits stopping a run.
const maxWaitErrors = 3

// Run waits for interrupts until the run is stopped.
// A failed wait is retried; Run fails after maxWaitErrors failures in a row.
func (node *TDAQ) Run(ctx tdaq.Context) error {
	dev := node.device()
	if dev == nil {
		return fmt.Errorf("%w: run before /config", ErrMisuse)
	}

	grp, gctx := errgroup.WithContext(ctx.Ctx)

	var (
		h     Handler
		nerr  int
		fatal = make(chan error, 1)
	)
	h = func(err error) {
		switch {
		case err == nil:
			nerr = 0
			err = node.publish(ctx, dev)
			if err != nil {
				ctx.Msg.Errorf("could not publish shared RAM snapshot: %+v", err)
			}
		case errors.Is(err, ErrCancelled):
			return
		default:
			ctx.Msg.Errorf("could not wait for PRU interrupt: %+v", err)
			nerr++
			if nerr >= maxWaitErrors {
				fatal <- fmt.Errorf("pru: could not wait for PRU interrupt (%d failures): %w", nerr, err)
				return
			}
		}

		select {
		case <-gctx.Done():
			return
		default:
		}
		err = dev.WaitForInterrupt(h)
		if err != nil {
			ctx.Msg.Errorf("could not wait for next PRU interrupt: %+v", err)
		}
	}

	err := dev.WaitForInterrupt(h)
	if err != nil {
		return fmt.Errorf("pru: could not wait for PRU interrupt: %w", err)
	}

	grp.Go(func() error {
		return dev.Bridge().Serve(gctx)
	})
	grp.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-fatal:
			return err
		}
	})
	grp.Go(func() error {
		<-gctx.Done()
		err := dev.Bridge().Close()
		if err != nil {
			return fmt.Errorf("pru: could not cancel PRU wait: %w", err)
		}
		return nil
	})

	err = grp.Wait()
	if err != nil && !errors.Is(err, ctx.Ctx.Err()) {
		return err
	}
	return nil
}

func (node *TDAQ) publish(ctx tdaq.Context, dev *Device) error {
	err := dev.ClearInterrupt(node.Event)
	if err != nil {
		return err
	}

	raw, err := dev.ReadBlock(node.Index, node.Length)
	if err != nil {
		return err
	}

	select {
	case node.data <- raw:
		node.mu.Lock()
		node.n++
		node.mu.Unlock()
	default:
		ctx.Msg.Errorf("dropping shared RAM snapshot: output queue full")
	}
	return nil
}

func (node *TDAQ) reset() {
	node.mu.Lock()
	node.n = 0
	node.mu.Unlock()

	for {
		select {
		case <-node.data:
		default:
			return
		}
	}
}
