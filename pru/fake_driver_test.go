// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-lpc/pruss/internal/mmap"
)

// fakeDriver simulates a PRU subsystem in plain memory.
// Each value sent on evts completes one pending WaitEvent.
type fakeDriver struct {
	shared []byte
	cores  [][]byte
	inst   [][]byte
	evts   chan error

	mu       sync.Mutex
	ctrl     []uint32
	sent     []uint32
	cleared  []uint32
	disabled []int
	closed   bool

	failMap     error
	failDisable error
}

func newFakeDriver(shared int, cores ...int) *fakeDriver {
	drv := &fakeDriver{
		shared: make([]byte, shared),
		cores:  make([][]byte, len(cores)),
		inst:   make([][]byte, len(cores)),
		ctrl:   make([]uint32, len(cores)),
		evts:   make(chan error),
	}
	for i, n := range cores {
		drv.cores[i] = make([]byte, n)
		drv.inst[i] = make([]byte, n)
	}
	return drv
}

func (drv *fakeDriver) Map() (Regions, error) {
	if drv.failMap != nil {
		return Regions{}, drv.failMap
	}
	rs := Regions{
		Shared: mmap.HandleFrom(drv.shared),
		Cores:  make([]*mmap.Handle, len(drv.cores)),
	}
	for i, p := range drv.cores {
		rs.Cores[i] = mmap.HandleFrom(p)
	}
	return rs, nil
}

func (drv *fakeDriver) check(core int) error {
	if core < 0 || core >= len(drv.cores) {
		return fmt.Errorf("%w: core=%d", ErrInvalidCore, core)
	}
	return nil
}

func (drv *fakeDriver) Exec(core int, code []byte, addr uint32) error {
	if err := drv.check(core); err != nil {
		return err
	}
	if len(code) > len(drv.inst[core]) {
		return fmt.Errorf("%w: program too big", ErrOutOfBounds)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()
	copy(drv.inst[core], code)
	drv.ctrl[core] = addr<<16 | 2
	return nil
}

func (drv *fakeDriver) SendEvent(evt uint32) error {
	if evt >= 64 {
		return fmt.Errorf("%w: invalid system event %d", ErrInvalidArgument, evt)
	}
	drv.mu.Lock()
	defer drv.mu.Unlock()
	drv.sent = append(drv.sent, evt)
	return nil
}

func (drv *fakeDriver) ClearEvent(evt uint32) error {
	if evt >= 64 {
		return fmt.Errorf("%w: invalid system event %d", ErrInvalidArgument, evt)
	}
	drv.mu.Lock()
	defer drv.mu.Unlock()
	drv.cleared = append(drv.cleared, evt)
	return nil
}

func (drv *fakeDriver) Disable(core int) error {
	if err := drv.check(core); err != nil {
		return err
	}
	if drv.failDisable != nil {
		return driverError("disable", drv.failDisable)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()
	drv.ctrl[core] = 1
	drv.disabled = append(drv.disabled, core)
	return nil
}

func (drv *fakeDriver) WaitEvent(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-drv.evts:
		return err
	}
}

func (drv *fakeDriver) Close() error {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	drv.closed = true
	return nil
}

var _ Driver = (*fakeDriver)(nil)
