// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/pruss/internal/mmap"
	"github.com/go-lpc/pruss/pru/internal/regs"
)

// uioDriver drives a PRUSS mapped through the physical memory device,
// with events delivered by the uio_pruss kernel driver.
type uioDriver struct {
	msg  *log.Logger
	lay  Layout
	host uint32

	mem struct {
		fd    *os.File
		pruss *mmap.Handle
	}
	evt *os.File   // UIO device: each read blocks until the next interrupt
	wmu sync.Mutex // serializes waits: the read deadline is per file

	mu   sync.Mutex
	intc intc
}

func newUIODriver(cfg config) (drv *uioDriver, err error) {
	err = cfg.layout.validate()
	if err != nil {
		return nil, err
	}

	drv = &uioDriver{
		msg:  cfg.msg,
		lay:  cfg.layout,
		host: cfg.host,
	}

	drv.mem.fd, err = os.OpenFile(cfg.devmem, os.O_RDWR|os.O_SYNC, 0666)
	if err != nil {
		return nil, driverError("open "+cfg.devmem, err)
	}
	defer func() {
		if err != nil {
			_ = drv.mem.fd.Close()
		}
	}()

	drv.evt, err = os.OpenFile(cfg.devuio, os.O_RDWR, 0)
	if err != nil {
		return nil, driverError(
			"open "+cfg.devuio,
			fmt.Errorf("%w (did you forget to load the PRU device tree overlay?)", err),
		)
	}
	defer func() {
		if err != nil {
			_ = drv.evt.Close()
		}
	}()

	drv.mem.pruss, err = mmap.Map(int(drv.mem.fd.Fd()), cfg.layout.Base, cfg.layout.Span)
	if err != nil {
		return nil, driverError("map PRUSS", err)
	}
	defer func() {
		if err != nil {
			_ = drv.mem.pruss.Close()
		}
	}()

	drv.intc.h, err = drv.mem.pruss.Sub(int(cfg.layout.Intc), regs.INTC_SPAN)
	if err != nil {
		return nil, driverError("map INTC", err)
	}

	err = drv.intc.setup(cfg.intc)
	if err != nil {
		return nil, driverError("setup INTC", err)
	}

	return drv, nil
}

func (lay Layout) validate() error {
	if len(lay.Cores) == 0 {
		return fmt.Errorf("%w: layout without PRU core", ErrInvalidArgument)
	}
	if lay.Span <= 0 {
		return fmt.Errorf("%w: invalid PRUSS span %d", ErrInvalidArgument, lay.Span)
	}
	span := int64(lay.Span)
	inside := func(name string, w Window) error {
		if w.Offset < 0 || w.Size <= 0 || w.end() > span {
			return fmt.Errorf(
				"%w: %s window [0x%x, 0x%x) outside PRUSS span 0x%x",
				ErrInvalidArgument, name, w.Offset, w.end(), span,
			)
		}
		return nil
	}
	if err := inside("shared", lay.Shared); err != nil {
		return err
	}
	if err := inside("intc", Window{lay.Intc, regs.INTC_SPAN}); err != nil {
		return err
	}
	for i, core := range lay.Cores {
		if err := inside(fmt.Sprintf("core-%d data", i), core.Data); err != nil {
			return err
		}
		if err := inside(fmt.Sprintf("core-%d inst", i), core.Inst); err != nil {
			return err
		}
		if err := inside(fmt.Sprintf("core-%d ctrl", i), Window{core.Ctrl, 8}); err != nil {
			return err
		}
	}
	return nil
}

func (drv *uioDriver) Map() (Regions, error) {
	var (
		rs  Regions
		err error
	)
	rs.Shared, err = drv.mem.pruss.Sub(int(drv.lay.Shared.Offset), drv.lay.Shared.Size)
	if err != nil {
		return rs, driverError("map shared RAM", err)
	}

	rs.Cores = make([]*mmap.Handle, len(drv.lay.Cores))
	for i, core := range drv.lay.Cores {
		rs.Cores[i], err = drv.mem.pruss.Sub(int(core.Data.Offset), core.Data.Size)
		if err != nil {
			return rs, driverError(fmt.Sprintf("map core-%d data RAM", i), err)
		}
	}
	return rs, nil
}

func (drv *uioDriver) core(i int) (Core, error) {
	if i < 0 || i >= len(drv.lay.Cores) {
		return Core{}, fmt.Errorf(
			"%w: core=%d (mapped cores: %d)",
			ErrInvalidCore, i, len(drv.lay.Cores),
		)
	}
	return drv.lay.Cores[i], nil
}

func (drv *uioDriver) control(core Core, v uint32) error {
	return drv.mem.pruss.PutU32(core.Ctrl+regs.PRU_CTRL_CONTROL, v)
}

func (drv *uioDriver) Exec(i int, code []byte, addr uint32) error {
	core, err := drv.core(i)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: empty program", ErrInvalidArgument)
	}
	if len(code) > core.Inst.Size {
		return fmt.Errorf(
			"%w: program of %d bytes exceeds core-%d instruction RAM (%d bytes)",
			ErrOutOfBounds, len(code), i, core.Inst.Size,
		)
	}
	if int64(addr)*4 >= int64(core.Inst.Size) || addr > 0xffff {
		return fmt.Errorf("%w: invalid start address 0x%x", ErrInvalidArgument, addr)
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()

	err = drv.control(core, 0)
	if err != nil {
		return driverError(fmt.Sprintf("reset core-%d", i), err)
	}

	_, err = drv.mem.pruss.WriteAt(code, core.Inst.Offset)
	if err != nil {
		return driverError(fmt.Sprintf("write core-%d instruction RAM", i), err)
	}

	err = drv.control(core, addr<<regs.SHIFT_CONTROL_PCTR|regs.CONTROL_ENABLE)
	if err != nil {
		return driverError(fmt.Sprintf("enable core-%d", i), err)
	}
	return nil
}

func (drv *uioDriver) Disable(i int) error {
	core, err := drv.core(i)
	if err != nil {
		return err
	}

	drv.mu.Lock()
	defer drv.mu.Unlock()

	err = drv.control(core, regs.CONTROL_SOFT_RST_N)
	if err != nil {
		return driverError(fmt.Sprintf("disable core-%d", i), err)
	}
	return nil
}

func (drv *uioDriver) SendEvent(evt uint32) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	err := drv.intc.send(evt)
	if err != nil && !errors.Is(err, ErrInvalidArgument) {
		return driverError(fmt.Sprintf("send event %d", evt), err)
	}
	return err
}

func (drv *uioDriver) ClearEvent(evt uint32) error {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	err := drv.intc.clear(evt, drv.host)
	if err != nil && !errors.Is(err, ErrInvalidArgument) {
		return driverError(fmt.Sprintf("clear event %d", evt), err)
	}
	return err
}

// WaitEvent blocks until the UIO device reports an interrupt.
// When ctx is done, a pending read is interrupted through a read
// deadline; this needs a pollable device, which uio_pruss is.
// Concurrent calls are served one after the other.
func (drv *uioDriver) WaitEvent(ctx context.Context) error {
	drv.wmu.Lock()
	defer drv.wmu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	err := drv.evt.SetReadDeadline(time.Time{})
	if err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return driverError("reset event deadline", err)
	}

	var (
		done    = make(chan struct{})
		stopped = make(chan struct{})
	)
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			_ = drv.evt.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	var buf [4]byte
	_, err = io.ReadFull(drv.evt, buf[:])
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return driverError("wait for event", err)
	}

	if verbose {
		drv.msg.Printf("interrupt count=%d", binary.LittleEndian.Uint32(buf[:]))
	}
	return nil
}

func (drv *uioDriver) Close() error {
	var (
		errMap = drv.mem.pruss.Close()
		errEvt = drv.evt.Close()
		errMem = drv.mem.fd.Close()
	)

	if errMap != nil {
		return driverError("unmap PRUSS", errMap)
	}

	if errEvt != nil {
		return driverError("close event device", errEvt)
	}

	if errMem != nil {
		return driverError("close memory device", errMem)
	}

	return nil
}

var _ Driver = (*uioDriver)(nil)
