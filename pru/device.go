// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/pruss/pru/internal/regs"
	"golang.org/x/sync/errgroup"
)

// Event numbers of the standard interrupt mapping.
const (
	EvtPRU0ToHost = regs.PRU0_ARM_INTERRUPT
	EvtPRU1ToHost = regs.PRU1_ARM_INTERRUPT
	EvtHostToPRU0 = regs.ARM_PRU0_INTERRUPT
	EvtHostToPRU1 = regs.ARM_PRU1_INTERRUPT
)

// Device is a PRU subsystem opened by the host.
//
// Device methods may be called from any goroutine, including
// concurrently with Close or Exit: once the device is released, they
// fail with ErrMisuse. The Memory accessor is not guarded and must not
// be used after the device is released.
// Interrupt handlers registered with WaitForInterrupt run on the
// goroutine calling Dispatch, Poll or Serve on the device bridge.
type Device struct {
	msg *log.Logger
	cfg config

	drv    Driver
	regs   Regions
	mem    *Memory
	bridge *Bridge

	mu     sync.RWMutex
	closed bool
}

// Open opens the PRU subsystem through the physical memory and UIO
// devices.
func Open(opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	drv, err := newUIODriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("pru: could not open PRUSS driver: %w", err)
	}

	dev, err := newDevice(drv, cfg)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}
	return dev, nil
}

// NewDevice creates a device on top of the provided driver.
// The device takes ownership of drv.
func NewDevice(drv Driver, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newDevice(drv, cfg)
}

func newDevice(drv Driver, cfg config) (*Device, error) {
	rs, err := drv.Map()
	if err != nil {
		return nil, fmt.Errorf("pru: could not map PRU memories: %w", err)
	}

	dev := &Device{
		msg:    cfg.msg,
		cfg:    cfg,
		drv:    drv,
		regs:   rs,
		mem:    NewMemory(rs.Shared, rs.Cores, NewOffset(cfg.offset)),
		bridge: NewBridge(drv, cfg.msg),
	}
	return dev, nil
}

// Memory returns the memory accessor of the device.
func (dev *Device) Memory() *Memory { return dev.mem }

// Bridge returns the interrupt bridge of the device.
func (dev *Device) Bridge() *Bridge { return dev.bridge }

// Cores returns the number of PRU cores.
func (dev *Device) Cores() int { return dev.mem.Cores() }

// rlock locks the device for an access to its memories or driver.
func (dev *Device) rlock() error {
	dev.mu.RLock()
	if dev.closed {
		dev.mu.RUnlock()
		return fmt.Errorf("%w: device released", ErrMisuse)
	}
	return nil
}

// Get reads the byte or word addressed by req.
func (dev *Device) Get(req Request) (uint32, error) {
	if err := dev.rlock(); err != nil {
		return 0, err
	}
	defer dev.mu.RUnlock()
	return dev.mem.Get(req)
}

// Set writes v to the byte or word addressed by req.
// Byte writes keep the low 8 bits of v.
func (dev *Device) Set(req Request, v uint32) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()
	return dev.mem.Set(req, v)
}

// SharedOffset returns the shift, in words, of shared RAM accesses.
func (dev *Device) SharedOffset() uint32 { return dev.mem.Offset() }

// SetSharedOffset sets the shift, in words, of shared RAM accesses.
func (dev *Device) SetSharedOffset(v uint32) { dev.mem.SetOffset(v) }

// ReadBlock copies length bytes of shared RAM from byte index,
// relative to the shared offset.
func (dev *Device) ReadBlock(index, length uint32) ([]byte, error) {
	if err := dev.rlock(); err != nil {
		return nil, err
	}
	defer dev.mu.RUnlock()
	return dev.mem.ReadBlock(index, length)
}

// WriteBlock copies p into shared RAM at byte index, relative to the
// shared offset.
func (dev *Device) WriteBlock(index uint32, p []byte) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()
	return dev.mem.WriteBlock(index, p)
}

// WriteWords writes words at the shared offset.
func (dev *Device) WriteWords(words []uint32) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()
	return dev.mem.WriteWords(words)
}

// ReadLegacy reads the first LegacyWords words at the shared offset.
func (dev *Device) ReadLegacy() ([LegacyWords]uint32, error) {
	if err := dev.rlock(); err != nil {
		return [LegacyWords]uint32{}, err
	}
	defer dev.mu.RUnlock()
	return dev.mem.ReadLegacy()
}

// LoadDataFile copies the content of fname at the beginning of the
// private data RAM of core.
func (dev *Device) LoadDataFile(core int, fname string) error {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("pru: could not read data file %q: %w", fname, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty data file %q", ErrInvalidArgument, fname)
	}

	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()

	err = dev.mem.loadPrivate(core, raw)
	if err != nil {
		return fmt.Errorf("pru: could not load data file %q: %w", fname, err)
	}
	return nil
}

// Execute loads the binary program fname into the instruction RAM of
// core and starts the core at instruction address addr.
func (dev *Device) Execute(core int, fname string, addr uint32) error {
	code, err := os.ReadFile(fname)
	if err != nil {
		return fmt.Errorf("pru: could not read program %q: %w", fname, err)
	}

	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()

	err = dev.drv.Exec(core, code, addr)
	if err != nil {
		return fmt.Errorf("pru: could not execute %q on core-%d: %w", fname, core, err)
	}
	if verbose {
		dev.msg.Printf("core-%d: running %q (%d bytes) from 0x%x", core, fname, len(code), addr)
	}
	return nil
}

// WaitForInterrupt registers h to be invoked once the next PRU event
// reaches the host.
func (dev *Device) WaitForInterrupt(h Handler) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()
	return dev.bridge.Register(h)
}

// CancelWait retires the registered wait.
func (dev *Device) CancelWait() error {
	return dev.bridge.Cancel()
}

// ClearInterrupt acknowledges the system event evt.
func (dev *Device) ClearInterrupt(evt uint32) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()

	err := dev.drv.ClearEvent(evt)
	if err != nil {
		return fmt.Errorf("pru: could not clear event %d: %w", evt, err)
	}
	return nil
}

// Interrupt raises the host to PRU0 event.
func (dev *Device) Interrupt() error {
	return dev.SendEvent(EvtHostToPRU0)
}

// SendEvent raises the system event evt.
func (dev *Device) SendEvent(evt uint32) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()

	err := dev.drv.SendEvent(evt)
	if err != nil {
		return fmt.Errorf("pru: could not send event %d: %w", evt, err)
	}
	return nil
}

// Disable halts core.
func (dev *Device) Disable(core int) error {
	if err := dev.rlock(); err != nil {
		return err
	}
	defer dev.mu.RUnlock()

	err := dev.drv.Disable(core)
	if err != nil {
		return fmt.Errorf("pru: could not disable core-%d: %w", core, err)
	}
	return nil
}

// Exit halts core and releases the device.
func (dev *Device) Exit(core int) error {
	err := dev.Disable(core)
	if err != nil {
		_ = dev.release()
		return err
	}
	return dev.release()
}

// Close halts all the cores and releases the device.
func (dev *Device) Close() error {
	var grp errgroup.Group
	for i := 0; i < dev.Cores(); i++ {
		core := i
		grp.Go(func() error {
			return dev.Disable(core)
		})
	}
	err := grp.Wait()
	if err != nil {
		_ = dev.release()
		return err
	}
	return dev.release()
}

func (dev *Device) release() error {
	// handlers may access the device: retire the wait before locking.
	err := dev.bridge.Close()
	if err != nil {
		dev.msg.Printf("could not cancel pending wait: %+v", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return fmt.Errorf("%w: device already released", ErrMisuse)
	}
	dev.closed = true

	// sub-regions alias the driver mapping: retire them first.
	_ = dev.regs.Shared.Close()
	for _, h := range dev.regs.Cores {
		_ = h.Close()
	}

	err = dev.drv.Close()
	if err != nil {
		return fmt.Errorf("pru: could not close driver: %w", err)
	}
	return nil
}
