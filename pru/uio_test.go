// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/pruss/pru/internal/regs"
	"golang.org/x/sys/unix"
)

// fakeDev is a fake PRUSS: a plain file stands in for /dev/mem and a
// named pipe for the UIO event device.
type fakeDev struct {
	tmpdir string
	mem    string
	uio    string
}

func newFakeDev(t *testing.T) *fakeDev {
	t.Helper()

	tmp, err := os.MkdirTemp("", "pru-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmp) })

	dev := &fakeDev{
		tmpdir: tmp,
		mem:    filepath.Join(tmp, "dev-mem"),
		uio:    filepath.Join(tmp, "dev-uio"),
	}

	f, err := os.Create(dev.mem)
	if err != nil {
		t.Fatalf("could not create fake dev-mem: %+v", err)
	}
	defer f.Close()

	err = f.Truncate(int64(AM335x.Span))
	if err != nil {
		t.Fatalf("could not resize fake dev-mem: %+v", err)
	}

	err = unix.Mkfifo(dev.uio, 0600)
	if err != nil {
		t.Fatalf("could not create fake dev-uio: %+v", err)
	}

	return dev
}

func (dev *fakeDev) opts() []Option {
	return []Option{
		WithDevMem(dev.mem),
		WithDevUIO(dev.uio),
		WithBase(0),
	}
}

func (dev *fakeDev) config() config {
	cfg := newConfig()
	for _, opt := range dev.opts() {
		opt(&cfg)
	}
	return cfg
}

// fire simulates one interrupt reported by the UIO device.
func (dev *fakeDev) fire(t *testing.T, n uint32) {
	t.Helper()
	f, err := os.OpenFile(dev.uio, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("could not open fake dev-uio: %+v", err)
	}
	defer f.Close()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	_, err = f.Write(buf[:])
	if err != nil {
		t.Fatalf("could not write to fake dev-uio: %+v", err)
	}
}

func TestUIODriver(t *testing.T) {
	fdev := newFakeDev(t)

	drv, err := newUIODriver(fdev.config())
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}
	defer drv.Close()

	reg := func(off int64) uint32 {
		t.Helper()
		v, err := drv.mem.pruss.U32(off)
		if err != nil {
			t.Fatalf("could not read register 0x%x: %+v", off, err)
		}
		return v
	}

	if got, want := reg(AM335x.Intc+regs.INTC_GER), uint32(1); got != want {
		t.Fatalf("intc not enabled: GER=%d", got)
	}

	rs, err := drv.Map()
	if err != nil {
		t.Fatalf("could not map regions: %+v", err)
	}
	if got, want := rs.Shared.Len(), 12<<10; got != want {
		t.Fatalf("invalid shared size: got=%d, want=%d", got, want)
	}
	if got, want := len(rs.Cores), 2; got != want {
		t.Fatalf("invalid number of cores: got=%d, want=%d", got, want)
	}

	err = rs.Shared.PutU32(0, 0xdeadbeef)
	if err != nil {
		t.Fatalf("could not write shared RAM: %+v", err)
	}
	if got, want := reg(AM335x.Shared.Offset), uint32(0xdeadbeef); got != want {
		t.Fatalf("shared region not at its layout offset: got=0x%x", got)
	}

	err = rs.Cores[1].PutU32(4, 0xcafe)
	if err != nil {
		t.Fatalf("could not write core-1 RAM: %+v", err)
	}
	if got, want := reg(AM335x.Cores[1].Data.Offset+4), uint32(0xcafe); got != want {
		t.Fatalf("core-1 region not at its layout offset: got=0x%x", got)
	}

	prog := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	err = drv.Exec(1, prog, 2)
	if err != nil {
		t.Fatalf("could not exec program: %+v", err)
	}
	if got, want := reg(AM335x.Cores[1].Inst.Offset), binary.LittleEndian.Uint32(prog); got != want {
		t.Fatalf("invalid instruction RAM: got=0x%x, want=0x%x", got, want)
	}
	if got, want := reg(AM335x.Cores[1].Ctrl), uint32(2<<16|regs.CONTROL_ENABLE); got != want {
		t.Fatalf("invalid control register: got=0x%x, want=0x%x", got, want)
	}

	err = drv.Disable(1)
	if err != nil {
		t.Fatalf("could not disable core: %+v", err)
	}
	if got, want := reg(AM335x.Cores[1].Ctrl), uint32(regs.CONTROL_SOFT_RST_N); got != want {
		t.Fatalf("invalid control register: got=0x%x, want=0x%x", got, want)
	}

	err = drv.SendEvent(regs.ARM_PRU0_INTERRUPT)
	if err != nil {
		t.Fatalf("could not send event: %+v", err)
	}
	if got, want := reg(AM335x.Intc+regs.INTC_SRSR1), uint32(1<<regs.ARM_PRU0_INTERRUPT); got != want {
		t.Fatalf("invalid SRSR1: got=0x%x, want=0x%x", got, want)
	}

	err = drv.ClearEvent(regs.PRU0_ARM_INTERRUPT)
	if err != nil {
		t.Fatalf("could not clear event: %+v", err)
	}
	if got, want := reg(AM335x.Intc+regs.INTC_SICR), uint32(regs.PRU0_ARM_INTERRUPT); got != want {
		t.Fatalf("invalid SICR: got=%d, want=%d", got, want)
	}

	err = drv.SendEvent(regs.NUM_SYS_EVTS)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("invalid error: %v", err)
	}
}

func TestUIODriverExecErrors(t *testing.T) {
	fdev := newFakeDev(t)

	drv, err := newUIODriver(fdev.config())
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}
	defer drv.Close()

	for _, tc := range []struct {
		name string
		core int
		code []byte
		addr uint32
		want error
	}{
		{"core", 2, []byte{1, 2, 3, 4}, 0, ErrInvalidCore},
		{"empty", 0, nil, 0, ErrInvalidArgument},
		{"too-big", 0, make([]byte, 8<<10+4), 0, ErrOutOfBounds},
		{"addr", 0, []byte{1, 2, 3, 4}, 2 << 10, ErrInvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := drv.Exec(tc.core, tc.code, tc.addr)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.want)
			}
		})
	}

	err = drv.Disable(-1)
	if !errors.Is(err, ErrInvalidCore) {
		t.Fatalf("invalid error: %v", err)
	}
}

func TestUIODriverWait(t *testing.T) {
	fdev := newFakeDev(t)

	drv, err := newUIODriver(fdev.config())
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}
	defer drv.Close()

	errc := make(chan error)
	go func() {
		errc <- drv.WaitEvent(context.Background())
	}()
	fdev.fire(t, 1)

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("could not wait for event: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		errc <- drv.WaitEvent(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("invalid error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled wait did not return")
	}

	// the device is usable after a cancelled wait.
	go func() {
		errc <- drv.WaitEvent(context.Background())
	}()
	fdev.fire(t, 2)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("could not wait for event: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for event")
	}

	// a wait registered right after a cancellation sees the next event.
	b := NewBridge(drv, nil)
	defer b.Close()

	for i := 0; i < 40; i++ {
		hc := make(chan error, 2)
		h := func(err error) { hc <- err }

		err := b.Register(h)
		if err != nil {
			t.Fatalf("iter %d: could not register: %+v", i, err)
		}
		err = b.Cancel()
		if err != nil {
			t.Fatalf("iter %d: could not cancel: %+v", i, err)
		}
		if err := <-hc; !errors.Is(err, ErrCancelled) {
			t.Fatalf("iter %d: invalid cancelled wait: %v", i, err)
		}

		err = b.Register(h)
		if err != nil {
			t.Fatalf("iter %d: could not register again: %+v", i, err)
		}
		fdev.fire(t, uint32(3+i))

		select {
		case c := <-b.C():
			if !b.Dispatch(c) {
				t.Fatalf("iter %d: completion not dispatched", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("iter %d: timeout waiting for completion", i)
		}
		if err := <-hc; err != nil {
			t.Fatalf("iter %d: could not wait for event: %+v", i, err)
		}
	}
}

func TestUIODriverOpenErrors(t *testing.T) {
	fdev := newFakeDev(t)

	for _, tc := range []struct {
		name string
		opts []Option
		want error
	}{
		{
			name: "no-dev-mem",
			opts: []Option{WithDevMem(filepath.Join(fdev.tmpdir, "not-there"))},
			want: ErrDriver,
		},
		{
			name: "no-dev-uio",
			opts: []Option{WithDevUIO(filepath.Join(fdev.tmpdir, "not-there"))},
			want: ErrDriver,
		},
		{
			name: "no-core",
			opts: []Option{WithLayout(Layout{Span: 0x40000})},
			want: ErrInvalidArgument,
		},
		{
			name: "bad-window",
			opts: []Option{func(cfg *config) {
				cfg.layout.Shared = Window{Offset: 0x3f000, Size: 12 << 10}
			}},
			want: ErrInvalidArgument,
		},
		{
			name: "bad-intc",
			opts: []Option{WithIntc(IntcConfig{Events: []uint32{99}})},
			want: ErrInvalidArgument,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fdev.config()
			for _, opt := range tc.opts {
				opt(&cfg)
			}
			drv, err := newUIODriver(cfg)
			if err == nil {
				_ = drv.Close()
				t.Fatalf("expected an error")
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	fdev := newFakeDev(t)

	dev, err := Open(fdev.opts()...)
	if err != nil {
		t.Fatalf("could not open device: %+v", err)
	}

	err = dev.Set(Request{Shared, Word, 5}, 0xdeadbeef)
	if err != nil {
		t.Fatalf("could not set: %+v", err)
	}
	got, err := dev.Get(Request{Shared, Word, 5})
	if err != nil {
		t.Fatalf("could not get: %+v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("invalid value: got=0x%x", got)
	}

	err = dev.Close()
	if err != nil {
		t.Fatalf("could not close device: %+v", err)
	}

	raw, err := os.ReadFile(fdev.mem)
	if err != nil {
		t.Fatalf("could not read fake dev-mem: %+v", err)
	}
	off := AM335x.Shared.Offset + 4*(DefaultSharedOffset+5)
	if got, want := binary.LittleEndian.Uint32(raw[off:]), uint32(0xdeadbeef); got != want {
		t.Fatalf("invalid dev-mem content: got=0x%x, want=0x%x", got, want)
	}
	for i, core := range AM335x.Cores {
		if got, want := binary.LittleEndian.Uint32(raw[core.Ctrl:]), uint32(regs.CONTROL_SOFT_RST_N); got != want {
			t.Fatalf("core-%d not disabled: CONTROL=0x%x", i, got)
		}
	}

	_, err = Open(WithDevMem(filepath.Join(fdev.tmpdir, "not-there")))
	if !errors.Is(err, ErrDriver) {
		t.Fatalf("invalid error: %v", err)
	}
}
