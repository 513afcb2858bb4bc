// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"github.com/go-lpc/pruss/internal/mmap"
)

// Driver is the low-level access to a PRU subsystem.
type Driver interface {
	Waiter

	// Map returns the shared region and the private data region of
	// each core. The regions stay valid until Close.
	Map() (Regions, error)

	// Exec copies code into the instruction RAM of core and starts
	// the core at the instruction address addr.
	Exec(core int, code []byte, addr uint32) error

	SendEvent(event uint32) error
	ClearEvent(event uint32) error

	// Disable halts core.
	Disable(core int) error

	Close() error
}

// Regions holds the memory regions of a PRU subsystem.
type Regions struct {
	Shared *mmap.Handle
	Cores  []*mmap.Handle // data RAM, one per core
}

// Window is a part of the PRUSS address space.
type Window struct {
	Offset int64 // from the PRUSS base address
	Size   int
}

func (w Window) end() int64 { return w.Offset + int64(w.Size) }

// Core describes the windows owned by one PRU core.
type Core struct {
	Data Window // data RAM
	Inst Window // instruction RAM
	Ctrl int64  // control registers offset
}

// Layout describes the PRUSS address space.
type Layout struct {
	Base   int64  // physical base address
	Span   int    // size of the PRUSS window
	Shared Window // shared RAM
	Intc   int64  // interrupt controller offset
	Cores  []Core
}

// AM335x is the layout of the PRU-ICSS of the TI AM335x SoC.
var AM335x = Layout{
	Base:   0x4a300000,
	Span:   0x40000,
	Shared: Window{Offset: 0x10000, Size: 12 << 10},
	Intc:   0x20000,
	Cores: []Core{
		{
			Data: Window{Offset: 0x00000, Size: 8 << 10},
			Inst: Window{Offset: 0x34000, Size: 8 << 10},
			Ctrl: 0x22000,
		},
		{
			Data: Window{Offset: 0x02000, Size: 8 << 10},
			Inst: Window{Offset: 0x38000, Size: 8 << 10},
			Ctrl: 0x24000,
		},
	},
}

func (lay Layout) clone() Layout {
	o := lay
	o.Cores = append([]Core(nil), lay.Cores...)
	return o
}
