// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"fmt"

	"github.com/go-lpc/pruss/internal/mmap"
	"github.com/go-lpc/pruss/pru/internal/regs"
)

// EventMap routes a system event to an interrupt channel.
type EventMap struct {
	Event   uint32
	Channel uint32
}

// ChannelMap routes an interrupt channel to a host interrupt.
type ChannelMap struct {
	Channel uint32
	Host    uint32
}

// IntcConfig describes the setup of the PRUSS interrupt controller.
type IntcConfig struct {
	Events   []uint32 // enabled system events
	Channels []EventMap
	Hosts    []ChannelMap
	HostMask uint32 // enabled host interrupts
}

// DefaultIntc is the standard mapping: PRU0/PRU1 and host events are
// routed through channels 0 to 3, and PRU0_ARM_INTERRUPT raises
// PRU_EVTOUT0.
var DefaultIntc = IntcConfig{
	Events: []uint32{
		regs.PRU0_PRU1_INTERRUPT,
		regs.PRU1_PRU0_INTERRUPT,
		regs.PRU0_ARM_INTERRUPT,
		regs.PRU1_ARM_INTERRUPT,
		regs.ARM_PRU0_INTERRUPT,
		regs.ARM_PRU1_INTERRUPT,
	},
	Channels: []EventMap{
		{regs.PRU0_PRU1_INTERRUPT, 1},
		{regs.PRU1_PRU0_INTERRUPT, 0},
		{regs.PRU0_ARM_INTERRUPT, 2},
		{regs.PRU1_ARM_INTERRUPT, 3},
		{regs.ARM_PRU0_INTERRUPT, 0},
		{regs.ARM_PRU1_INTERRUPT, 1},
	},
	Hosts: []ChannelMap{
		{0, regs.HOST_PRU0},
		{1, regs.HOST_PRU1},
		{2, regs.HOST_PRU_EVTOUT0},
		{3, regs.HOST_PRU_EVTOUT1},
	},
	HostMask: 1<<regs.HOST_PRU0 | 1<<regs.HOST_PRU1 |
		1<<regs.HOST_PRU_EVTOUT0 | 1<<regs.HOST_PRU_EVTOUT1,
}

func (cfg IntcConfig) validate() error {
	for _, evt := range cfg.Events {
		if evt >= regs.NUM_SYS_EVTS {
			return fmt.Errorf("%w: invalid system event %d", ErrInvalidArgument, evt)
		}
	}
	for _, m := range cfg.Channels {
		if m.Event >= regs.NUM_SYS_EVTS || m.Channel >= regs.NUM_CHANNELS {
			return fmt.Errorf(
				"%w: invalid event->channel map %d->%d",
				ErrInvalidArgument, m.Event, m.Channel,
			)
		}
	}
	for _, m := range cfg.Hosts {
		if m.Channel >= regs.NUM_CHANNELS || m.Host >= regs.NUM_HOSTS {
			return fmt.Errorf(
				"%w: invalid channel->host map %d->%d",
				ErrInvalidArgument, m.Channel, m.Host,
			)
		}
	}
	return nil
}

// intc drives the interrupt controller registers.
// Within one operation, the first failing access is kept in err and
// turns later accesses into no-ops.
type intc struct {
	h   *mmap.Handle
	err error
}

func (ic *intc) r(off int64) uint32 {
	if ic.err != nil {
		return 0
	}
	v, err := ic.h.U32(off)
	if err != nil {
		ic.err = fmt.Errorf("pru: could not read intc register 0x%x: %w", off, err)
		return 0
	}
	return v
}

func (ic *intc) w(off int64, v uint32) {
	if ic.err != nil {
		return
	}
	err := ic.h.PutU32(off, v)
	if err != nil {
		ic.err = fmt.Errorf("pru: could not write intc register 0x%x: %w", off, err)
	}
}

func (ic *intc) setup(cfg IntcConfig) error {
	err := cfg.validate()
	if err != nil {
		return err
	}
	ic.err = nil

	ic.w(regs.INTC_SIPR1, 0xffffffff)
	ic.w(regs.INTC_SIPR2, 0xffffffff)

	const (
		nCMR = (regs.NUM_SYS_EVTS + 3) / 4
		nHMR = (regs.NUM_HOSTS + 3) / 4
	)
	for i := int64(0); i < nCMR; i++ {
		ic.w(regs.INTC_CMR+4*i, 0)
	}
	for _, m := range cfg.Channels {
		off := regs.INTC_CMR + 4*int64(m.Event/4)
		ic.w(off, ic.r(off)|(m.Channel&0xf)<<(8*(m.Event%4)))
	}

	for i := int64(0); i < nHMR; i++ {
		ic.w(regs.INTC_HMR+4*i, 0)
	}
	for _, m := range cfg.Hosts {
		off := regs.INTC_HMR + 4*int64(m.Channel/4)
		ic.w(off, ic.r(off)|(m.Host&0xf)<<(8*(m.Channel%4)))
	}

	ic.w(regs.INTC_SITR1, 0)
	ic.w(regs.INTC_SITR2, 0)

	var mask1, mask2 uint32
	for _, evt := range cfg.Events {
		switch {
		case evt < 32:
			mask1 |= 1 << evt
		default:
			mask2 |= 1 << (evt - 32)
		}
	}
	ic.w(regs.INTC_ESR1, mask1)
	ic.w(regs.INTC_SECR1, mask1)
	ic.w(regs.INTC_ESR2, mask2)
	ic.w(regs.INTC_SECR2, mask2)

	for host := uint32(0); host < regs.NUM_HOSTS; host++ {
		if cfg.HostMask&(1<<host) != 0 {
			ic.w(regs.INTC_HIEISR, host)
		}
	}

	ic.w(regs.INTC_GER, 1)

	return ic.err
}

// send raises the system event evt.
func (ic *intc) send(evt uint32) error {
	if evt >= regs.NUM_SYS_EVTS {
		return fmt.Errorf("%w: invalid system event %d", ErrInvalidArgument, evt)
	}
	ic.err = nil
	switch {
	case evt < 32:
		ic.w(regs.INTC_SRSR1, 1<<evt)
	default:
		ic.w(regs.INTC_SRSR2, 1<<(evt-32))
	}
	return ic.err
}

// clear acknowledges the system event evt and re-enables the host
// interrupt it is routed to.
func (ic *intc) clear(evt, host uint32) error {
	if evt >= regs.NUM_SYS_EVTS {
		return fmt.Errorf("%w: invalid system event %d", ErrInvalidArgument, evt)
	}
	ic.err = nil
	ic.w(regs.INTC_SICR, evt)
	ic.w(regs.INTC_HIEISR, host)
	return ic.err
}
