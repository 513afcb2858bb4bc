// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds register offsets of the PRU subsystem.
package regs // import "github.com/go-lpc/pruss/pru/internal/regs"

// PRU core control registers, relative to the core control block.
const (
	PRU_CTRL_CONTROL = 0x00
	PRU_CTRL_STATUS  = 0x04

	CONTROL_SOFT_RST_N = 1 << 0
	CONTROL_ENABLE     = 1 << 1
	CONTROL_RUNSTATE   = 1 << 15
	SHIFT_CONTROL_PCTR = 16
)

// Interrupt controller registers, relative to the INTC block.
const (
	INTC_GER    = 0x0010 // global enable
	INTC_SICR   = 0x0024 // system event status indexed clear
	INTC_EISR   = 0x0028 // system event enable indexed set
	INTC_HIEISR = 0x0034 // host interrupt enable indexed set
	INTC_SRSR1  = 0x0200 // system event status raw/set, events 0-31
	INTC_SRSR2  = 0x0204 // system event status raw/set, events 32-63
	INTC_SECR1  = 0x0280 // system event status enabled/clear, events 0-31
	INTC_SECR2  = 0x0284 // system event status enabled/clear, events 32-63
	INTC_ESR1   = 0x0300 // system event enable set, events 0-31
	INTC_ESR2   = 0x0304 // system event enable set, events 32-63
	INTC_CMR    = 0x0400 // channel map, 4 events per register
	INTC_HMR    = 0x0800 // host map, 4 channels per register
	INTC_SIPR1  = 0x0d00 // system event polarity, events 0-31
	INTC_SIPR2  = 0x0d04 // system event polarity, events 32-63
	INTC_SITR1  = 0x0d80 // system event type, events 0-31
	INTC_SITR2  = 0x0d84 // system event type, events 32-63
	INTC_HIER   = 0x1500 // host interrupt enable
	INTC_SPAN   = 0x2000

	NUM_SYS_EVTS = 64
	NUM_CHANNELS = 10
	NUM_HOSTS    = 10
)

// System events of the standard interrupt mapping.
const (
	PRU0_PRU1_INTERRUPT = 17
	PRU1_PRU0_INTERRUPT = 18
	PRU0_ARM_INTERRUPT  = 19
	PRU1_ARM_INTERRUPT  = 20
	ARM_PRU0_INTERRUPT  = 21
	ARM_PRU1_INTERRUPT  = 22
)

// Host interrupts.
const (
	HOST_PRU0        = 0
	HOST_PRU1        = 1
	HOST_PRU_EVTOUT0 = 2
	HOST_PRU_EVTOUT1 = 3
)
