// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"log"
	"os"

	"github.com/go-lpc/pruss/pru/internal/regs"
)

type config struct {
	msg    *log.Logger
	offset uint32

	devmem string
	devuio string
	layout Layout
	intc   IntcConfig
	host   uint32 // host interrupt delivered to the UIO device
}

func newConfig() config {
	return config{
		msg:    log.New(os.Stdout, "pru: ", 0),
		offset: DefaultSharedOffset,
		devmem: "/dev/mem",
		devuio: "/dev/uio0",
		layout: AM335x.clone(),
		intc:   DefaultIntc,
		host:   regs.HOST_PRU_EVTOUT0,
	}
}

// Option configures a Device.
type Option func(*config)

// WithLogger sets the logger used by the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSharedOffset sets the initial shared RAM offset, in words.
func WithSharedOffset(v uint32) Option {
	return func(cfg *config) {
		cfg.offset = v
	}
}

// WithDevMem sets the path of the physical memory device.
func WithDevMem(fname string) Option {
	return func(cfg *config) {
		cfg.devmem = fname
	}
}

// WithDevUIO sets the path of the UIO device delivering PRU events.
func WithDevUIO(fname string) Option {
	return func(cfg *config) {
		cfg.devuio = fname
	}
}

// WithLayout sets the layout of the PRUSS address space.
func WithLayout(lay Layout) Option {
	return func(cfg *config) {
		cfg.layout = lay.clone()
	}
}

// WithBase sets the physical base address of the PRUSS.
func WithBase(addr int64) Option {
	return func(cfg *config) {
		cfg.layout.Base = addr
	}
}

// WithIntc sets the interrupt controller mapping.
func WithIntc(intc IntcConfig) Option {
	return func(cfg *config) {
		cfg.intc = intc
	}
}

// WithHostInterrupt sets the host interrupt delivered to the UIO device.
func WithHostInterrupt(host uint32) Option {
	return func(cfg *config) {
		cfg.host = host
	}
}
