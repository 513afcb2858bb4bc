// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pru-svc serves JSON control requests for the PRU subsystem.
package main // import "github.com/go-lpc/pruss/cmd/pru-svc"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/pruss"
	"github.com/go-lpc/pruss/pru"
	"github.com/sbinet/pmon"
)

func main() {
	var (
		addr = flag.String("addr", ":9998", "[addr]:port to listen on")

		devmem = flag.String("dev-mem", "/dev/mem", "physical memory device")
		devuio = flag.String("dev-uio", "/dev/uio0", "UIO device of the PRU events")
		offset = flag.Uint("offset", pru.DefaultSharedOffset, "shared RAM offset, in words")

		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		monLog = flag.String("pmon-log", "pru-svc-pmon.log", "pmon log file")
	)

	log.SetPrefix("pru-svc: ")
	log.SetFlags(0)

	flag.Parse()

	if v, _ := pruss.Version(); v != "" {
		log.Printf("pru-svc %s", v)
	}

	if *doMon {
		stop, err := monitor(*monLog, *doFreq)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		defer stop()
	}

	err := pru.Serve(
		*addr,
		pru.WithDevMem(*devmem),
		pru.WithDevUIO(*devuio),
		pru.WithSharedOffset(uint32(*offset)),
	)
	if err != nil {
		log.Fatalf("could not run pru-svc service: %+v", err)
	}
}

func monitor(fname string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring pid=%d: %w", pid, err)
	}

	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file %q: %w", fname, err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		log.Printf("run pmon (pid=%d)...", pid)
		err := p.Run()
		if err != nil {
			log.Printf("could not run monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}
