// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pru-tdaq starts a TDAQ server driving a PRU core.
//
// Usage: pru-tdaq [tdaq options] name
//
// The PRU setup is taken from the environment:
//   - PRU_PROGRAM: program image (default: pru.bin),
//   - PRU_DATA: data image loaded on /init (optional),
//   - PRU_CORE: PRU core (default: 0),
//   - PRU_BLOCK: size in bytes of the published shared RAM block.
package main // import "github.com/go-lpc/pruss/cmd/pru-tdaq"

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/pruss/pru"
)

func main() {
	cmd := flags.New()

	node := pru.NewTDAQ(
		envInt("PRU_CORE", 0),
		envStr("PRU_PROGRAM", "pru.bin"),
	)
	node.Data = envStr("PRU_DATA", "")
	if n := envInt("PRU_BLOCK", 0); n > 0 {
		node.Length = uint32(n)
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", node.OnConfig)
	srv.CmdHandle("/init", node.OnInit)
	srv.CmdHandle("/reset", node.OnReset)
	srv.CmdHandle("/start", node.OnStart)
	srv.CmdHandle("/stop", node.OnStop)
	srv.CmdHandle("/quit", node.OnQuit)

	srv.OutputHandle("/shared", node.Shared)

	srv.RunHandle(node.Run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func envStr(k, def string) string {
	v, ok := os.LookupEnv(k)
	if !ok {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v, ok := os.LookupEnv(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Panicf("invalid %s=%q: %+v", k, v, err)
	}
	return i
}
