// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pruss holds code to drive the Programmable Real-time Unit
// subsystem of a BeagleBone-class SoC from a Linux host.
//
// The host-side access to the PRU memories and interrupt line lives in
// package pru. The cmd directory holds a control service (pru-svc), its
// interactive client (pru-ctl) and a run-control node (pru-tdaq).
package pruss // import "github.com/go-lpc/pruss"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of pruss and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/pruss"
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if m.Replace != nil {
			switch {
			case m.Replace.Version != "" && m.Replace.Path != "":
				return fmt.Sprintf("%s %s", m.Replace.Path, m.Replace.Version), m.Replace.Sum
			case m.Replace.Version != "":
				return m.Replace.Version, m.Replace.Sum
			case m.Replace.Path != "":
				return m.Replace.Path, m.Replace.Sum
			default:
				return m.Version + "*", ""
			}
		}
		return m.Version, m.Sum
	}
	return "", ""
}
