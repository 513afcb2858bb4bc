// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pru gives a host process access to the memories and to the
// interrupt line of a Programmable Real-time Unit subsystem (PRUSS).
//
// Two kinds of memory are exposed: the shared RAM, visible to the host
// and to every PRU core, and the private data RAM of each core.
// Both are addressed either by 32-bit word or by byte; accesses to the
// shared RAM are shifted by a configurable offset, expressed in words.
//
// Completion of co-processor work is signalled through a hardware
// event. A Bridge waits for that event on a dedicated goroutine and
// queues the completion until the owner of the Bridge dispatches it.
package pru // import "github.com/go-lpc/pruss/pru"

import (
	"fmt"
	"strings"
)

const verbose = false

// DefaultSharedOffset is the default shift, in words, applied to shared
// RAM accesses.
const DefaultSharedOffset = 2048

// Width is the unit of an access.
type Width uint8

const (
	Word Width = 4 // 32-bit word
	Byte Width = 1 // 8-bit byte
)

// Size returns the number of bytes of one unit.
func (w Width) Size() int { return int(w) }

func (w Width) valid() bool { return w == Word || w == Byte }

func (w Width) String() string {
	switch w {
	case Word:
		return "word"
	case Byte:
		return "byte"
	default:
		return fmt.Sprintf("Width(%d)", uint8(w))
	}
}

// ParseWidth parses "word" (or "int") and "byte".
func ParseWidth(s string) (Width, error) {
	switch strings.ToLower(s) {
	case "word", "int", "u32":
		return Word, nil
	case "byte", "u8":
		return Byte, nil
	}
	return 0, fmt.Errorf("%w: unknown width %q", ErrInvalidArgument, s)
}

type spaceKind uint8

const (
	sharedSpace spaceKind = iota + 1
	privateSpace
)

// Space selects the memory region targeted by an access.
type Space struct {
	kind spaceKind
	core int
}

// Shared is the RAM shared between the host and all the PRU cores.
var Shared = Space{kind: sharedSpace}

// Private returns the data RAM local to the given core.
func Private(core int) Space {
	return Space{kind: privateSpace, core: core}
}

// IsShared reports whether s is the shared RAM.
func (s Space) IsShared() bool { return s.kind == sharedSpace }

// Core returns the core whose private RAM s selects.
// Core returns -1 for the shared RAM.
func (s Space) Core() int {
	if s.kind != privateSpace {
		return -1
	}
	return s.core
}

func (s Space) String() string {
	switch s.kind {
	case sharedSpace:
		return "shared"
	case privateSpace:
		return fmt.Sprintf("core-%d", s.core)
	default:
		return "invalid"
	}
}

// Request names one single-value access.
type Request struct {
	Space Space
	Width Width
	Index uint32 // in units of Width
}

func (req Request) String() string {
	return fmt.Sprintf("%v[%s:%d]", req.Space, req.Width, req.Index)
}
