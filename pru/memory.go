// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-lpc/pruss/internal/mmap"
)

// LegacyWords is the number of words returned by Memory.ReadLegacy.
const LegacyWords = 16

// Memory performs bounds-checked accesses to the PRU memories.
//
// Every read returns a copy: no slice aliasing the mapped memory ever
// escapes, as the PRU cores may write to it at any time.
// Single-value accesses are one 8-bit or one 32-bit memory operation.
// Block transfers are not atomic with respect to the PRU cores, nor to
// other host accesses.
type Memory struct {
	r resolver
}

// NewMemory returns an accessor over the given shared and per-core
// private regions. offset may be nil, in which case a registry holding
// DefaultSharedOffset is created.
func NewMemory(shared *mmap.Handle, cores []*mmap.Handle, offset *Offset) *Memory {
	if offset == nil {
		offset = NewOffset(DefaultSharedOffset)
	}
	return &Memory{
		r: resolver{
			shared: shared,
			cores:  append([]*mmap.Handle(nil), cores...),
			offset: offset,
		},
	}
}

// Offset returns the current shared RAM offset, in words.
func (mem *Memory) Offset() uint32 { return mem.r.offset.Get() }

// SetOffset sets the shared RAM offset, in words.
func (mem *Memory) SetOffset(v uint32) { mem.r.offset.Set(v) }

// Cores returns the number of mapped private regions.
func (mem *Memory) Cores() int { return len(mem.r.cores) }

// locate resolves req and checks that n units starting at the
// effective index fit in the region. It returns the byte address.
func (mem *Memory) locate(req Request, n uint64) (*mmap.Handle, int64, error) {
	region, idx, err := mem.r.resolve(req.Space, req.Width, req.Index)
	if err != nil {
		return nil, 0, err
	}
	if region == nil {
		return nil, 0, fmt.Errorf("%w: %v is not mapped", ErrInvalidArgument, req.Space)
	}

	var (
		unit = uint64(req.Width)
		size = uint64(region.Len())
	)
	if idx > math.MaxInt64/unit || n > math.MaxInt64/unit {
		return nil, 0, fmt.Errorf("%w: %v (+%d)", ErrOutOfBounds, req, n)
	}
	beg, span := idx*unit, n*unit
	if span > size || beg > size-span {
		return nil, 0, fmt.Errorf(
			"%w: %v at byte 0x%x (+%d) exceeds region size 0x%x",
			ErrOutOfBounds, req, beg, span, size,
		)
	}
	return region, int64(beg), nil
}

// Get reads the value at req. Byte reads return values in [0, 255].
func (mem *Memory) Get(req Request) (uint32, error) {
	region, addr, err := mem.locate(req, 1)
	if err != nil {
		return 0, err
	}

	switch req.Width {
	case Byte:
		v, err := region.U8(addr)
		if err != nil {
			return 0, fmt.Errorf("pru: could not read %v: %w", req, err)
		}
		return uint32(v), nil
	default:
		v, err := region.U32(addr)
		if err != nil {
			return 0, fmt.Errorf("pru: could not read %v: %w", req, err)
		}
		return v, nil
	}
}

// Set writes v at req. Byte writes keep the 8 low bits of v.
func (mem *Memory) Set(req Request, v uint32) error {
	region, addr, err := mem.locate(req, 1)
	if err != nil {
		return err
	}

	switch req.Width {
	case Byte:
		err = region.PutU8(addr, uint8(v))
	default:
		err = region.PutU32(addr, v)
	}
	if err != nil {
		return fmt.Errorf("pru: could not write %v: %w", req, err)
	}
	return nil
}

// ReadBlock returns a copy of length bytes of the shared RAM, starting at
// byte index (shifted by the shared offset).
func (mem *Memory) ReadBlock(index, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, fmt.Errorf("%w: zero-length block", ErrInvalidArgument)
	}
	req := Request{Space: Shared, Width: Byte, Index: index}
	region, addr, err := mem.locate(req, uint64(length))
	if err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	_, err = region.ReadAt(buf, addr)
	if err != nil {
		return nil, fmt.Errorf("pru: could not read block %v+%d: %w", req, length, err)
	}
	return buf, nil
}

// WriteBlock copies p into the shared RAM, starting at byte index
// (shifted by the shared offset). Nothing is written if p does not fit.
func (mem *Memory) WriteBlock(index uint32, p []byte) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: zero-length block", ErrInvalidArgument)
	}
	req := Request{Space: Shared, Width: Byte, Index: index}
	region, addr, err := mem.locate(req, uint64(len(p)))
	if err != nil {
		return err
	}

	_, err = region.WriteAt(p, addr)
	if err != nil {
		return fmt.Errorf("pru: could not write block %v+%d: %w", req, len(p), err)
	}
	return nil
}

// WriteWords writes words to consecutive shared RAM words, starting at
// the shared offset. Nothing is written if words do not fit.
func (mem *Memory) WriteWords(words []uint32) error {
	if len(words) == 0 {
		return fmt.Errorf("%w: empty word list", ErrInvalidArgument)
	}
	req := Request{Space: Shared, Width: Word}
	region, addr, err := mem.locate(req, uint64(len(words)))
	if err != nil {
		return err
	}

	for i, v := range words {
		err = region.PutU32(addr+int64(i)*int64(Word), v)
		if err != nil {
			return fmt.Errorf("pru: could not write word %d: %w", i, err)
		}
	}
	return nil
}

// ReadLegacy returns the first LegacyWords words of the shared RAM,
// starting at the shared offset.
func (mem *Memory) ReadLegacy() ([LegacyWords]uint32, error) {
	var words [LegacyWords]uint32
	raw, err := mem.ReadBlock(0, LegacyWords*uint32(Word))
	if err != nil {
		return words, err
	}
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return words, nil
}

// loadPrivate copies p at the beginning of the private RAM of core.
func (mem *Memory) loadPrivate(core int, p []byte) error {
	req := Request{Space: Private(core), Width: Byte}
	region, addr, err := mem.locate(req, uint64(len(p)))
	if err != nil {
		return err
	}
	_, err = region.WriteAt(p, addr)
	if err != nil {
		return fmt.Errorf("pru: could not load data into %v: %w", req.Space, err)
	}
	return nil
}
