// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"fmt"

	"github.com/go-lpc/pruss/internal/mmap"
)

// resolver maps a (space, width, index) triplet to a region and to an
// effective index within that region.
// It does not check the index against the extent of the region.
type resolver struct {
	shared *mmap.Handle
	cores  []*mmap.Handle
	offset *Offset
}

// resolve returns the region selected by space and the effective index,
// in units of width.
// The shared offset is counted in words, whatever the width: a byte
// index is shifted by 4*offset.
func (r *resolver) resolve(space Space, width Width, index uint32) (*mmap.Handle, uint64, error) {
	if !width.valid() {
		return nil, 0, fmt.Errorf("%w: invalid width %v", ErrInvalidArgument, width)
	}

	switch space.kind {
	case sharedSpace:
		base := uint64(r.offset.Get()) * uint64(Word) / uint64(width)
		return r.shared, base + uint64(index), nil

	case privateSpace:
		if space.core < 0 || space.core >= len(r.cores) || r.cores[space.core] == nil {
			return nil, 0, fmt.Errorf(
				"%w: core=%d (mapped cores: %d)",
				ErrInvalidCore, space.core, len(r.cores),
			)
		}
		return r.cores[space.core], uint64(index), nil
	}

	return nil, 0, fmt.Errorf("%w: invalid memory space", ErrInvalidArgument)
}
