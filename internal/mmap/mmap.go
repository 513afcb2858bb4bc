// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides bounds-checked access to memory-mapped windows.
package mmap // import "github.com/go-lpc/pruss/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")

	// ErrRange is returned when an access falls outside the mapped extent.
	ErrRange = errors.New("mmap: access out of range")
)

// Handle is a fixed-size window of memory.
// Once created, a handle is never resized.
type Handle struct {
	data  []byte
	unmap func([]byte) error
}

// Map maps size bytes of the file fd, starting at offset, as a shared
// read-write window.
func Map(fd int, offset int64, size int) (*Handle, error) {
	data, err := unix.Mmap(
		fd, offset, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not mmap 0x%x+0x%x: %w", offset, size, err)
	}
	if data == nil || len(data) != size {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(data))
	}
	h := &Handle{data: data, unmap: unix.Munmap}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// HandleFrom wraps plain memory.
// Closing the returned handle only detaches it from data.
func HandleFrom(data []byte) *Handle {
	return &Handle{data: data}
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if h.unmap == nil {
		return nil
	}
	return h.unmap(data)
}

// Len returns the length of the underlying memory-mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// Sub returns a handle over the [off, off+size) part of h.
// The returned handle shares memory with h and does not own it.
func (h *Handle) Sub(off, size int) (*Handle, error) {
	if err := h.check(int64(off), int64(size)); err != nil {
		return nil, err
	}
	return &Handle{data: h.data[off : off+size : off+size]}, nil
}

func (h *Handle) check(off, n int64) error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	if off < 0 || n < 0 || off > int64(len(h.data)) || n > int64(len(h.data))-off {
		return fmt.Errorf("%w: [0x%x, 0x%x) not in [0, 0x%x)", ErrRange, off, off+n, len(h.data))
	}
	return nil
}

// U8 returns the byte at offset off.
func (h *Handle) U8(off int64) (uint8, error) {
	if err := h.check(off, 1); err != nil {
		return 0, err
	}
	return h.data[off], nil
}

// PutU8 stores v at offset off.
func (h *Handle) PutU8(off int64, v uint8) error {
	if err := h.check(off, 1); err != nil {
		return err
	}
	h.data[off] = v
	return nil
}

// U32 loads the 32-bit word at byte offset off, which must be 4-byte aligned.
// The load is a single memory access.
func (h *Handle) U32(off int64) (uint32, error) {
	if err := h.check(off, 4); err != nil {
		return 0, err
	}
	if off%4 != 0 {
		return 0, fmt.Errorf("mmap: unaligned 32-bit load at 0x%x", off)
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&h.data[off]))), nil
}

// PutU32 stores v at byte offset off, which must be 4-byte aligned.
// The store is a single memory access.
func (h *Handle) PutU32(off int64, v uint32) error {
	if err := h.check(off, 4); err != nil {
		return err
	}
	if off%4 != 0 {
		return fmt.Errorf("mmap: unaligned 32-bit store at 0x%x", off)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&h.data[off])), v)
	return nil
}

// ReadAt implements the io.ReaderAt interface.
// Reads that would cross the end of the window fail without copying.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if err := h.check(off, 0); err != nil {
		if errors.Is(err, ErrRange) {
			return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
		}
		return 0, err
	}
	if int64(len(p)) > int64(len(h.data))-off {
		return 0, io.EOF
	}
	return copy(p, h.data[off:]), nil
}

// WriteAt implements the io.WriterAt interface.
// Writes that would cross the end of the window fail without modifying it.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if err := h.check(off, 0); err != nil {
		if errors.Is(err, ErrRange) {
			return 0, fmt.Errorf("mmap: invalid WriteAt offset %d", off)
		}
		return 0, err
	}
	if int64(len(p)) > int64(len(h.data))-off {
		return 0, io.ErrShortWrite
	}
	return copy(h.data[off:], p), nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
