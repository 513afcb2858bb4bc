// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import "sync"

// Offset holds the shift, in words, applied to every shared RAM access.
// Any value is accepted: validity is checked when memory is accessed.
// Changing the offset only affects subsequent accesses.
type Offset struct {
	mu sync.RWMutex
	v  uint32
}

// NewOffset returns an offset registry initialized with v.
func NewOffset(v uint32) *Offset {
	return &Offset{v: v}
}

// Get returns the current offset, in words.
func (o *Offset) Get() uint32 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.v
}

// Set replaces the offset with v, in words.
func (o *Offset) Set(v uint32) {
	o.mu.Lock()
	o.v = v
	o.mu.Unlock()
}
