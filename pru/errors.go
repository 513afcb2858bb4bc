// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pru

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCore     = errors.New("pru: invalid core")
	ErrOutOfBounds     = errors.New("pru: access out of bounds")
	ErrInvalidArgument = errors.New("pru: invalid argument")
	ErrDriver          = errors.New("pru: driver error")
	ErrMisuse          = errors.New("pru: misuse")
	ErrCancelled       = errors.New("pru: wait cancelled")
)

// DriverError is a failure reported by the PRUSS driver.
// It matches ErrDriver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("pru: driver could not %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

func (e *DriverError) Is(target error) bool { return target == ErrDriver }

func driverError(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *DriverError
	if errors.As(err, &derr) {
		return err
	}
	return &DriverError{Op: op, Err: err}
}
