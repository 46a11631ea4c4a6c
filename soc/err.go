package soc

import (
	"errors"

	"github.com/ezrec/uarm/translate"
)

var f = translate.From

var (
	ErrAccessSize  = errors.New(f("access size is not a power of two"))
	ErrAccessAlign = errors.New(f("access is misaligned"))
)

// ErrAbort is a translation failure, with the virtual address that caused it.
type ErrAbort struct {
	Address  uint32 // Faulting virtual address.
	Prefetch bool   // Set for instruction fetches.
	Err      error  // Underlying mmu.Fault.
}

func (err *ErrAbort) Error() string {
	kind := f("data")
	if err.Prefetch {
		kind = f("prefetch")
	}
	return f("%v abort at 0x%08x: %v", kind, err.Address, err.Err)
}

func (err *ErrAbort) Unwrap() error {
	return err.Err
}
