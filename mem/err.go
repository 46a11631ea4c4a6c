package mem

import (
	"errors"

	"github.com/ezrec/uarm/translate"
)

var f = translate.From

var (
	// Region management errors
	ErrRegionEmpty   = errors.New(f("region size is zero"))
	ErrRegionOverlap = errors.New(f("region overlaps an existing region"))
	ErrRegionFull    = errors.New(f("no free region slots"))
	ErrRegionMissing = errors.New(f("region not found"))

	// Accessor errors
	ErrReadOnly = errors.New(f("region is read-only"))
)

// ErrNoRegion is returned when no region covers a physical address.
type ErrNoRegion uint32

func (err ErrNoRegion) Error() string {
	return f("no region at 0x%08x", uint32(err))
}

func (err ErrNoRegion) Is(target error) (ok bool) {
	_, ok = target.(ErrNoRegion)
	return
}

// ErrBounds is returned when an access runs past the end of a backing store.
type ErrBounds struct {
	Address uint32
	Size    int
}

func (err ErrBounds) Error() string {
	return f("access of %v bytes at 0x%08x out of bounds", err.Size, err.Address)
}
