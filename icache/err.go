package icache

import (
	"errors"

	"github.com/ezrec/uarm/mmu"
	"github.com/ezrec/uarm/translate"
)

var f = translate.From

var (
	ErrFetchSize = errors.New(f("fetch crosses a cache line"))
)

// ErrPrivilege is returned when an unprivileged fetch hits a line that
// was filled by a privileged fetch. It unwraps to a subpage permission
// Fault, so the caller can report it like any other translation fault.
type ErrPrivilege uint32

func (err ErrPrivilege) Error() string {
	return f("unprivileged fetch of privileged line 0x%08x", uint32(err))
}

func (err ErrPrivilege) Unwrap() error {
	return mmu.FAULT_SUBPAGE_PERMISSION
}
