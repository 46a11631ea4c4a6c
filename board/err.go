package board

import (
	"errors"

	"github.com/ezrec/uarm/translate"
)

var f = translate.From

var (
	ErrNoTable  = errors.New(f("translation table base not set"))
	ErrNotTable = errors.New(f("first level descriptor is not a page table"))
	ErrPageKind = errors.New(f("page kind invalid for table"))
)

// ErrValue is returned when a script passes an unusable value.
type ErrValue string

func (err ErrValue) Error() string {
	return f("'%v' is not a 32-bit value", string(err))
}

// ErrScript indicates the board script that failed.
type ErrScript struct {
	Name string
	Err  error
}

func (err *ErrScript) Error() string {
	return f("%v: %v", err.Name, err.Err)
}

func (err *ErrScript) Unwrap() error {
	return err.Err
}
