package mmu

import (
	"github.com/ezrec/uarm/translate"
)

var f = translate.From

// Fault is an ARM fault status: the status code in the low nibble, and
// the domain of the faulting descriptor in the high nibble.
type Fault uint8

// Fault status codes.
const (
	FAULT_ALIGNMENT           = Fault(0x01) // Translation table base misaligned.
	FAULT_SECTION_TRANSLATION = Fault(0x05) // First level descriptor is a fault entry.
	FAULT_PAGE_TRANSLATION    = Fault(0x07) // Second level descriptor is a fault entry.
	FAULT_SECTION_DOMAIN      = Fault(0x08) // Section domain is no-access or reserved.
	FAULT_PAGE_DOMAIN         = Fault(0x0B) // Page domain is no-access or reserved.
	FAULT_EXTERNAL_L1         = Fault(0x0C) // First level descriptor fetch failed.
	FAULT_SECTION_PERMISSION  = Fault(0x0D) // Section access permission denied.
	FAULT_EXTERNAL_L2         = Fault(0x0E) // Second level descriptor fetch failed.
	FAULT_SUBPAGE_PERMISSION  = Fault(0x0F) // (Sub)page access permission denied.
)

var _fault_names = map[Fault]string{
	FAULT_ALIGNMENT:           "alignment",
	FAULT_SECTION_TRANSLATION: "section translation",
	FAULT_PAGE_TRANSLATION:    "page translation",
	FAULT_SECTION_DOMAIN:      "section domain",
	FAULT_PAGE_DOMAIN:         "page domain",
	FAULT_EXTERNAL_L1:         "first level external abort",
	FAULT_SECTION_PERMISSION:  "section permission",
	FAULT_EXTERNAL_L2:         "second level external abort",
	FAULT_SUBPAGE_PERMISSION:  "subpage permission",
}

// Code returns the fault status without the domain.
func (ft Fault) Code() Fault {
	return ft & 0x0f
}

// Domain returns the domain that the fault was raised in.
func (ft Fault) Domain() uint8 {
	return uint8(ft >> 4)
}

// WithDomain tags the fault status with a domain.
func (ft Fault) WithDomain(domain uint8) Fault {
	return ft.Code() | Fault(domain<<4)
}

// String returns the name of the fault status code.
func (ft Fault) String() string {
	name, ok := _fault_names[ft.Code()]
	if !ok {
		return f("unknown 0x%02x", uint8(ft))
	}
	return f(name)
}

func (ft Fault) Error() string {
	return f("%v fault (fsr 0x%02x, domain %v)", ft.String(), uint8(ft), ft.Domain())
}

// Is matches any fault with the same status code, regardless of domain.
func (ft Fault) Is(err error) (ok bool) {
	other, ok := err.(Fault)
	if ok {
		ok = other.Code() == ft.Code()
	}
	return
}
