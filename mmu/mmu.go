// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package mmu implements an ARMv4 style memory management unit.
//
// Virtual addresses are translated through a two level page table in
// physical memory: 1M sections, coarse and fine second level tables,
// and 64K, 4K and 1K pages with optional subpage permissions. Each mapping
// belongs to one of 16 domains, which decide whether the access permission
// bits are checked at all.
//
// Translations are cached in a Tlb. The cache is only ever flushed as a
// whole, so a caller that edits the page tables or the domain configuration
// must call Flush before depending on the new mappings.
package mmu

import (
	"fmt"
	"iter"
	"log"
	"maps"
)

const (
	MMU_DISABLED_TTP = uint32(0xffff_ffff) // Translation table base when translation is off.

	SECTION_SIZE    = uint32(1 << 20) // 1M section.
	LARGE_PAGE_SIZE = uint32(1 << 16) // 64K large page.
	SMALL_PAGE_SIZE = uint32(1 << 12) // 4K small page.
	TINY_PAGE_SIZE  = uint32(1 << 10) // 1K tiny page.
)

// First level descriptor types.
const (
	DESC_FAULT   = 0 // Unmapped.
	DESC_COARSE  = 1 // Coarse second level table.
	DESC_SECTION = 2 // 1M section.
	DESC_FINE    = 3 // Fine second level table.
)

// Second level descriptor types.
const (
	PAGE_FAULT = 0 // Unmapped.
	PAGE_LARGE = 1 // 64K page.
	PAGE_SMALL = 2 // 4K page.
	PAGE_TINY  = 3 // 1K page, or an extended small page in a coarse table.
)

// Domain access codes.
const (
	DOMAIN_NO_ACCESS = 0 // Any access faults.
	DOMAIN_CLIENT    = 1 // Access permissions are checked.
	DOMAIN_RESERVED  = 2 // Treated as no access.
	DOMAIN_MANAGER   = 3 // Access permissions are not checked.
)

// Access permission codes.
const (
	AP_SYSTEM     = 0 // No access, unless granted by the S or R bits. Never writable.
	AP_SUPERVISOR = 1 // Privileged access only.
	AP_USER_RO    = 2 // Privileged read/write, user read-only.
	AP_USER_RW    = 3 // Unrestricted.
)

var _mmu_defines = map[string]string{
	"MMU_TLB_BUCKET_NUM":  fmt.Sprintf("%v", MMU_TLB_BUCKET_NUM),
	"MMU_TLB_BUCKET_SIZE": fmt.Sprintf("%v", MMU_TLB_BUCKET_SIZE),
	"MMU_DISABLED_TTP":    fmt.Sprintf("0x%x", MMU_DISABLED_TTP),
	"SECTION_SIZE":        fmt.Sprintf("0x%x", SECTION_SIZE),
	"LARGE_PAGE_SIZE":     fmt.Sprintf("0x%x", LARGE_PAGE_SIZE),
	"SMALL_PAGE_SIZE":     fmt.Sprintf("0x%x", SMALL_PAGE_SIZE),
	"TINY_PAGE_SIZE":      fmt.Sprintf("0x%x", TINY_PAGE_SIZE),
	"DESC_FAULT":          fmt.Sprintf("%v", DESC_FAULT),
	"DESC_COARSE":         fmt.Sprintf("%v", DESC_COARSE),
	"DESC_SECTION":        fmt.Sprintf("%v", DESC_SECTION),
	"DESC_FINE":           fmt.Sprintf("%v", DESC_FINE),
	"PAGE_FAULT":          fmt.Sprintf("%v", PAGE_FAULT),
	"PAGE_LARGE":          fmt.Sprintf("%v", PAGE_LARGE),
	"PAGE_SMALL":          fmt.Sprintf("%v", PAGE_SMALL),
	"PAGE_TINY":           fmt.Sprintf("%v", PAGE_TINY),
	"DOMAIN_NO_ACCESS":    fmt.Sprintf("%v", DOMAIN_NO_ACCESS),
	"DOMAIN_CLIENT":       fmt.Sprintf("%v", DOMAIN_CLIENT),
	"DOMAIN_RESERVED":     fmt.Sprintf("%v", DOMAIN_RESERVED),
	"DOMAIN_MANAGER":      fmt.Sprintf("%v", DOMAIN_MANAGER),
	"AP_SYSTEM":           fmt.Sprintf("%v", AP_SYSTEM),
	"AP_SUPERVISOR":       fmt.Sprintf("%v", AP_SUPERVISOR),
	"AP_USER_RO":          fmt.Sprintf("%v", AP_USER_RO),
	"AP_USER_RW":          fmt.Sprintf("%v", AP_USER_RW),
}

// ReadFunc reads a 32-bit word of physical memory, for descriptor fetches.
type ReadFunc func(pa uint32) (value uint32, err error)

// Mmu is the translation state of a single address space.
type Mmu struct {
	Verbose bool // If set, enables verbose logging.

	Tlb Tlb // Translation cache.

	readF     ReadFunc
	ttp       uint32 // Translation table base.
	domainCfg uint32 // 16 x 2-bit domain access codes.
	s         bool   // System protection bit.
	r         bool   // ROM protection bit.
}

// NewMmu creates a disabled MMU that walks page tables with readF.
func NewMmu(readF ReadFunc) (mmu *Mmu) {
	mmu = &Mmu{}
	mmu.Init(readF)
	return
}

// Init resets the MMU to the disabled state.
func (mmu *Mmu) Init(readF ReadFunc) {
	*mmu = Mmu{
		Verbose: mmu.Verbose,
		readF:   readF,
		ttp:     MMU_DISABLED_TTP,
	}
	mmu.Tlb.Flush()
}

// Defines returns the name/value pairs of the MMU constants.
func (mmu *Mmu) Defines() iter.Seq2[string, string] {
	return maps.All(_mmu_defines)
}

// String returns the register state as a string.
func (mmu *Mmu) String() (text string) {
	text += fmt.Sprintf("  ttb: %08X\n", mmu.ttp)
	text += fmt.Sprintf("  dac: %08X\n", mmu.domainCfg)
	text += fmt.Sprintf("    s: %v\n", mmu.s)
	text += fmt.Sprintf("    r: %v\n", mmu.r)
	return
}

// Flush invalidates the whole TLB.
func (mmu *Mmu) Flush() {
	if mmu.Verbose {
		log.Printf("mmu: tlb flush")
	}
	mmu.Tlb.Flush()
}

// GetTTP returns the translation table base.
func (mmu *Mmu) GetTTP() uint32 {
	return mmu.ttp
}

// SetTTP sets the translation table base, and flushes the TLB.
// MMU_DISABLED_TTP turns translation off.
func (mmu *Mmu) SetTTP(ttp uint32) {
	mmu.Flush()
	mmu.ttp = ttp
}

// Enabled is true when translation is on.
func (mmu *Mmu) Enabled() bool {
	return mmu.ttp != MMU_DISABLED_TTP
}

// GetDomainCfg returns the domain access control word.
func (mmu *Mmu) GetDomainCfg() uint32 {
	return mmu.domainCfg
}

// SetDomainCfg sets the domain access control word. The TLB is not flushed.
func (mmu *Mmu) SetDomainCfg(cfg uint32) {
	mmu.domainCfg = cfg
}

// GetS returns the System protection bit.
func (mmu *Mmu) GetS() bool {
	return mmu.s
}

// SetS sets the System protection bit.
func (mmu *Mmu) SetS(on bool) {
	mmu.s = on
}

// GetR returns the ROM protection bit.
func (mmu *Mmu) GetR() bool {
	return mmu.r
}

// SetR sets the ROM protection bit.
func (mmu *Mmu) SetR(on bool) {
	mmu.r = on
}

// Translate maps a virtual address to a physical address, checking the
// domain and access permissions of the mapping. Failures are returned as
// a Fault.
func (mmu *Mmu) Translate(va uint32, privileged bool, write bool) (pa uint32, err error) {
	if !mmu.Enabled() {
		pa = va
		return
	}

	entry, ok := mmu.Tlb.Lookup(va)
	if !ok {
		entry, err = mmu.walk(va)
		if err != nil {
			if mmu.Verbose {
				log.Printf("mmu: 0x%08x: %v", va, err)
			}
			return
		}
		mmu.Tlb.Insert(va, entry)
	}

	err = mmu.check(&entry, privileged, write)
	if err != nil {
		if mmu.Verbose {
			log.Printf("mmu: 0x%08x: %v", va, err)
		}
		return
	}

	pa = va - entry.Va + entry.Pa
	return
}

// walk resolves va through the page tables.
func (mmu *Mmu) walk(va uint32) (entry TlbEntry, err error) {
	if mmu.Verbose {
		log.Printf("mmu: walk 0x%08x", va)
	}

	if (mmu.ttp & 3) != 0 {
		err = FAULT_ALIGNMENT
		return
	}

	l1, rerr := mmu.readF(mmu.ttp + ((va & 0xfff0_0000) >> 18))
	if rerr != nil {
		err = FAULT_EXTERNAL_L1
		return
	}

	domain := uint8(l1>>5) & 0x0f
	entry.Domain = domain

	var l2addr uint32
	coarse := true

	switch l1 & 3 {
	case DESC_FAULT:
		err = FAULT_SECTION_TRANSLATION.WithDomain(domain)
		return
	case DESC_COARSE:
		l2addr = (l1 & 0xffff_fc00) + ((va & 0x000f_f000) >> 10)
	case DESC_SECTION:
		entry.Pa = l1 & 0xfff0_0000
		entry.Va = va & 0xfff0_0000
		entry.Size = SECTION_SIZE
		entry.Ap = uint8(l1>>10) & 3
		return
	case DESC_FINE:
		coarse = false
		l2addr = (l1 & 0xffff_f000) + ((va & 0x000f_fc00) >> 8)
	}

	l2, rerr := mmu.readF(l2addr)
	if rerr != nil {
		err = FAULT_EXTERNAL_L2.WithDomain(domain)
		return
	}

	kind := l2 & 3
	extended := false
	if kind == PAGE_TINY && coarse {
		// Coarse tables cannot hold tiny pages; the encoding marks
		// a small page with a single access permission field.
		kind = PAGE_SMALL
		extended = true
	}

	var quarter uint32
	switch kind {
	case PAGE_FAULT:
		err = FAULT_PAGE_TRANSLATION.WithDomain(domain)
		return
	case PAGE_LARGE:
		entry.Pa = l2 & 0xffff_0000
		entry.Va = va & 0xffff_0000
		entry.Size = LARGE_PAGE_SIZE
		quarter = (va >> 14) & 3
	case PAGE_SMALL:
		entry.Pa = l2 & 0xffff_f000
		entry.Va = va & 0xffff_f000
		entry.Size = SMALL_PAGE_SIZE
		quarter = (va >> 10) & 3
	case PAGE_TINY:
		entry.Pa = l2 & 0xffff_fc00
		entry.Va = va & 0xffff_fc00
		entry.Size = TINY_PAGE_SIZE
		entry.Ap = uint8(l2>>4) & 3
		return
	}

	aps := uint8(l2 >> 4)
	if extended || apUniform(aps) {
		entry.Ap = aps & 3
	} else {
		entry.Ap = (aps >> (2 * quarter)) & 3
		entry.Size /= 4
		entry.Pa += quarter * entry.Size
		entry.Va += quarter * entry.Size
	}

	return
}

// apUniform is true if all four packed access permission fields are equal.
func apUniform(aps uint8) bool {
	return (aps&0x0f) == (aps>>4) && (aps&3) == ((aps>>2)&3)
}

// check applies the domain and access permission rules to a mapping.
func (mmu *Mmu) check(entry *TlbEntry, privileged bool, write bool) (err error) {
	section := entry.Section()

	switch (mmu.domainCfg >> (entry.Domain * 2)) & 3 {
	case DOMAIN_NO_ACCESS, DOMAIN_RESERVED:
		if section {
			err = FAULT_SECTION_DOMAIN.WithDomain(entry.Domain)
		} else {
			err = FAULT_PAGE_DOMAIN.WithDomain(entry.Domain)
		}
		return
	case DOMAIN_MANAGER:
		return
	}

	if !mmu.permitted(entry.Ap, privileged, write) {
		if section {
			err = FAULT_SECTION_PERMISSION.WithDomain(entry.Domain)
		} else {
			err = FAULT_SUBPAGE_PERMISSION.WithDomain(entry.Domain)
		}
	}

	return
}

// permitted evaluates an access permission code.
func (mmu *Mmu) permitted(ap uint8, privileged bool, write bool) bool {
	switch ap {
	case AP_SYSTEM:
		if write {
			return false
		}
		return mmu.r || (privileged && mmu.s)
	case AP_SUPERVISOR:
		return privileged
	case AP_USER_RO:
		return privileged || !write
	}

	return true
}
