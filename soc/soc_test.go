package soc

import (
	"errors"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/uarm/icache"
	"github.com/ezrec/uarm/mem"
	"github.com/ezrec/uarm/mmu"
)

const testTtb = RAM_BASE + 0x4000

// newTestSoc creates a Soc with 1M of RAM, and a page table at testTtb
// that maps RAM_BASE onto itself.
func newTestSoc(t *testing.T) (soc *Soc) {
	soc, err := NewSoc([]byte{0x01, 0x02, 0x03, 0x04}, 1<<20)
	assert.NoError(t, err)

	soc.mapSection(t, RAM_BASE, RAM_BASE, mmu.AP_SUPERVISOR, 0)
	return
}

func (soc *Soc) mapSection(t *testing.T, va, pa uint32, ap uint32, domain uint32) {
	desc := (pa & 0xfff0_0000) | (ap << 10) | (domain << 5) | mmu.DESC_SECTION
	assert.NoError(t, soc.Mem.WriteWord(testTtb+((va>>20)<<2), desc))
}

func TestSoc(t *testing.T) {
	assert := assert.New(t)

	soc, err := NewSoc(nil, RAM_SIZE)
	assert.NoError(err)
	assert.Nil(soc.Rom)
	assert.Equal(RAM_SIZE, soc.Ram.Size())
	assert.False(soc.Mmu.Enabled())

	defines := maps.Collect(soc.Defines())
	assert.Equal("0xa0000000", defines["RAM_BASE"])
	assert.Equal("16", defines["ICACHE_LINE_SIZE"])
	assert.Contains(defines, "MMU_TLB_BUCKET_NUM")
	assert.Contains(defines, "MEM_REGION_MAX")
}

func TestSoc_Physical(t *testing.T) {
	assert := assert.New(t)

	soc := newTestSoc(t)

	assert.NoError(soc.Store(RAM_BASE+0x10, 4, 0xcafe_f00d, false))
	value, err := soc.Load(RAM_BASE+0x10, 4, false)
	assert.NoError(err)
	assert.Equal(uint32(0xcafe_f00d), value)

	value, err = soc.Load(RAM_BASE+0x12, 2, false)
	assert.NoError(err)
	assert.Equal(uint32(0xcafe), value)

	value, err = soc.Load(ROM_BASE, 4, false)
	assert.NoError(err)
	assert.Equal(uint32(0x0403_0201), value)

	assert.Equal(mem.ErrReadOnly, soc.Store(ROM_BASE, 1, 0, true))

	_, err = soc.Load(0x4000_0000, 4, true)
	assert.ErrorIs(err, mem.ErrNoRegion(0))
	assert.Equal(mmu.Fault(0), soc.FaultStatus())

	assert.Equal(ErrAccessAlign, soc.Store(RAM_BASE+2, 4, 0, true))
	assert.Equal(ErrAccessSize, soc.VirtualAccess(make([]byte, 3), RAM_BASE, false, true))
	_, err = soc.Load(RAM_BASE, 8, true)
	assert.Equal(ErrAccessSize, err)
}

func TestSoc_Translated(t *testing.T) {
	assert := assert.New(t)

	soc := newTestSoc(t)
	soc.mapSection(t, 0x0010_0000, RAM_BASE, mmu.AP_USER_RW, 1)
	soc.Mmu.SetTTP(testTtb)
	soc.Mmu.SetDomainCfg((mmu.DOMAIN_CLIENT << 0) | (mmu.DOMAIN_CLIENT << 2))

	assert.NoError(soc.Store(0x0010_0100, 4, 0x1234_5678, false))
	value, err := soc.PhysicalRead(RAM_BASE + 0x100)
	assert.NoError(err)
	assert.Equal(uint32(0x1234_5678), value)

	// RAM_BASE is supervisor only.
	value, err = soc.Load(RAM_BASE+0x100, 4, true)
	assert.NoError(err)
	assert.Equal(uint32(0x1234_5678), value)

	_, err = soc.Load(RAM_BASE+0x104, 4, false)
	assert.Equal(&ErrAbort{Address: RAM_BASE + 0x104, Err: mmu.FAULT_SECTION_PERMISSION}, err)
	assert.Equal(mmu.FAULT_SECTION_PERMISSION, soc.FaultStatus())
	assert.Equal(RAM_BASE+0x104, soc.FaultAddress())

	// Unmapped.
	_, err = soc.Load(0x0020_0000, 4, true)
	assert.ErrorIs(err, mmu.FAULT_SECTION_TRANSLATION)
	assert.Equal(uint32(0x0020_0000), soc.FaultAddress())
	assert.EqualError(err, "data abort at 0x00200000: section translation fault (fsr 0x05, domain 0)")

	soc.Reset()
	assert.False(soc.Mmu.Enabled())
	assert.Equal(mmu.Fault(0), soc.FaultStatus())
}

func TestSoc_Fetch(t *testing.T) {
	assert := assert.New(t)

	soc := newTestSoc(t)
	soc.mapSection(t, 0x0010_0000, RAM_BASE, mmu.AP_USER_RW, 0)
	soc.Mmu.SetTTP(testTtb)
	soc.Mmu.SetDomainCfg(mmu.DOMAIN_CLIENT)

	assert.NoError(soc.Store(RAM_BASE+0x200, 4, 0xe1a0_0000, true))

	value, err := soc.FetchWord(0x0010_0200, true)
	assert.NoError(err)
	assert.Equal(uint32(0xe1a0_0000), value)
	assert.Equal(1, soc.Icache.Misses)

	// Privileged line, unprivileged fetch.
	_, err = soc.FetchWord(0x0010_0204, false)
	var abort *ErrAbort
	assert.True(errors.As(err, &abort))
	assert.True(abort.Prefetch)
	assert.Equal(uint32(0x0010_0204), abort.Address)
	assert.ErrorIs(err, mmu.FAULT_SUBPAGE_PERMISSION)
	assert.Equal(icache.ErrPrivilege(0x0010_0204), abort.Err)
	assert.Equal(mmu.FAULT_SUBPAGE_PERMISSION, soc.FaultStatus())

	// Self-modifying code needs an explicit invalidate.
	assert.NoError(soc.Store(0x0010_0200, 4, 0xe1a0_1001, true))
	value, _ = soc.FetchWord(0x0010_0200, true)
	assert.Equal(uint32(0xe1a0_0000), value)

	soc.Icache.Invalidate(0x0010_0200)
	value, err = soc.FetchWord(0x0010_0200, true)
	assert.NoError(err)
	assert.Equal(uint32(0xe1a0_1001), value)

	// Fetch from an unmapped page.
	_, err = soc.FetchWord(0x0030_0008, true)
	assert.True(errors.As(err, &abort))
	assert.True(abort.Prefetch)
	assert.Equal(uint32(0x0030_0008), abort.Address)
	assert.Equal(uint32(0x0030_0008), soc.FaultAddress())
	assert.ErrorIs(err, mmu.FAULT_SECTION_TRANSLATION)
}
