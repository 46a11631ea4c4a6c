// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package mem implements the physical address space of the uARM system.
//
// The address space is a small fixed set of non-overlapping regions. Each
// region forwards loads and stores to an Accessor, which may be plain RAM,
// a ROM image, or a memory-mapped device model.
package mem

import (
	"encoding/binary"
	"fmt"
	"iter"
	"log"
	"maps"
)

const (
	MEM_REGION_MAX = 16 // Number of region slots in the physical address space.
)

var _mem_defines = map[string]string{
	"MEM_REGION_MAX": fmt.Sprintf("%v", MEM_REGION_MAX),
}

// Accessor performs loads and stores for a physical region.
type Accessor interface {
	// Access reads len(buf) bytes at addr into buf, or writes buf to addr.
	Access(addr uint32, buf []byte, write bool) (err error)
}

// AccessorFunc adapts a plain function to the Accessor interface.
type AccessorFunc func(addr uint32, buf []byte, write bool) error

func (af AccessorFunc) Access(addr uint32, buf []byte, write bool) error {
	return af(addr, buf, write)
}

// Region is a physical address range backed by an Accessor.
// A region with a zero Size is a free slot.
type Region struct {
	Base     uint32
	Size     uint32
	Accessor Accessor
}

// Contains is true if addr lies inside the region.
func (r *Region) Contains(addr uint32) bool {
	return r.Size != 0 && addr >= r.Base && addr-r.Base < r.Size
}

func (r *Region) overlaps(base, size uint32) bool {
	lo, hi := uint64(r.Base), uint64(r.Base)+uint64(r.Size)
	nlo, nhi := uint64(base), uint64(base)+uint64(size)
	return lo < nhi && nlo < hi
}

// Mem is the physical memory dispatcher.
type Mem struct {
	Verbose bool // If set, enables verbose logging.

	regions [MEM_REGION_MAX]Region
}

// NewMem creates an empty physical address space.
func NewMem() (mem *Mem) {
	mem = &Mem{}
	return
}

// Defines returns the name/value pairs describing the address space limits.
func (mem *Mem) Defines() iter.Seq2[string, string] {
	return maps.All(_mem_defines)
}

// Reset removes every region.
func (mem *Mem) Reset() {
	clear(mem.regions[:])
}

// AddRegion registers an accessor for [base, base+size).
func (mem *Mem) AddRegion(base, size uint32, accessor Accessor) (err error) {
	if size == 0 {
		err = ErrRegionEmpty
		return
	}

	for n := range mem.regions {
		region := &mem.regions[n]
		if region.Size == 0 {
			continue
		}
		if region.overlaps(base, size) {
			err = ErrRegionOverlap
			return
		}
	}

	for n := range mem.regions {
		region := &mem.regions[n]
		if region.Size == 0 {
			*region = Region{Base: base, Size: size, Accessor: accessor}
			if mem.Verbose {
				log.Printf("mem: region %v at 0x%08x+0x%x", n, base, size)
			}
			return
		}
	}

	err = ErrRegionFull
	return
}

// RemoveRegion frees the region exactly matching base and size.
func (mem *Mem) RemoveRegion(base, size uint32) (err error) {
	for n := range mem.regions {
		region := &mem.regions[n]
		if region.Size != 0 && region.Base == base && region.Size == size {
			*region = Region{}
			return
		}
	}

	err = ErrRegionMissing
	return
}

// Regions iterates over the registered regions.
func (mem *Mem) Regions() iter.Seq[Region] {
	return func(yield func(Region) bool) {
		for _, region := range mem.regions {
			if region.Size == 0 {
				continue
			}
			if !yield(region) {
				return
			}
		}
	}
}

// Access performs a physical load (or store, if write is set) of len(buf)
// bytes at addr, through the region that contains addr.
func (mem *Mem) Access(addr uint32, buf []byte, write bool) (err error) {
	for n := range mem.regions {
		region := &mem.regions[n]
		if region.Contains(addr) {
			return region.Accessor.Access(addr, buf, write)
		}
	}

	if mem.Verbose {
		log.Printf("mem: no region at 0x%08x", addr)
	}

	err = ErrNoRegion(addr)
	return
}

// ReadWord is a raw little-endian 32-bit physical read, used for
// page table walks.
func (mem *Mem) ReadWord(addr uint32) (value uint32, err error) {
	var buf [4]byte

	err = mem.Access(addr, buf[:], false)
	if err != nil {
		return
	}

	value = binary.LittleEndian.Uint32(buf[:])
	return
}

// WriteWord is a raw little-endian 32-bit physical write.
func (mem *Mem) WriteWord(addr uint32, value uint32) (err error) {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], value)
	err = mem.Access(addr, buf[:], true)
	return
}
