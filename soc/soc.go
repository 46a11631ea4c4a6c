// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package soc assembles the physical memory map, MMU and instruction cache
// into the memory system seen by an emulated ARM CPU.
package soc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log"
	"maps"

	"github.com/ezrec/uarm/icache"
	"github.com/ezrec/uarm/internal"
	"github.com/ezrec/uarm/mem"
	"github.com/ezrec/uarm/mmu"
)

const (
	ROM_BASE = uint32(0x0000_0000) // Boot ROM.
	RAM_BASE = uint32(0xa000_0000) // SDRAM.
	RAM_SIZE = uint32(0x0100_0000) // 16M of SDRAM.
)

var _soc_defines = map[string]string{
	"ROM_BASE": fmt.Sprintf("0x%x", ROM_BASE),
	"RAM_BASE": fmt.Sprintf("0x%x", RAM_BASE),
	"RAM_SIZE": fmt.Sprintf("0x%x", RAM_SIZE),
}

// Soc is the memory system of the emulated machine.
type Soc struct {
	Verbose bool // If set, enables verbose logging.

	Mem    *mem.Mem       // Physical address space.
	Mmu    *mmu.Mmu       // Address translation.
	Icache *icache.Icache // Instruction cache.

	Rom *mem.Rom // Boot ROM, if any.
	Ram *mem.Ram // Main memory.

	faultStatus  mmu.Fault
	faultAddress uint32
}

// NewSoc creates a memory system with a boot ROM at ROM_BASE, and
// ramSize bytes of RAM at RAM_BASE.
func NewSoc(rom []byte, ramSize uint32) (soc *Soc, err error) {
	soc = &Soc{
		Mem: mem.NewMem(),
	}

	soc.Mmu = mmu.NewMmu(soc.PhysicalRead)
	soc.Icache = icache.NewIcache(soc.VirtualAccess)

	if len(rom) != 0 {
		soc.Rom = mem.NewRom(ROM_BASE, rom)
		err = soc.Rom.Attach(soc.Mem)
		if err != nil {
			return
		}
	}

	if ramSize != 0 {
		soc.Ram = mem.NewRam(RAM_BASE, ramSize)
		err = soc.Ram.Attach(soc.Mem)
		if err != nil {
			return
		}
	}

	return
}

// Defines returns an iterator over all of the defines of the memory system.
func (soc *Soc) Defines() iter.Seq2[string, string] {
	return internal.IterSeq2Concat(maps.All(_soc_defines),
		soc.Mem.Defines(),
		soc.Mmu.Defines(),
		soc.Icache.Defines(),
	)
}

// SetVerbose sets the verbosity of every component.
func (soc *Soc) SetVerbose(verbose bool) {
	soc.Verbose = verbose
	soc.Mem.Verbose = verbose
	soc.Mmu.Verbose = verbose
	soc.Icache.Verbose = verbose
}

// Reset turns translation off, and drops all cached state.
// Memory contents are preserved.
func (soc *Soc) Reset() {
	if soc.Verbose {
		log.Printf("soc: reset")
	}

	soc.Mmu.Init(soc.PhysicalRead)
	soc.Icache.Init(soc.VirtualAccess)
	soc.faultStatus = 0
	soc.faultAddress = 0
}

// FaultStatus returns the status of the last translation fault.
func (soc *Soc) FaultStatus() mmu.Fault {
	return soc.faultStatus
}

// FaultAddress returns the virtual address of the last translation fault.
func (soc *Soc) FaultAddress() uint32 {
	return soc.faultAddress
}

func (soc *Soc) abort(va uint32, prefetch bool, err error) error {
	var fault mmu.Fault
	if !errors.As(err, &fault) {
		return err
	}

	soc.faultStatus = fault
	soc.faultAddress = va

	if soc.Verbose {
		log.Printf("soc: abort 0x%08x: %v", va, fault)
	}

	return &ErrAbort{Address: va, Prefetch: prefetch, Err: err}
}

// PhysicalRead reads a word of physical memory, bypassing translation.
func (soc *Soc) PhysicalRead(pa uint32) (value uint32, err error) {
	return soc.Mem.ReadWord(pa)
}

// VirtualAccess translates va, and loads or stores buf there.
// The size of buf must be a power of two, and va aligned to it.
func (soc *Soc) VirtualAccess(buf []byte, va uint32, write bool, privileged bool) (err error) {
	size := uint32(len(buf))
	if size == 0 || (size&(size-1)) != 0 {
		err = ErrAccessSize
		return
	}
	if (va & (size - 1)) != 0 {
		err = ErrAccessAlign
		return
	}

	pa, err := soc.Mmu.Translate(va, privileged, write)
	if err != nil {
		err = soc.abort(va, false, err)
		return
	}

	err = soc.Mem.Access(pa, buf, write)
	return
}

// Fetch reads instruction bytes through the instruction cache.
func (soc *Soc) Fetch(va uint32, buf []byte, privileged bool) (err error) {
	err = soc.Icache.Fetch(va, buf, privileged)
	if err != nil {
		var abort *ErrAbort
		if errors.As(err, &abort) {
			abort.Address = va
			abort.Prefetch = true
			soc.faultAddress = va
			return abort
		}
		err = soc.abort(va, true, err)
	}
	return
}

// FetchWord reads a 32-bit instruction through the instruction cache.
func (soc *Soc) FetchWord(va uint32, privileged bool) (value uint32, err error) {
	var buf [4]byte
	err = soc.Fetch(va, buf[:], privileged)
	if err != nil {
		return
	}

	value = binary.LittleEndian.Uint32(buf[:])
	return
}

// Load reads a little-endian value of 1, 2 or 4 bytes at va.
func (soc *Soc) Load(va uint32, size int, privileged bool) (value uint32, err error) {
	var buf [4]byte
	if size <= 0 || size > len(buf) {
		err = ErrAccessSize
		return
	}

	err = soc.VirtualAccess(buf[:size], va, false, privileged)
	if err != nil {
		return
	}

	value = binary.LittleEndian.Uint32(buf[:])
	return
}

// Store writes a little-endian value of 1, 2 or 4 bytes at va.
func (soc *Soc) Store(va uint32, size int, value uint32, privileged bool) (err error) {
	var buf [4]byte
	if size <= 0 || size > len(buf) {
		err = ErrAccessSize
		return
	}

	binary.LittleEndian.PutUint32(buf[:], value)
	err = soc.VirtualAccess(buf[:size], va, true, privileged)
	return
}
