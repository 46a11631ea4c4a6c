// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package icache implements the instruction cache of the uARM core.
//
// Lines are grouped in hash buckets, filled round-robin, and tagged with
// the privilege level of the fetch that filled them. A fill goes through
// a caller supplied MemoryFunc, which translates and loads a whole line.
package icache

import (
	"fmt"
	"iter"
	"log"
	"maps"
)

const (
	ICACHE_L = 4 // Log2 of the line size.
	ICACHE_S = 6 // Log2 of the bucket count.
	ICACHE_A = 4 // Lines per bucket.

	ICACHE_LINE_SIZE   = 1 << ICACHE_L // Bytes per line.
	ICACHE_BUCKET_NUM  = 1 << ICACHE_S // Number of buckets.
	ICACHE_BUCKET_SIZE = ICACHE_A      // Lines per bucket.

	ICACHE_ADDR_MASK = ^uint32(ICACHE_LINE_SIZE - 1) // Line tag bits of Info.
	ICACHE_USED_MASK = uint32(1 << 0)                // Line is valid.
	ICACHE_PRIV_MASK = uint32(1 << 1)                // Line was filled by a privileged fetch.
)

var _icache_defines = map[string]string{
	"ICACHE_LINE_SIZE":   fmt.Sprintf("%v", ICACHE_LINE_SIZE),
	"ICACHE_BUCKET_NUM":  fmt.Sprintf("%v", ICACHE_BUCKET_NUM),
	"ICACHE_BUCKET_SIZE": fmt.Sprintf("%v", ICACHE_BUCKET_SIZE),
}

// MemoryFunc loads (or stores) len(buf) bytes at virtual address va.
type MemoryFunc func(buf []byte, va uint32, write bool, privileged bool) (err error)

// Line is a single cache line.
type Line struct {
	Info uint32 // Tag | ICACHE_PRIV_MASK | ICACHE_USED_MASK
	Data [ICACHE_LINE_SIZE]byte
}

// Valid is true if the line holds data.
func (line *Line) Valid() bool {
	return (line.Info & ICACHE_USED_MASK) != 0
}

// Privileged is true if the line was filled by a privileged fetch.
func (line *Line) Privileged() bool {
	return (line.Info & ICACHE_PRIV_MASK) != 0
}

// Tag is the virtual address of the start of the line.
func (line *Line) Tag() uint32 {
	return line.Info & ICACHE_ADDR_MASK
}

func (line *Line) matches(base uint32) bool {
	return (line.Info & (ICACHE_ADDR_MASK | ICACHE_USED_MASK)) == (base | ICACHE_USED_MASK)
}

// Icache is the instruction cache.
type Icache struct {
	Verbose bool // If set, enables verbose logging.

	Hits   int // Fetches served from the cache.
	Misses int // Fetches that filled a line.

	memF  MemoryFunc
	lines [ICACHE_BUCKET_NUM][ICACHE_BUCKET_SIZE]Line
	ptr   [ICACHE_BUCKET_NUM]uint8
}

// NewIcache creates an empty instruction cache filled through memF.
func NewIcache(memF MemoryFunc) (ic *Icache) {
	ic = &Icache{}
	ic.Init(memF)
	return
}

// Init binds the cache to a memory function, and invalidates it.
func (ic *Icache) Init(memF MemoryFunc) {
	ic.memF = memF
	ic.Hits = 0
	ic.Misses = 0
	ic.InvalidateAll()
}

// Defines returns the name/value pairs of the cache geometry.
func (ic *Icache) Defines() iter.Seq2[string, string] {
	return maps.All(_icache_defines)
}

func icacheHash(addr uint32) int {
	addr >>= ICACHE_L
	addr &= (1 << ICACHE_S) - 1

	return int(addr)
}

// InvalidateAll drops every line.
func (ic *Icache) InvalidateAll() {
	if ic.Verbose {
		log.Printf("icache: invalidate all")
	}

	for bucket := range ic.lines {
		for n := range ic.lines[bucket] {
			ic.lines[bucket][n].Info = 0
		}
		ic.ptr[bucket] = 0
	}
}

// Invalidate drops the line holding va, if cached.
func (ic *Icache) Invalidate(va uint32) {
	va -= va % ICACHE_LINE_SIZE

	bucket := icacheHash(va)
	lines := &ic.lines[bucket]

	for n := range lines {
		if lines[n].matches(va) {
			lines[n].Info = 0
		}
	}
}

// find searches a bucket for a valid line, most recent fill first.
func (ic *Icache) find(bucket int, base uint32) (line *Line) {
	slot := int(ic.ptr[bucket])
	for range ICACHE_BUCKET_SIZE {
		slot--
		if slot < 0 {
			slot = ICACHE_BUCKET_SIZE - 1
		}
		if ic.lines[bucket][slot].matches(base) {
			line = &ic.lines[bucket][slot]
			return
		}
	}

	return
}

// Fetch reads len(buf) bytes of instructions at va. The access must
// not cross a cache line.
func (ic *Icache) Fetch(va uint32, buf []byte, privileged bool) (err error) {
	offset := va % ICACHE_LINE_SIZE
	if int(offset)+len(buf) > ICACHE_LINE_SIZE {
		err = ErrFetchSize
		return
	}

	base := va - offset
	bucket := icacheHash(base)

	line := ic.find(bucket, base)
	if line != nil {
		ic.Hits++
		copy(buf, line.Data[offset:])
		if !privileged && line.Privileged() {
			err = ErrPrivilege(va)
		}
		return
	}

	ic.Misses++

	slot := ic.ptr[bucket]
	ic.ptr[bucket]++
	if ic.ptr[bucket] == ICACHE_BUCKET_SIZE {
		ic.ptr[bucket] = 0
	}

	line = &ic.lines[bucket][slot]
	line.Info = base
	if privileged {
		line.Info |= ICACHE_PRIV_MASK
	}

	if ic.Verbose {
		log.Printf("icache: fill 0x%08x (bucket %v slot %v)", base, bucket, slot)
	}

	err = ic.memF(line.Data[:], base, false, privileged)
	if err != nil {
		return
	}
	line.Info |= ICACHE_USED_MASK

	copy(buf, line.Data[offset:])
	return
}
