package mmu

import (
	"iter"
)

const (
	MMU_TLB_BUCKET_NUM  = 32 // Number of TLB hash buckets.
	MMU_TLB_BUCKET_SIZE = 4  // Entries per TLB bucket.
)

// TlbEntry is a cached translation of [Va, Va+Size) to [Pa, Pa+Size).
// An entry with zero Size is free.
type TlbEntry struct {
	Va     uint32
	Size   uint32
	Pa     uint32
	Ap     uint8
	Domain uint8
}

// Contains is true if the entry translates addr.
func (te *TlbEntry) Contains(addr uint32) bool {
	return te.Size != 0 && addr >= te.Va && addr-te.Va < te.Size
}

// Section is true if the entry was produced by a section descriptor.
func (te *TlbEntry) Section() bool {
	return te.Size == SECTION_SIZE
}

// Tlb is a fixed size, hash bucketed translation cache.
//
// Lookups start at the most recently hit or inserted slot of a bucket,
// and replacement is round-robin, independent of use.
type Tlb struct {
	entry   [MMU_TLB_BUCKET_NUM][MMU_TLB_BUCKET_SIZE]TlbEntry
	readPos [MMU_TLB_BUCKET_NUM]uint8
	replPos [MMU_TLB_BUCKET_NUM]uint8
}

// tlbHash folds a 1K granular address into a bucket index.
func tlbHash(addr uint32) int {
	addr >>= 10
	addr = addr ^ (addr >> 5) ^ (addr >> 10)

	return int(addr % MMU_TLB_BUCKET_NUM)
}

// Flush invalidates every entry.
func (tlb *Tlb) Flush() {
	for bucket := range tlb.entry {
		clear(tlb.entry[bucket][:])
		tlb.readPos[bucket] = 0
		tlb.replPos[bucket] = 0
	}
}

// Lookup searches the bucket of addr, newest hit first.
func (tlb *Tlb) Lookup(addr uint32) (entry TlbEntry, ok bool) {
	bucket := tlbHash(addr)
	slot := int(tlb.readPos[bucket])

	for range MMU_TLB_BUCKET_SIZE {
		candidate := &tlb.entry[bucket][slot]
		if candidate.Contains(addr) {
			tlb.readPos[bucket] = uint8(slot)
			entry = *candidate
			ok = true
			return
		}

		slot--
		if slot < 0 {
			slot = MMU_TLB_BUCKET_SIZE - 1
		}
	}

	return
}

// Insert caches entry in the bucket of addr, replacing the oldest insert.
func (tlb *Tlb) Insert(addr uint32, entry TlbEntry) {
	bucket := tlbHash(addr)
	slot := tlb.replPos[bucket]

	tlb.entry[bucket][slot] = entry
	tlb.readPos[bucket] = slot

	slot++
	if slot == MMU_TLB_BUCKET_SIZE {
		slot = 0
	}
	tlb.replPos[bucket] = slot
}

// Entries iterates over all valid entries.
func (tlb *Tlb) Entries() iter.Seq[TlbEntry] {
	return func(yield func(TlbEntry) bool) {
		for bucket := range tlb.entry {
			for _, entry := range tlb.entry[bucket] {
				if entry.Size == 0 {
					continue
				}
				if !yield(entry) {
					return
				}
			}
		}
	}
}
