package icache

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezrec/uarm/mmu"
)

var errAbort = errors.New("abort")

type mockMemory struct {
	fills      []uint32
	privileged []bool
	fail       map[uint32]bool
}

func (mm *mockMemory) memF(buf []byte, va uint32, write bool, privileged bool) error {
	mm.fills = append(mm.fills, va)
	mm.privileged = append(mm.privileged, privileged)
	if mm.fail[va] {
		return errAbort
	}
	for n := range buf {
		buf[n] = byte(va>>8) + byte(n)
	}
	return nil
}

func TestIcache_Fetch(t *testing.T) {
	assert := assert.New(t)

	mm := &mockMemory{}
	ic := NewIcache(mm.memF)

	buf := make([]byte, 4)
	assert.NoError(ic.Fetch(0x1234, buf, true))
	assert.Equal([]byte{0x16, 0x17, 0x18, 0x19}, buf)
	assert.Equal([]uint32{0x1230}, mm.fills)
	assert.Equal([]bool{true}, mm.privileged)

	table := [](struct {
		va   uint32
		size int
		data []byte
	}){
		{0x1230, 4, []byte{0x12, 0x13, 0x14, 0x15}},
		{0x123c, 4, []byte{0x1e, 0x1f, 0x20, 0x21}},
		{0x123e, 2, []byte{0x20, 0x21}},
		{0x1231, 1, []byte{0x13}},
	}

	for _, entry := range table {
		buf := make([]byte, entry.size)
		assert.NoError(ic.Fetch(entry.va, buf, true))
		assert.Equal(entry.data, buf)
	}

	assert.Len(mm.fills, 1)
	assert.Equal(len(table), ic.Hits)
	assert.Equal(1, ic.Misses)
}

func TestIcache_FetchSize(t *testing.T) {
	assert := assert.New(t)

	mm := &mockMemory{}
	ic := NewIcache(mm.memF)

	buf := make([]byte, 4)
	assert.Equal(ErrFetchSize, ic.Fetch(ICACHE_LINE_SIZE-2, buf, true))
	assert.Empty(mm.fills)
}

func TestIcache_Privilege(t *testing.T) {
	assert := assert.New(t)

	mm := &mockMemory{}
	ic := NewIcache(mm.memF)

	buf := make([]byte, 4)
	assert.NoError(ic.Fetch(0x8000, buf, true))

	err := ic.Fetch(0x8000, buf, false)
	assert.Equal(ErrPrivilege(0x8000), err)

	var fault mmu.Fault
	assert.True(errors.As(err, &fault))
	assert.Equal(mmu.FAULT_SUBPAGE_PERMISSION, fault)

	// The line is still valid: no refill for either privilege level.
	assert.NoError(ic.Fetch(0x8004, buf, true))
	assert.Equal(ErrPrivilege(0x8008), ic.Fetch(0x8008, buf, false))
	assert.Len(mm.fills, 1)

	// Lines filled unprivileged are usable by everyone.
	assert.NoError(ic.Fetch(0x9000, buf, false))
	assert.NoError(ic.Fetch(0x9000, buf, true))
	assert.Len(mm.fills, 2)
	assert.Equal([]bool{true, false}, mm.privileged)
}

func TestIcache_FillError(t *testing.T) {
	assert := assert.New(t)

	mm := &mockMemory{fail: map[uint32]bool{0x4000: true}}
	ic := NewIcache(mm.memF)

	buf := make([]byte, 2)
	assert.Equal(errAbort, ic.Fetch(0x4002, buf, false))
	assert.Equal(errAbort, ic.Fetch(0x4002, buf, false))
	assert.Len(mm.fills, 2)

	delete(mm.fail, 0x4000)
	assert.NoError(ic.Fetch(0x4002, buf, false))
	assert.NoError(ic.Fetch(0x4002, buf, false))
	assert.Len(mm.fills, 3)
}

func TestIcache_Invalidate(t *testing.T) {
	assert := assert.New(t)

	mm := &mockMemory{}
	ic := NewIcache(mm.memF)

	buf := make([]byte, 4)
	assert.NoError(ic.Fetch(0x1000, buf, false))
	assert.NoError(ic.Fetch(0x1010, buf, false))
	assert.Len(mm.fills, 2)

	ic.Invalidate(0x100c)
	assert.NoError(ic.Fetch(0x1010, buf, false))
	assert.Len(mm.fills, 2)
	assert.NoError(ic.Fetch(0x1000, buf, false))
	assert.Len(mm.fills, 3)

	ic.InvalidateAll()
	assert.NoError(ic.Fetch(0x1000, buf, false))
	assert.NoError(ic.Fetch(0x1010, buf, false))
	assert.Len(mm.fills, 5)
}

func TestIcache_Eviction(t *testing.T) {
	assert := assert.New(t)

	mm := &mockMemory{}
	ic := NewIcache(mm.memF)

	// Lines that share a bucket.
	stride := uint32(ICACHE_LINE_SIZE * ICACHE_BUCKET_NUM)
	var vas []uint32
	for n := range uint32(ICACHE_BUCKET_SIZE + 1) {
		vas = append(vas, 0x2_0000+n*stride)
	}

	buf := make([]byte, 4)
	for _, va := range vas {
		assert.NoError(ic.Fetch(va, buf, false))
	}
	assert.Len(mm.fills, len(vas))

	for _, va := range vas[1:] {
		assert.NoError(ic.Fetch(va, buf, false))
	}
	assert.Len(mm.fills, len(vas))

	// The oldest fill was replaced.
	assert.NoError(ic.Fetch(vas[0], buf, false))
	assert.Len(mm.fills, len(vas)+1)
	assert.Equal(vas[0], mm.fills[len(vas)])
}

func TestLine(t *testing.T) {
	assert := assert.New(t)

	line := Line{Info: 0x1230 | ICACHE_PRIV_MASK | ICACHE_USED_MASK}
	assert.True(line.Valid())
	assert.True(line.Privileged())
	assert.Equal(uint32(0x1230), line.Tag())
	assert.True(line.matches(0x1230))
	assert.False(line.matches(0x1240))

	line.Info &^= ICACHE_USED_MASK
	assert.False(line.Valid())
	assert.False(line.matches(0x1230))
}
