package mem

import (
	"io"
)

// Ram is a byte-backed region accessor.
type Ram struct {
	Base uint32
	Data []byte
}

var _ Accessor = (*Ram)(nil)

// NewRam allocates size bytes of zeroed RAM at base.
func NewRam(base, size uint32) (ram *Ram) {
	ram = &Ram{
		Base: base,
		Data: make([]byte, size),
	}
	return
}

// Size of the backing store.
func (ram *Ram) Size() uint32 {
	return uint32(len(ram.Data))
}

// Attach registers the RAM with a memory dispatcher.
func (ram *Ram) Attach(mem *Mem) (err error) {
	return mem.AddRegion(ram.Base, ram.Size(), ram)
}

func (ram *Ram) slice(addr uint32, size int) (data []byte, err error) {
	offset := uint64(addr) - uint64(ram.Base)
	if addr < ram.Base || offset+uint64(size) > uint64(len(ram.Data)) {
		err = ErrBounds{Address: addr, Size: size}
		return
	}

	data = ram.Data[offset : offset+uint64(size)]
	return
}

func (ram *Ram) Access(addr uint32, buf []byte, write bool) (err error) {
	data, err := ram.slice(addr, len(buf))
	if err != nil {
		return
	}

	if write {
		copy(data, buf)
	} else {
		copy(buf, data)
	}

	return
}

// Unmarshal loads an image from a reader, starting at the region base.
// Short images leave the remainder of the RAM untouched.
func (ram *Ram) Unmarshal(file io.Reader) (err error) {
	_, err = io.ReadFull(file, ram.Data)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}

	return
}

// Marshal writes the entire contents of the RAM to a writer.
func (ram *Ram) Marshal(file io.Writer) (err error) {
	_, err = file.Write(ram.Data)

	return
}

// Rom is a read-only Ram.
type Rom struct {
	Ram
}

var _ Accessor = (*Rom)(nil)

// NewRom creates a ROM at base holding a copy of data.
func NewRom(base uint32, data []byte) (rom *Rom) {
	rom = &Rom{
		Ram: Ram{
			Base: base,
			Data: append([]byte(nil), data...),
		},
	}
	return
}

// Attach registers the ROM with a memory dispatcher.
func (rom *Rom) Attach(mem *Mem) (err error) {
	return mem.AddRegion(rom.Base, rom.Size(), rom)
}

func (rom *Rom) Access(addr uint32, buf []byte, write bool) (err error) {
	if write {
		err = ErrReadOnly
		return
	}

	return rom.Ram.Access(addr, buf, false)
}
