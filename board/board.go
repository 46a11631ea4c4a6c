// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package board describes a machine's memory map and page tables with a
// Starlark script.
//
// A board script adds regions to the physical address space, fills memory,
// and builds translation tables:
//
//	ram(RAM_BASE, RAM_SIZE)
//	ttb(RAM_BASE + 0x4000)
//	domain(0, DOMAIN_CLIENT)
//	section(0x00100000, RAM_BASE, ap=AP_USER_RW)
//	coarse(0x00200000, RAM_BASE + 0x8000)
//	page(0x00200000, RAM_BASE + 0x10000, PAGE_SMALL, 0xff)
//
// All of the memory system defines are available to the script as integers.
package board

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/ezrec/uarm/internal"
	"github.com/ezrec/uarm/mem"
	"github.com/ezrec/uarm/mmu"
	"github.com/ezrec/uarm/soc"
)

// word is a 32-bit script argument.
type word uint32

var _ starlark.Unpacker = (*word)(nil)

func (w *word) Unpack(v starlark.Value) (err error) {
	i, ok := v.(starlark.Int)
	if !ok {
		err = ErrValue(v.String())
		return
	}
	u, ok := i.Uint64()
	if !ok || u > 0xffff_ffff {
		err = ErrValue(v.String())
		return
	}

	*w = word(u)
	return
}

// Board runs board scripts against a memory system.
type Board struct {
	Verbose bool      // If set, enables verbose logging.
	Output  io.Writer // Destination of script print() calls.

	Soc *soc.Soc
}

// NewBoard creates a board script runner for a memory system.
func NewBoard(sc *soc.Soc) (bd *Board) {
	bd = &Board{
		Soc: sc,
	}
	return
}

// Predeclared returns the builtins and defines visible to scripts.
func (bd *Board) Predeclared() (pred starlark.StringDict) {
	pred = starlark.StringDict{}

	for key, str := range internal.IterSeq2Sorted(bd.Soc.Defines()) {
		value, err := strconv.ParseUint(str, 0, 64)
		if err != nil {
			// Ignore non-integer defines.
			continue
		}
		pred[key] = starlark.MakeUint64(value)
	}

	builtins := map[string]func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"ram":       bd.ram,
		"rom":       bd.rom,
		"poke":      bd.poke,
		"peek":      bd.peek,
		"ttb":       bd.ttb,
		"domains":   bd.domains,
		"domain":    bd.domain,
		"sr":        bd.sr,
		"section":   bd.section,
		"coarse":    bd.coarse,
		"fine":      bd.fine,
		"page":      bd.page,
		"translate": bd.translate,
	}
	for name, fn := range builtins {
		pred[name] = starlark.NewBuiltin(name, fn)
	}

	return
}

// Exec runs a board script. src may be a string, []byte or io.Reader.
func (bd *Board) Exec(name string, src any) (err error) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			if bd.Output != nil {
				fmt.Fprintln(bd.Output, msg)
			} else if bd.Verbose {
				log.Printf("board: %v", msg)
			}
		},
	}

	opts := syntax.FileOptions{
		TopLevelControl: true, // Board scripts may check their tables with if/for.
		GlobalReassign:  true,
	}
	_, err = starlark.ExecFileOptions(&opts, thread, name, src, bd.Predeclared())
	if err != nil {
		err = &ErrScript{Name: name, Err: err}
	}

	return
}

func (bd *Board) ram(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var base, size word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "base", &base, "size", &size)
	if err != nil {
		return
	}

	err = mem.NewRam(uint32(base), uint32(size)).Attach(bd.Soc.Mem)
	value = starlark.None
	return
}

// rom accepts either a bytes image, or a list of 32-bit words.
func (bd *Board) rom(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var base word
	var data starlark.Value
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "base", &base, "data", &data)
	if err != nil {
		return
	}

	var image []byte
	switch data := data.(type) {
	case starlark.Bytes:
		image = []byte(data)
	case *starlark.List:
		for n := range data.Len() {
			var w word
			err = w.Unpack(data.Index(n))
			if err != nil {
				return
			}
			image = binary.LittleEndian.AppendUint32(image, uint32(w))
		}
	default:
		err = ErrValue(data.String())
		return
	}

	err = mem.NewRom(uint32(base), image).Attach(bd.Soc.Mem)
	value = starlark.None
	return
}

func (bd *Board) poke(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var addr, data word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addr, "value", &data)
	if err != nil {
		return
	}

	err = bd.Soc.Mem.WriteWord(uint32(addr), uint32(data))
	value = starlark.None
	return
}

func (bd *Board) peek(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var addr word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addr)
	if err != nil {
		return
	}

	data, err := bd.Soc.Mem.ReadWord(uint32(addr))
	if err != nil {
		return
	}

	value = starlark.MakeUint64(uint64(data))
	return
}

func (bd *Board) ttb(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var addr word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "addr", &addr)
	if err != nil {
		return
	}

	bd.Soc.Mmu.SetTTP(uint32(addr))
	value = starlark.None
	return
}

func (bd *Board) domains(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var cfg word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "cfg", &cfg)
	if err != nil {
		return
	}

	bd.Soc.Mmu.SetDomainCfg(uint32(cfg))
	value = starlark.None
	return
}

func (bd *Board) domain(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var index, code word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "index", &index, "code", &code)
	if err != nil {
		return
	}
	if index > 15 || code > 3 {
		err = ErrValue(fmt.Sprintf("domain(%v, %v)", index, code))
		return
	}

	shift := uint32(index) * 2
	cfg := bd.Soc.Mmu.GetDomainCfg()
	cfg &^= 3 << shift
	cfg |= uint32(code) << shift
	bd.Soc.Mmu.SetDomainCfg(cfg)

	value = starlark.None
	return
}

func (bd *Board) sr(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var s, r bool
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "s", &s, "r", &r)
	if err != nil {
		return
	}

	bd.Soc.Mmu.SetS(s)
	bd.Soc.Mmu.SetR(r)
	value = starlark.None
	return
}

// setL1 writes the first level descriptor for va.
func (bd *Board) setL1(va uint32, desc uint32) (err error) {
	if !bd.Soc.Mmu.Enabled() {
		err = ErrNoTable
		return
	}

	ttb := bd.Soc.Mmu.GetTTP()
	err = bd.Soc.Mem.WriteWord(ttb+((va>>20)<<2), desc)
	if err != nil {
		return
	}

	if bd.Verbose {
		log.Printf("board: l1 0x%08x = 0x%08x", va&0xfff0_0000, desc)
	}
	return
}

func (bd *Board) section(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var va, pa word
	ap := word(mmu.AP_USER_RW)
	var domain word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "va", &va, "pa", &pa, "ap?", &ap, "domain?", &domain)
	if err != nil {
		return
	}

	desc := (uint32(pa) & 0xfff0_0000) | ((uint32(ap) & 3) << 10) | ((uint32(domain) & 0xf) << 5) | mmu.DESC_SECTION
	err = bd.setL1(uint32(va), desc)
	value = starlark.None
	return
}

func (bd *Board) coarse(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var va, table, domain word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "va", &va, "table", &table, "domain?", &domain)
	if err != nil {
		return
	}

	desc := (uint32(table) & 0xffff_fc00) | ((uint32(domain) & 0xf) << 5) | mmu.DESC_COARSE
	err = bd.setL1(uint32(va), desc)
	value = starlark.None
	return
}

func (bd *Board) fine(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var va, table, domain word
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "va", &va, "table", &table, "domain?", &domain)
	if err != nil {
		return
	}

	desc := (uint32(table) & 0xffff_f000) | ((uint32(domain) & 0xf) << 5) | mmu.DESC_FINE
	err = bd.setL1(uint32(va), desc)
	value = starlark.None
	return
}

// page writes a second level descriptor into the table that maps va,
// replicating it over every table entry the page covers. In a coarse
// table, PAGE_TINY writes an extended small page.
func (bd *Board) page(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var va, pa, kind, aps word
	aps = 0xff
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "va", &va, "pa", &pa, "kind", &kind, "aps?", &aps)
	if err != nil {
		return
	}
	value = starlark.None

	if !bd.Soc.Mmu.Enabled() {
		err = ErrNoTable
		return
	}

	l1, err := bd.Soc.Mem.ReadWord(bd.Soc.Mmu.GetTTP() + ((uint32(va) >> 20) << 2))
	if err != nil {
		return
	}

	var table, index, granule uint32
	switch l1 & 3 {
	case mmu.DESC_COARSE:
		table = l1 & 0xffff_fc00
		index = (uint32(va) >> 12) & 0xff
		granule = mmu.SMALL_PAGE_SIZE
	case mmu.DESC_FINE:
		table = l1 & 0xffff_f000
		index = (uint32(va) >> 10) & 0x3ff
		granule = mmu.TINY_PAGE_SIZE
	default:
		err = ErrNotTable
		return
	}

	var desc, size uint32
	switch kind {
	case mmu.PAGE_FAULT:
		size = granule
	case mmu.PAGE_LARGE:
		desc = (uint32(pa) & 0xffff_0000) | ((uint32(aps) & 0xff) << 4) | mmu.PAGE_LARGE
		size = mmu.LARGE_PAGE_SIZE
	case mmu.PAGE_SMALL:
		desc = (uint32(pa) & 0xffff_f000) | ((uint32(aps) & 0xff) << 4) | mmu.PAGE_SMALL
		size = mmu.SMALL_PAGE_SIZE
	case mmu.PAGE_TINY:
		if granule == mmu.SMALL_PAGE_SIZE {
			desc = (uint32(pa) & 0xffff_f000) | ((uint32(aps) & 3) << 4) | mmu.PAGE_TINY
		} else {
			desc = (uint32(pa) & 0xffff_fc00) | ((uint32(aps) & 3) << 4) | mmu.PAGE_TINY
		}
		size = granule
	default:
		err = ErrPageKind
		return
	}

	count := size / granule
	first := index &^ (count - 1)
	for n := range count {
		err = bd.Soc.Mem.WriteWord(table+(first+n)*4, desc)
		if err != nil {
			return
		}
	}

	if bd.Verbose {
		log.Printf("board: l2 0x%08x = 0x%08x (x%v)", uint32(va), desc, count)
	}
	return
}

// translate returns a (pa, fsr) tuple; fsr is zero on success.
func (bd *Board) translate(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (value starlark.Value, err error) {
	var va word
	var privileged, write bool
	err = starlark.UnpackArgs(fn.Name(), args, kwargs, "va", &va, "privileged?", &privileged, "write?", &write)
	if err != nil {
		return
	}

	pa, terr := bd.Soc.Mmu.Translate(uint32(va), privileged, write)
	var fault mmu.Fault
	if terr != nil && !errors.As(terr, &fault) {
		err = terr
		return
	}

	value = starlark.Tuple{starlark.MakeUint64(uint64(pa)), starlark.MakeInt(int(fault))}
	return
}
