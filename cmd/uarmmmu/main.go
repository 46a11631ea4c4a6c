// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ezrec/uarm/board"
	"github.com/ezrec/uarm/internal"
	"github.com/ezrec/uarm/soc"
)

func main() {
	var script string
	var rom string
	var ram string
	var privileged bool
	var write bool
	var fetch bool
	var defines bool
	var verbose bool

	flag.StringVar(&script, "b", "", ".star board script to run")
	flag.StringVar(&rom, "r", "", "ROM image to load at ROM_BASE")
	flag.StringVar(&ram, "m", "", "RAM image to load at RAM_BASE")
	flag.BoolVar(&privileged, "p", false, "Privileged access")
	flag.BoolVar(&write, "w", false, "Write access")
	flag.BoolVar(&fetch, "i", false, "Instruction fetch through the icache")
	flag.BoolVar(&defines, "d", false, "List the defines, and exit")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")

	flag.Parse()

	var image []byte
	if len(rom) != 0 {
		var err error
		image, err = os.ReadFile(rom)
		if err != nil {
			log.Fatalf("%v: %v", rom, err)
		}
	}

	sc, err := soc.NewSoc(image, soc.RAM_SIZE)
	if err != nil {
		log.Fatalf("%v: %v", os.Args[0], err)
	}
	sc.SetVerbose(verbose)

	if len(ram) != 0 {
		inf, err := os.Open(ram)
		if err != nil {
			log.Fatalf("%v: %v", ram, err)
		}
		defer inf.Close()

		err = sc.Ram.Unmarshal(inf)
		if err != nil {
			log.Fatalf("%v: %v", ram, err)
		}
	}

	if defines {
		for key, value := range internal.IterSeq2Sorted(sc.Defines()) {
			fmt.Printf("%v=%v\n", key, value)
		}
		return
	}

	if len(script) != 0 {
		bd := board.NewBoard(sc)
		bd.Verbose = verbose
		bd.Output = os.Stdout

		inf, err := os.Open(script)
		if err != nil {
			log.Fatalf("%v: %v", script, err)
		}
		defer inf.Close()

		err = bd.Exec(script, inf)
		if err != nil {
			log.Fatalf("%v: %v", script, err)
		}
	}

	if verbose {
		log.Printf("%v", sc.Mmu)
	}

	for _, arg := range flag.Args() {
		va, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			log.Fatalf("%v: %v", arg, err)
		}

		fmt.Println(probe(sc, uint32(va), privileged, write, fetch))
	}
}

// probe describes the result of one access at va.
// Writes are only translated; memory is left unmodified.
func probe(sc *soc.Soc, va uint32, privileged, write, fetch bool) string {
	var value uint32
	var err error
	switch {
	case fetch:
		value, err = sc.FetchWord(va, privileged)
	case write:
		// Translate only, memory is left unmodified.
	default:
		value, err = sc.Load(va, 4, privileged)
	}

	var abort *soc.ErrAbort
	if errors.As(err, &abort) {
		return fmt.Sprintf("0x%08x: %v", va, abort.Err)
	}

	pa, terr := sc.Mmu.Translate(va, privileged, write)
	if terr != nil {
		return fmt.Sprintf("0x%08x: %v", va, terr)
	}

	if err != nil {
		return fmt.Sprintf("0x%08x -> 0x%08x: %v", va, pa, err)
	}

	if write {
		return fmt.Sprintf("0x%08x -> 0x%08x", va, pa)
	}

	return fmt.Sprintf("0x%08x -> 0x%08x: 0x%08x", va, pa, value)
}
