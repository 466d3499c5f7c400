// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/cryosar/internal/mmap"
	"github.com/go-lpc/cryosar/sar"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(lnk *MemLink, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return lnk.readU32(rw, offset)
		},
		w: func(v uint32) {
			lnk.writeU32(rw, offset, v)
		},
	}
}

// MemLink is a Link to the readout FIFO through the FPGA registers
// memory-mapped from /dev/mem.
type MemLink struct {
	mem io.Closer

	wire   reg32
	data   reg32
	level  reg32
	status reg32

	buf [4]byte
	err error
}

// OpenMemLink maps the FPGA register window of the named memory device
// (usually /dev/mem).
func OpenMemLink(fname string) (*MemLink, error) {
	h, err := mmap.Open(fname, LwH2FBase, LwH2FSpan)
	if err != nil {
		return nil, fmt.Errorf("fpga: could not mmap lw-h2f: %w", err)
	}
	lnk := newMemLink(h)
	lnk.mem = h
	return lnk, nil
}

func newMemLink(rw rwer) *MemLink {
	lnk := &MemLink{}
	lnk.wire = newReg32(lnk, rw, regWire)
	lnk.data = newReg32(lnk, rw, regFIFOData)
	lnk.level = newReg32(lnk, rw, regFIFOCSR+avalonFIFOLevel)
	lnk.status = newReg32(lnk, rw, regFIFOCSR+avalonFIFOStatus)
	return lnk
}

// Close unmaps the register window.
func (lnk *MemLink) Close() error {
	if lnk.mem == nil {
		return nil
	}
	err := lnk.mem.Close()
	lnk.mem = nil
	if err != nil {
		return fmt.Errorf("fpga: could not unmap lw-h2f: %w", err)
	}
	return nil
}

// Reset implements Link.
func (lnk *MemLink) Reset(src sar.Source) error {
	switch src {
	case sar.SourceData:
		lnk.wire.w(ctrlDataReset)
	case sar.SourceFrame:
		lnk.wire.w(ctrlFrameReset)
	case sar.SourceCounter:
		lnk.wire.w(ctrlCounterReset)
	default:
		return fmt.Errorf("fpga: invalid source %v: %w", src, sar.ErrConfig)
	}
	return lnk.err
}

// Start implements Link.
func (lnk *MemLink) Start(src sar.Source) error {
	switch src {
	case sar.SourceData:
		lnk.wire.w(ctrlDataStart)
	case sar.SourceFrame:
		lnk.wire.w(ctrlFrameStart)
	case sar.SourceCounter:
		lnk.wire.w(ctrlCounterStart)
	default:
		return fmt.Errorf("fpga: invalid source %v: %w", src, sar.ErrConfig)
	}
	return lnk.err
}

// ReadFIFO implements Link.
// Each FIFO word is 32-bit wide and carries a sample word in its
// lower 16 bits.
func (lnk *MemLink) ReadFIFO(p []uint16) error {
	for i := range p {
		p[i] = uint16(lnk.data.r())
	}
	return lnk.err
}

// Level implements Leveler.
func (lnk *MemLink) Level() (int, error) {
	v := lnk.level.r()
	return int(v), lnk.err
}

// Empty reports whether the FIFO status register flags an empty FIFO.
func (lnk *MemLink) Empty() (bool, error) {
	v := lnk.status.r()
	return v&avalonFIFOStatusEmpty != 0, lnk.err
}

func (lnk *MemLink) readU32(r io.ReaderAt, off int64) uint32 {
	if lnk.err != nil {
		return 0
	}
	_, lnk.err = r.ReadAt(lnk.buf[:4], off)
	if lnk.err != nil {
		lnk.err = fmt.Errorf("fpga: could not read register 0x%x: %w", off, lnk.err)
		return 0
	}
	return binary.LittleEndian.Uint32(lnk.buf[:4])
}

func (lnk *MemLink) writeU32(w io.WriterAt, off int64, v uint32) {
	if lnk.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(lnk.buf[:4], v)
	_, lnk.err = w.WriteAt(lnk.buf[:4], off)
	if lnk.err != nil {
		lnk.err = fmt.Errorf("fpga: could not write register 0x%x: %w", off, lnk.err)
		return
	}
}

var (
	_ Link    = (*MemLink)(nil)
	_ Leveler = (*MemLink)(nil)
)
