// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

// Register map of the readout FPGA, relative to the lightweight
// HPS-to-FPGA bridge.
const (
	LwH2FBase = 0xff200000
	LwH2FSpan = 0x00200000

	regWire     = 0x0000 // capture control word
	regFIFOData = 0x0100 // FIFO read port
	regFIFOCSR  = 0x0200 // FIFO control and status
)

// Avalon FIFO CSR registers.
const (
	avalonFIFOLevel       = 0x00
	avalonFIFOStatus      = 0x04
	avalonFIFOEvent       = 0x08
	avalonFIFOIEnable     = 0x0c
	avalonFIFOAlmostFull  = 0x10
	avalonFIFOAlmostEmpty = 0x14
)

// Avalon FIFO status bits.
const (
	avalonFIFOStatusFull  = 1 << 0
	avalonFIFOStatusEmpty = 1 << 1
)

// Capture control words.
const (
	ctrlFrameStart   = 0x0
	ctrlFrameReset   = 0x1
	ctrlDataStart    = 0x2
	ctrlDataReset    = 0x3
	ctrlCounterStart = 0x4
	ctrlCounterReset = 0x5
)
