// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tmon reads the temperature of the ADC test board from a
// TMP102-class sensor on the SMBus.
package tmon // import "github.com/go-lpc/cryosar/tmon"

import (
	"fmt"

	"github.com/go-daq/smbus"
)

const (
	DefaultBus  = 1    // default SMBus (i2c-1)
	DefaultAddr = 0x48 // default sensor address (ADD0 tied to ground)

	regTemp = 0x00 // temperature register
	lsb     = 0.0625
)

type bus interface {
	ReadWord(addr, reg uint8) (uint16, error)
	Close() error
}

// Sensor is a temperature sensor.
type Sensor struct {
	bus  bus
	addr uint8
}

// Open opens the sensor at address addr on the SMBus bus.
func Open(bus int, addr uint8) (*Sensor, error) {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("tmon: could not open SMBus %d (addr=0x%x): %w", bus, addr, err)
	}
	return &Sensor{bus: conn, addr: addr}, nil
}

// Close releases the SMBus connection.
func (s *Sensor) Close() error {
	return s.bus.Close()
}

// Temperature returns the board temperature in degrees Celsius.
func (s *Sensor) Temperature() (float64, error) {
	w, err := s.bus.ReadWord(s.addr, regTemp)
	if err != nil {
		return 0, fmt.Errorf("tmon: could not read temperature: %w", err)
	}
	return celsius(w), nil
}

// celsius converts a SMBus word read from the temperature register.
// The sensor sends its MSB first, the SMBus word is little-endian.
func celsius(w uint16) float64 {
	v := int16(w<<8 | w>>8)
	return float64(v>>4) * lsb
}
