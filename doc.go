// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cryosar holds code to characterize the CryoSAR1 cryogenic
// successive-approximation ADC.
//
// The chip is read out through an FPGA FIFO (package fpga), configured
// through an external slow-control programmer (package slowctl),
// self-calibrated (package calib) and characterized with spectral
// (package spectrum) and static-linearity (package linearity) figures
// of merit.
package cryosar // import "github.com/go-lpc/cryosar"

import (
	"runtime/debug"
	"strings"
)

// Version returns the version of cryosar and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

// Banner returns the name of a command followed by the cryosar version
// it was built from, "(devel)" when unknown.
func Banner(cmd string) string {
	v, _ := Version()
	if v == "" {
		v = "(devel)"
	}
	return cmd + " " + v
}

const modPath = "github.com/go-lpc/cryosar"

func versionOf(b *debug.BuildInfo) (version, sum string) {
	m := lookup(b)
	if m == nil {
		return "", ""
	}
	r := m.Replace
	if r == nil {
		return m.Version, m.Sum
	}
	if r.Path == "" && r.Version == "" {
		// local directory replacement.
		return m.Version + "*", ""
	}
	return strings.TrimSpace(r.Path + " " + r.Version), r.Sum
}

// lookup returns the cryosar module among the main module and its
// dependencies.
func lookup(b *debug.BuildInfo) *debug.Module {
	if b == nil {
		return nil
	}
	if b.Main.Path == modPath {
		return &b.Main
	}
	for _, m := range b.Deps {
		if m.Path == modPath {
			return m
		}
	}
	return nil
}
