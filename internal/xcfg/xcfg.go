// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcfg holds the run configuration of the bench commands.
package xcfg // import "github.com/go-lpc/cryosar/internal/xcfg"

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/fpga"
	"github.com/go-lpc/cryosar/sar"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// Tone is a sine-wave stimulus.
type Tone struct {
	Freq float64 `koanf:"freq" yaml:"freq"` // frequency, in Hz
	Vpp  float64 `koanf:"vpp" yaml:"vpp"`   // amplitude, in Vpp
}

// Config is the configuration of a bench run.
type Config struct {
	Chip      string `koanf:"chip" yaml:"chip"`
	Dev       string `koanf:"dev" yaml:"dev"` // FPGA bridge device
	NoConnect bool   `koanf:"noconnect" yaml:"noconnect"`
	Odir      string `koanf:"odir" yaml:"odir"`

	SControl struct {
		Tool   string `koanf:"tool" yaml:"tool"`
		Config string `koanf:"config" yaml:"config"`
	} `koanf:"scontrol" yaml:"scontrol"`

	AWG struct {
		Addr   string        `koanf:"addr" yaml:"addr"`
		Baud   int           `koanf:"baud" yaml:"baud"`
		Settle time.Duration `koanf:"settle" yaml:"settle"`
	} `koanf:"awg" yaml:"awg"`

	TMon struct {
		Bus  int `koanf:"bus" yaml:"bus"`
		Addr int `koanf:"addr" yaml:"addr"`
	} `koanf:"tmon" yaml:"tmon"`

	DB string `koanf:"db" yaml:"db"`

	Samples int     `koanf:"samples" yaml:"samples"`
	Mult    int     `koanf:"mult" yaml:"mult"` // acquisitions averaged per weight measurement
	ODAC    string  `koanf:"odac" yaml:"odac"` // ODAC calibration method
	FS      float64 `koanf:"fs" yaml:"fs"`     // sample rate, in Hz
	Tones   []Tone  `koanf:"tones" yaml:"tones"`
}

// Default returns the default run configuration.
func Default() Config {
	var cfg Config
	cfg.Chip = "cryosar1"
	cfg.Dev = "/dev/mem"
	cfg.Odir = "./output"
	cfg.SControl.Tool = "./../SControl/SControl.py"
	cfg.SControl.Config = "./../SControl/config/CryoSAR1.cfg"
	cfg.AWG.Addr = ""
	cfg.AWG.Baud = 9600
	cfg.AWG.Settle = 2 * time.Second
	cfg.TMon.Bus = -1
	cfg.TMon.Addr = 0x48
	cfg.Samples = fpga.FIFODepth
	cfg.Mult = calib.Mult
	cfg.ODAC = calib.ODACHalfP.String()
	cfg.FS = fpga.SerRate / fpga.SerWidth
	cfg.Tones = []Tone{
		{Freq: bench.Tone1MHz.Freq, Vpp: bench.Tone1MHz.Vpp},
		{Freq: bench.Tone8MHz.Freq, Vpp: bench.Tone8MHz.Vpp},
	}
	return cfg
}

// Load loads the run configuration from the YAML file fname on top of
// the defaults. A missing file is not an error.
func Load(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("xcfg: could not load defaults: %w", err)
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), yaml.Parser())
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// use defaults.
		case err != nil:
			return Config{}, fmt.Errorf("xcfg: could not load %q: %w", fname, err)
		}
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("xcfg: could not decode configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration values are usable.
func (cfg Config) Validate() error {
	switch {
	case cfg.Samples < 1 || cfg.Samples > fpga.FIFODepth:
		return fmt.Errorf("xcfg: invalid number of samples %d: %w", cfg.Samples, sar.ErrRange)
	case cfg.Mult < 1:
		return fmt.Errorf("xcfg: invalid number of batches %d: %w", cfg.Mult, sar.ErrRange)
	case !(cfg.FS > 0):
		return fmt.Errorf("xcfg: invalid sample rate %g: %w", cfg.FS, sar.ErrRange)
	}
	_, err := calib.ParseODACMethod(cfg.ODAC)
	if err != nil {
		return fmt.Errorf("xcfg: invalid ODAC method: %w", err)
	}
	for i, tone := range cfg.Tones {
		if !(tone.Freq > 0) || !(tone.Vpp > 0) {
			return fmt.Errorf("xcfg: invalid tone %d (%+v): %w", i, tone, sar.ErrRange)
		}
	}
	return nil
}

// Write writes cfg as YAML to w.
func Write(w io.Writer, cfg Config) error {
	err := yml.NewEncoder(w).Encode(cfg)
	if err != nil {
		return fmt.Errorf("xcfg: could not encode configuration: %w", err)
	}
	return nil
}

// Tone returns the i-th tone of the configuration.
func (cfg Config) Tone(i int) (bench.Tone, error) {
	if i < 0 || i >= len(cfg.Tones) {
		return bench.Tone{}, fmt.Errorf("xcfg: invalid tone index %d (tones=%d): %w", i, len(cfg.Tones), sar.ErrRange)
	}
	return bench.Tone{Freq: cfg.Tones[i].Freq, Vpp: cfg.Tones[i].Vpp}, nil
}
