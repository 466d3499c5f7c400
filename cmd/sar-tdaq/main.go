// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sar-tdaq starts a TDAQ node acquiring calibrated CryoSAR1
// waveforms.
//
// Each acquired batch is published on the /adc output as a frame
// holding the batch sequence number, the programmed ODAC code and the
// decoded samples.
package main // import "github.com/go-lpc/cryosar/cmd/sar-tdaq"

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/internal/rig"
	"github.com/go-lpc/cryosar/internal/xcfg"
	"github.com/go-lpc/cryosar/sar"
)

var (
	cfgName = flag.String("cfg", "cryosar.yml", "path to run configuration file")
	calName = flag.String("cal", "", "calibration record file (default: last record from the conditions database, or calibrate)")
)

func main() {
	cmd := flags.New()

	dev := &node{
		name:  cmd.Args[0],
		fname: *cfgName,
		cal:   *calName,
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/adc", dev.adc)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type node struct {
	name  string
	fname string // run configuration file
	cal   string // calibration record file

	mu  sync.Mutex
	cfg xcfg.Config
	rig *rig.Rig
	ctl calib.Configurer
	daq calib.Acquirer
	rec calib.Record

	n    int
	data chan []byte
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	fname := dev.fname
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
		if err := dec.Err(); err != nil {
			return fmt.Errorf("could not decode /config request: %w", err)
		}
	}

	cfg, err := xcfg.Load(fname)
	if err != nil {
		ctx.Msg.Errorf("could not load run configuration %q: %+v", fname, err)
		return fmt.Errorf("could not load run configuration %q: %w", fname, err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.cfg = cfg
	ctx.Msg.Infof("configured chip %q (samples=%d)", cfg.Chip, cfg.Samples)
	return nil
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()

	err := dev.release()
	if err != nil {
		return err
	}

	r, err := rig.Open(dev.cfg)
	if err != nil {
		ctx.Msg.Errorf("could not open bench: %+v", err)
		return fmt.Errorf("could not open bench: %w", err)
	}
	dev.rig = r

	b, err := r.Bench(nil)
	if err != nil {
		return fmt.Errorf("could not create bench: %w", err)
	}

	rec, err := r.Record(b, dev.cal)
	if err != nil {
		ctx.Msg.Errorf("could not retrieve calibration: %+v", err)
		return fmt.Errorf("could not retrieve calibration: %w", err)
	}
	for _, msg := range rec.Warnings {
		ctx.Msg.Infof("calibration warning: %s", msg)
	}

	dev.init(r.Ctl, r.Dev, rec)
	return nil
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.n = 0
	dev.data = make(chan []byte, 1024)
	return nil
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()
	err := dev.start()
	if err != nil {
		ctx.Msg.Errorf("could not start acquisition: %+v", err)
		return err
	}
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	n := dev.n
	dev.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.release()
}

func (dev *node) adc(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			raw, err := dev.acquire()
			if err != nil {
				ctx.Msg.Errorf("could not acquire batch: %+v", err)
				return err
			}
			select {
			case dev.data <- raw:
			default:
				ctx.Msg.Errorf("output queue full: dropping batch")
			}
		}
	}
}

func (dev *node) init(ctl calib.Configurer, daq calib.Acquirer, rec calib.Record) {
	dev.ctl = ctl
	dev.daq = daq
	dev.rec = rec
	dev.n = 0
	dev.data = make(chan []byte, 1024)
}

// start programs the calibrated ODAC code.
func (dev *node) start() error {
	if dev.daq == nil {
		return fmt.Errorf("node %q not initialized", dev.name)
	}
	err := dev.ctl.Apply(dev.rec.Odac.Field())
	if err != nil {
		return fmt.Errorf("could not program ODAC %q: %w", dev.rec.Odac.String(), err)
	}
	dev.n = 0
	return nil
}

// acquire takes one calibrated batch and encodes it.
func (dev *node) acquire() ([]byte, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.daq == nil {
		return nil, fmt.Errorf("node %q not initialized", dev.name)
	}
	batch, err := dev.daq.TakeData(sar.SourceData, dev.cfg.Samples, &dev.rec.Weights, false, 1)
	if err != nil {
		return nil, fmt.Errorf("could not take data: %w", err)
	}
	raw, err := encode(uint32(dev.n), dev.rec.Odac, batch.Codes)
	if err != nil {
		return nil, err
	}
	dev.n++
	return raw, nil
}

func (dev *node) release() error {
	if dev.rig == nil {
		return nil
	}
	err := dev.rig.Close()
	dev.rig = nil
	dev.ctl = nil
	dev.daq = nil
	if err != nil {
		return fmt.Errorf("could not close bench: %w", err)
	}
	return nil
}

// encode marshals a batch into an /adc frame body.
func encode(seq uint32, odac sar.Odac, codes []float64) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(seq)
	enc.WriteU32(uint32(odac))
	enc.WriteU32(uint32(len(codes)))
	for _, v := range codes {
		enc.WriteF64(v)
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode batch %d: %w", seq, err)
	}
	return buf.Bytes(), nil
}

// decode unmarshals an /adc frame body.
func decode(p []byte) (seq uint32, odac sar.Odac, codes []float64, err error) {
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	seq = dec.ReadU32()
	odac = sar.Odac(dec.ReadU32())
	codes = make([]float64, dec.ReadU32())
	for i := range codes {
		codes[i] = dec.ReadF64()
	}
	if err := dec.Err(); err != nil {
		return 0, 0, nil, fmt.Errorf("could not decode batch: %w", err)
	}
	return seq, odac, codes, nil
}
