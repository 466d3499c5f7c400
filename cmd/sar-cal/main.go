// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sar-cal calibrates the offset DAC and the bit weights of a
// CryoSAR1 chip.
//
// The calibration record is printed, written to the output directory
// and optionally stored in the conditions database. Calibration
// warnings are mailed to the MAIL_TGTS recipients when mail
// credentials are available.
package main // import "github.com/go-lpc/cryosar/cmd/sar-cal"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/cryosar"
	"github.com/go-lpc/cryosar/bench"
	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/conddb"
	"github.com/go-lpc/cryosar/internal/alert"
	"github.com/go-lpc/cryosar/internal/operator"
	"github.com/go-lpc/cryosar/internal/rig"
	"github.com/go-lpc/cryosar/internal/xcfg"
)

func main() {
	var (
		fname  = flag.String("cfg", "cryosar.yml", "path to run configuration file")
		mkconf = flag.Bool("mkconf", false, "print the effective run configuration and exit")
		odir   = flag.String("o", "", "output directory (overrides configuration)")
		dbname = flag.String("db", "", "conditions database name (overrides configuration)")
		tbus   = flag.Int("tmon", -2, "SMBus of the temperature sensor, -1 to disable (overrides configuration)")
		odac   = flag.String("odac", "", "ODAC calibration method: half-p, half-n or lsb (overrides configuration)")
		noconn = flag.Bool("no-connect", false, "dry run, without any hardware")
		mail   = flag.Bool("mail", true, "mail calibration warnings")
	)

	log.SetPrefix("sar-cal: ")
	log.SetFlags(0)

	flag.Parse()

	log.Printf("running %s", cryosar.Banner("sar-cal"))

	cfg, err := xcfg.Load(*fname)
	if err != nil {
		log.Fatalf("could not load run configuration: %+v", err)
	}

	if *odir != "" {
		cfg.Odir = *odir
	}
	if *dbname != "" {
		cfg.DB = *dbname
	}
	if *tbus > -2 {
		cfg.TMon.Bus = *tbus
	}
	if *odac != "" {
		cfg.ODAC = *odac
	}
	if *noconn {
		cfg.NoConnect = true
	}

	if *mkconf {
		err = xcfg.Write(os.Stdout, cfg)
		if err != nil {
			log.Fatalf("could not write run configuration: %+v", err)
		}
		return
	}

	var mailer *alert.Mailer
	if *mail {
		mailer = alert.FromEnv()
	}

	op := operator.New()
	defer op.Close()

	err = run(cfg, op, mailer, os.Stdout)
	if err != nil {
		log.Fatalf("could not calibrate chip %q: %+v", cfg.Chip, err)
	}
}

func run(cfg xcfg.Config, op bench.Operator, mailer *alert.Mailer, stdout io.Writer) error {
	dev, err := rig.Open(cfg)
	if err != nil {
		return fmt.Errorf("could not open bench: %w", err)
	}
	defer dev.Close()

	b, err := dev.Bench(op)
	if err != nil {
		return fmt.Errorf("could not create bench: %w", err)
	}

	rec, err := b.Calibrate()
	if err != nil {
		return fmt.Errorf("could not run calibration: %w", err)
	}

	_, err = rec.WriteTo(stdout)
	if err != nil {
		return fmt.Errorf("could not print calibration record: %w", err)
	}

	fname, err := dev.Path(recordName(rec))
	if err != nil {
		return fmt.Errorf("could not create calibration file: %w", err)
	}
	err = rig.SaveRecord(fname, rec)
	if err != nil {
		return fmt.Errorf("could not save calibration record: %w", err)
	}
	log.Printf("calibration record saved to %q", fname)

	if cfg.DB != "" {
		err = store(cfg.DB, cfg.Chip, rec)
		if err != nil {
			return fmt.Errorf("could not store calibration record: %w", err)
		}
		log.Printf("calibration record stored in %q", cfg.DB)
	}

	if len(rec.Warnings) > 0 && mailer != nil {
		err = mailer.Send(alert.Warnings(cfg.Chip, rec.Warnings))
		switch {
		case errors.Is(err, alert.ErrNoCredentials):
			log.Printf("no mail credentials: calibration warnings not mailed")
		case err != nil:
			log.Printf("could not mail calibration warnings: %+v", err)
		}
	}

	return dev.Close()
}

func recordName(rec calib.Record) string {
	return "calibration_" + rec.Time.Format(calib.TimeLayout) + ".txt"
}

func store(dbname, chip string, rec calib.Record) error {
	db, err := conddb.Open(dbname)
	if err != nil {
		return fmt.Errorf("could not open conditions database: %w", err)
	}
	defer db.Close()

	err = db.SaveCalibration(context.Background(), chip, rec)
	if err != nil {
		return err
	}

	return db.Close()
}
