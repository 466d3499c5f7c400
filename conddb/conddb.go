// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb stores and retrieves the calibration records of CryoSAR
// chips in the conditions database.
package conddb // import "github.com/go-lpc/cryosar/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/sar"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// ErrNotFound is returned when no calibration record matches a query.
var ErrNotFound = errors.New("conddb: no calibration record")

// DB exposes convenience methods to store and retrieve calibration
// records from the conditions database.
type DB struct {
	db   *sql.DB
	name string // name of the conditions database
}

// Open opens a connection to the conditions database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// SaveCalibration stores the calibration record rec of chip.
func (db *DB) SaveCalibration(ctx context.Context, chip string, rec calib.Record) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	temp := sql.NullFloat64{
		Float64: rec.Temperature,
		Valid:   !math.IsNaN(rec.Temperature),
	}

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO calibrations (chip, datetime, odac, weights, temperature, warnings)
VALUES (?, ?, ?, ?, ?, ?)
`,
		chip, rec.Time.Format(calib.TimeLayout),
		rec.Odac.String(), rec.Weights.String(),
		temp, strings.Join(rec.Warnings, "\n"),
	)
	if err != nil {
		return fmt.Errorf("conddb: could not save calibration of chip %q: %w", chip, err)
	}

	return nil
}

// LastCalibration returns the most recent calibration record of chip.
func (db *DB) LastCalibration(ctx context.Context, chip string) (calib.Record, error) {
	recs, err := db.query(
		ctx,
		chip+" last calibration",
		`
SELECT datetime, odac, weights, temperature, warnings FROM calibrations
WHERE chip=?
ORDER BY datetime DESC LIMIT 1
`,
		chip,
	)
	if err != nil {
		return calib.Record{}, err
	}
	if len(recs) == 0 {
		return calib.Record{}, fmt.Errorf("conddb: could not find calibration of chip %q: %w", chip, ErrNotFound)
	}
	return recs[0], nil
}

// Calibrations returns the calibration history of chip, most recent
// first.
func (db *DB) Calibrations(ctx context.Context, chip string) ([]calib.Record, error) {
	return db.query(
		ctx,
		chip+" calibrations",
		`
SELECT datetime, odac, weights, temperature, warnings FROM calibrations
WHERE chip=?
ORDER BY datetime DESC
`,
		chip,
	)
}

func (db *DB) query(ctx context.Context, name, query string, args ...interface{}) ([]calib.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query %s: %w", name, err)
	}
	defer rows.Close()

	var recs []calib.Record
	for i := 0; rows.Next(); i++ {
		var (
			datetime string
			odac     string
			weights  string
			temp     sql.NullFloat64
			warnings sql.NullString
		)
		err = rows.Scan(&datetime, &odac, &weights, &temp, &warnings)
		if err != nil {
			return recs, fmt.Errorf("conddb: could not scan row %d of %s: %w", i, name, err)
		}

		rec, err := record(datetime, odac, weights, temp, warnings)
		if err != nil {
			return recs, fmt.Errorf("conddb: invalid row %d of %s: %w", i, name, err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return recs, fmt.Errorf("conddb: could not scan db for %s: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return recs, fmt.Errorf("conddb: context error while retrieving %s: %w", name, err)
	}

	return recs, nil
}

func record(datetime, odac, weights string, temp sql.NullFloat64, warnings sql.NullString) (calib.Record, error) {
	var (
		rec = calib.Record{Temperature: math.NaN()}
		err error
	)

	rec.Time, err = time.ParseInLocation(calib.TimeLayout, datetime, time.Local)
	if err != nil {
		return rec, fmt.Errorf("could not parse time %q: %w", datetime, err)
	}

	rec.Odac, err = sar.ParseOdac(odac)
	if err != nil {
		return rec, err
	}

	rec.Weights, err = sar.ParseWeights(weights)
	if err != nil {
		return rec, err
	}

	if temp.Valid {
		rec.Temperature = temp.Float64
	}
	if warnings.Valid && warnings.String != "" {
		rec.Warnings = strings.Split(warnings.String, "\n")
	}

	return rec, nil
}
