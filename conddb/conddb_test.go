// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/cryosar/calib"
	"github.com/go-lpc/cryosar/internal/fakedb"
	"github.com/go-lpc/cryosar/sar"
)

func init() {
	drvName = "fakedb"
}

var (
	calWeights = sar.Weights{
		0, 1934.97674713, 1109.17049561, 636.41151428,
		363.16341553, 208.24048767, 120.19647980, 70.89272308,
		40.33333130, 24, 14, 8, 5, 3, 2, 1,
	}
	calTime = time.Date(2023, time.January, 24, 15, 4, 5, 0, time.Local)
)

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()
}

func TestSaveCalibration(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	for _, tc := range []struct {
		name string
		rec  calib.Record
		want []driver.Value
	}{
		{
			name: "calibrated",
			rec: calib.Record{
				Time:        calTime,
				Odac:        0b10000101,
				Weights:     calWeights,
				Temperature: 21.5,
			},
			want: []driver.Value{
				"cryosar1-07", "20230124_T150405", "10000101",
				calWeights.String(), 21.5, "",
			},
		},
		{
			name: "no-temperature",
			rec: calib.Record{
				Time:        calTime,
				Odac:        0,
				Weights:     sar.DefaultWeights,
				Temperature: math.NaN(),
				Warnings:    []string{"w1", "w2"},
			},
			want: []driver.Value{
				"cryosar1-07", "20230124_T150405", "00000000",
				sar.DefaultWeights.String(), nil, "w1\nw2",
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
				err := db.SaveCalibration(ctx, "cryosar1-07", tc.rec)
				if err != nil {
					t.Fatalf("could not save calibration: %+v", err)
				}

				execs := fakedb.Execs()
				if got, want := len(execs), 1; got != want {
					t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
				}
				if !strings.Contains(execs[0].Query, "INSERT INTO calibrations") {
					t.Fatalf("invalid statement: %q", execs[0].Query)
				}
				if got, want := execs[0].Args, tc.want; !reflect.DeepEqual(got, want) {
					t.Fatalf("invalid arguments:\ngot= %#v\nwant=%#v", got, want)
				}
				return nil
			})
		})
	}
}

func TestLastCalibration(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"datetime", "odac", "weights", "temperature", "warnings"},
		Values: [][]driver.Value{
			{"20230124_T150405", "10000101", calWeights.String(), 21.5, ""},
		},
	}, func(ctx context.Context) error {
		rec, err := db.LastCalibration(ctx, "cryosar1-07")
		if err != nil {
			t.Fatalf("could not retrieve last calibration: %+v", err)
		}

		want := calib.Record{
			Time:        calTime,
			Odac:        0b10000101,
			Weights:     calWeights,
			Temperature: 21.5,
		}
		if !reflect.DeepEqual(rec, want) {
			t.Fatalf("invalid last calibration:\ngot= %#v\nwant=%#v", rec, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"datetime", "odac", "weights", "temperature", "warnings"},
	}, func(ctx context.Context) error {
		_, err := db.LastCalibration(ctx, "cryosar1-99")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNotFound)
		}
		return nil
	})
}

func TestCalibrations(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"datetime", "odac", "weights", "temperature", "warnings"},
		Values: [][]driver.Value{
			{"20230124_T150405", "10000101", calWeights.String(), 21.5, nil},
			{"20230123_T090000", "11111111", sar.DefaultWeights.String(), nil, "ODAC at rail\nw2"},
		},
	}, func(ctx context.Context) error {
		recs, err := db.Calibrations(ctx, "cryosar1-07")
		if err != nil {
			t.Fatalf("could not retrieve calibrations: %+v", err)
		}
		if got, want := len(recs), 2; got != want {
			t.Fatalf("invalid number of records: got=%d, want=%d", got, want)
		}
		if got, want := recs[0].Odac, sar.Odac(0b10000101); got != want {
			t.Fatalf("invalid ODAC: got=%v, want=%v", got, want)
		}
		if got := recs[1].Temperature; !math.IsNaN(got) {
			t.Fatalf("invalid temperature: got=%v, want=NaN", got)
		}
		if got, want := recs[1].Warnings, []string{"ODAC at rail", "w2"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid warnings: got=%q, want=%q", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"datetime", "odac", "weights", "temperature", "warnings"},
		Values: [][]driver.Value{
			{"20230124_T150405", "1000010", calWeights.String(), 21.5, nil},
		},
	}, func(ctx context.Context) error {
		_, err := db.Calibrations(ctx, "cryosar1-07")
		if err == nil {
			t.Fatalf("expected an error for a malformed ODAC code")
		}
		return nil
	})
}
