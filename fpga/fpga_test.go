// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpga

import (
	"errors"
	"fmt"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/go-lpc/cryosar/sar"
)

type fakeLink struct {
	ops   []string
	words func(batch, i int) uint16
	batch int
	level int
	err   error
}

func (lnk *fakeLink) Reset(src sar.Source) error {
	lnk.ops = append(lnk.ops, "reset-"+src.String())
	return lnk.err
}

func (lnk *fakeLink) Start(src sar.Source) error {
	lnk.ops = append(lnk.ops, "start-"+src.String())
	return nil
}

func (lnk *fakeLink) ReadFIFO(p []uint16) error {
	lnk.ops = append(lnk.ops, fmt.Sprintf("read-%d", len(p)))
	for i := range p {
		p[i] = lnk.words(lnk.batch, i)
	}
	lnk.batch++
	return nil
}

type fakeLeveler struct {
	fakeLink
}

func (lnk *fakeLeveler) Level() (int, error) {
	return lnk.level, nil
}

func newTestDevice(lnk Link, opts ...Option) (*Device, *[]time.Duration) {
	var naps []time.Duration
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	dev := New(lnk, opts...)
	dev.sleep = func(d time.Duration) { naps = append(naps, d) }
	return dev, &naps
}

func TestTakeData(t *testing.T) {
	lnk := &fakeLink{
		words: func(batch, i int) uint16 {
			// valid bit + (batch,i) pattern over the 15 data bits.
			return 0x8000 | uint16(batch<<8) | uint16(i&0xff)
		},
	}
	dev, naps := newTestDevice(lnk, WithWorkers(3))

	const (
		n    = 1000
		mult = 3
	)
	b, err := dev.TakeData(sar.SourceData, n, &sar.DefaultWeights, false, mult)
	if err != nil {
		t.Fatalf("could not take data: %+v", err)
	}

	if got, want := b.Len(), n*mult; got != want {
		t.Fatalf("invalid number of samples: got=%d, want=%d", got, want)
	}

	for k := 0; k < mult; k++ {
		for i := 0; i < n; i++ {
			j := k*n + i
			raw := lnk.words(k, i)
			if b.Raw[j] != raw {
				t.Fatalf("invalid raw word[%d]: got=0x%04x, want=0x%04x", j, b.Raw[j], raw)
			}
			want, _ := sar.Decode(raw, &sar.DefaultWeights, false)
			if b.Codes[j] != want {
				t.Fatalf("invalid code[%d]: got=%v, want=%v", j, b.Codes[j], want)
			}
		}
	}

	wantOps := []string{
		"reset-data", "start-data", "read-1000",
		"reset-data", "start-data", "read-1000",
		"reset-data", "start-data", "read-1000",
	}
	if !reflect.DeepEqual(lnk.ops, wantOps) {
		t.Fatalf("invalid link operations:\ngot= %q\nwant=%q", lnk.ops, wantOps)
	}

	fill := time.Duration(float64(n) * 1.2 / 25e6 * float64(time.Second))
	wantNaps := []time.Duration{
		time.Millisecond, fill,
		time.Millisecond, fill,
		time.Millisecond, fill,
	}
	if !reflect.DeepEqual(*naps, wantNaps) {
		t.Fatalf("invalid waits:\ngot= %v\nwant=%v", *naps, wantNaps)
	}
}

func TestTakeDataRawSources(t *testing.T) {
	for _, src := range []sar.Source{sar.SourceFrame, sar.SourceCounter} {
		t.Run(src.String(), func(t *testing.T) {
			lnk := &fakeLink{
				words: func(_, i int) uint16 { return uint16(8 * i) },
			}
			dev, _ := newTestDevice(lnk)

			b, err := dev.TakeData(src, 64, &sar.DefaultWeights, true, 1)
			if err != nil {
				t.Fatalf("could not take data: %+v", err)
			}
			for i, v := range b.Codes {
				if want := float64(8 * i); v != want {
					t.Fatalf("invalid raw code[%d]: got=%v, want=%v", i, v, want)
				}
			}
			if err := CheckCounter(b.Raw, 8); err != nil {
				t.Fatalf("invalid counter: %+v", err)
			}
		})
	}
}

func TestTakeDataInvalid(t *testing.T) {
	lnk := &fakeLink{
		words: func(batch, i int) uint16 {
			if batch == 1 && (i == 42 || i == 77) {
				return 0x7fff
			}
			return 0xffff
		},
	}
	dev, _ := newTestDevice(lnk, WithWorkers(4))

	b, err := dev.TakeData(sar.SourceData, 100, &sar.DefaultWeights, true, 3)
	if !errors.Is(err, sar.ErrInvalidSample) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrInvalidSample)
	}
	if b.Codes != nil || b.Raw != nil {
		t.Fatalf("data returned with invalid samples")
	}
	const want = "fpga: could not acquire batch 2/3 from data: 2/100 samples with cleared validity bit (first at index 42, word=0x7fff): sar: invalid sample"
	if got := err.Error(); got != want {
		t.Fatalf("invalid error message:\ngot= %s\nwant=%s", got, want)
	}
	if got, want := lnk.batch, 2; got != want {
		t.Fatalf("acquisition not aborted: got=%d batches, want=%d", got, want)
	}
}

func TestTakeDataRange(t *testing.T) {
	for _, tc := range []struct {
		n, mult int
	}{
		{0, 1},
		{-1, 1},
		{FIFODepth + 1, 1},
		{1, 0},
	} {
		t.Run(fmt.Sprintf("n=%d-mult=%d", tc.n, tc.mult), func(t *testing.T) {
			lnk := &fakeLink{}
			dev, _ := newTestDevice(lnk)
			_, err := dev.TakeData(sar.SourceData, tc.n, nil, false, tc.mult)
			if !errors.Is(err, sar.ErrRange) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrRange)
			}
			if len(lnk.ops) != 0 {
				t.Fatalf("hardware accessed: %q", lnk.ops)
			}
		})
	}

	dev, _ := newTestDevice(&fakeLink{})
	_, err := dev.TakeData(sar.Source(42), 10, nil, false, 1)
	if !errors.Is(err, sar.ErrConfig) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrConfig)
	}
}

func TestTakeDataFullFIFO(t *testing.T) {
	lnk := &fakeLink{words: func(_, i int) uint16 { return 0x8001 }}
	dev, _ := newTestDevice(lnk)
	b, err := dev.TakeData(sar.SourceData, FIFODepth, &sar.DefaultWeights, false, 1)
	if err != nil {
		t.Fatalf("could not take data: %+v", err)
	}
	for i, v := range b.Codes {
		if v != 1 {
			t.Fatalf("invalid code[%d]: got=%v, want=1", i, v)
		}
	}
}

func TestTakeDataNoConnect(t *testing.T) {
	for _, tc := range []struct {
		name string
		dev  *Device
	}{
		{"nil-link", New(nil, WithLogger(log.New(io.Discard, "", 0)))},
		{"option", New(&fakeLink{err: io.EOF}, WithNoConnect(), WithLogger(log.New(io.Discard, "", 0)))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.dev.TakeData(sar.SourceData, 10, &sar.DefaultWeights, true, 2)
			if err != nil {
				t.Fatalf("could not take data: %+v", err)
			}
			if got, want := b.Len(), 20; got != want {
				t.Fatalf("invalid number of samples: got=%d, want=%d", got, want)
			}
			for i, v := range b.Codes {
				if v != 0 {
					t.Fatalf("invalid sample[%d]: got=%v, want=0", i, v)
				}
			}
		})
	}
}

func TestTakeDataLinkError(t *testing.T) {
	dev, _ := newTestDevice(&fakeLink{err: io.ErrUnexpectedEOF})
	_, err := dev.TakeData(sar.SourceData, 10, nil, false, 1)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, io.ErrUnexpectedEOF)
	}
}

func TestTakeDataFill(t *testing.T) {
	newLink := func() *fakeLeveler {
		return &fakeLeveler{fakeLink{
			words: func(_, i int) uint16 { return 0x8000 },
			level: 10,
		}}
	}

	t.Run("tolerant", func(t *testing.T) {
		dev, _ := newTestDevice(newLink())
		_, err := dev.TakeData(sar.SourceData, 100, &sar.DefaultWeights, false, 1)
		if err != nil {
			t.Fatalf("could not take data: %+v", err)
		}
	})

	t.Run("strict", func(t *testing.T) {
		lnk := newLink()
		dev, _ := newTestDevice(lnk, WithStrictFill())
		_, err := dev.TakeData(sar.SourceData, 100, &sar.DefaultWeights, false, 1)
		if !errors.Is(err, sar.ErrFIFOUnderfill) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, sar.ErrFIFOUnderfill)
		}

		lnk.level = 100
		_, err = dev.TakeData(sar.SourceData, 100, &sar.DefaultWeights, false, 1)
		if err != nil {
			t.Fatalf("could not take data: %+v", err)
		}
	})
}

func TestWait(t *testing.T) {
	dev := New(nil, WithSerialization(20e6, 8))
	got := dev.Wait(FIFODepth)
	want := 15728640 * time.Nanosecond
	if d := got - want; d < -time.Nanosecond || d > time.Nanosecond {
		t.Fatalf("invalid wait: got=%v, want=%v", got, want)
	}
}
