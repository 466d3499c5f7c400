// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operator

import (
	"errors"
	"strings"
	"testing"
)

func TestConfirm(t *testing.T) {
	var (
		r  = strings.NewReader("\n")
		w  = new(strings.Builder)
		op = NewFrom(r, w)
	)
	defer op.Close()

	err := op.Confirm("CALIBRATION: Disable any input source.")
	if err != nil {
		t.Fatalf("could not confirm: %+v", err)
	}
	if got, want := w.String(), "CALIBRATION: Disable any input source. Then press ENTER. "; got != want {
		t.Fatalf("invalid prompt: got=%q, want=%q", got, want)
	}

	err = op.Confirm("again")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrAborted)
	}
}

func TestAsk(t *testing.T) {
	op := NewFrom(strings.NewReader("\n  cryosar1-08 \n"), new(strings.Builder))
	defer op.Close()

	for _, want := range []string{"cryosar1-07", "cryosar1-08"} {
		got, err := op.Ask("chip", "cryosar1-07")
		if err != nil {
			t.Fatalf("could not ask: %+v", err)
		}
		if got != want {
			t.Fatalf("invalid answer: got=%q, want=%q", got, want)
		}
	}

	_, err := op.Ask("chip", "")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrAborted)
	}
}
