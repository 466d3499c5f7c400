// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package operator prompts the bench operator for manual actions.
package operator // import "github.com/go-lpc/cryosar/internal/operator"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
)

// ErrAborted is returned when the operator aborts a prompt.
var ErrAborted = errors.New("operator: aborted")

// Operator prompts an operator on a terminal.
type Operator struct {
	prompt func(p string) (string, error)
	close  func() error
}

// New returns an operator prompting on the controlling terminal.
func New() *Operator {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return &Operator{
		prompt: line.Prompt,
		close:  line.Close,
	}
}

// NewFrom returns an operator reading answers from r and writing
// prompts to w.
func NewFrom(r io.Reader, w io.Writer) *Operator {
	sc := bufio.NewScanner(r)
	return &Operator{
		prompt: func(p string) (string, error) {
			_, err := io.WriteString(w, p)
			if err != nil {
				return "", err
			}
			if !sc.Scan() {
				err := sc.Err()
				if err == nil {
					err = io.EOF
				}
				return "", err
			}
			return sc.Text(), nil
		},
		close: func() error { return nil },
	}
}

// Close releases the terminal.
func (op *Operator) Close() error {
	return op.close()
}

// Confirm displays msg and waits for the operator to press ENTER.
func (op *Operator) Confirm(msg string) error {
	_, err := op.prompt(msg + " Then press ENTER. ")
	switch {
	case err == nil:
		return nil
	case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
		return ErrAborted
	default:
		return fmt.Errorf("operator: could not read answer: %w", err)
	}
}

// Ask displays question and returns the operator answer, or def if the
// answer is empty.
func (op *Operator) Ask(question, def string) (string, error) {
	p := question + ": "
	if def != "" {
		p = fmt.Sprintf("%s [%s]: ", question, def)
	}
	ans, err := op.prompt(p)
	switch {
	case err == nil:
	case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
		return "", ErrAborted
	default:
		return "", fmt.Errorf("operator: could not read answer: %w", err)
	}
	ans = strings.TrimSpace(ans)
	if ans == "" {
		ans = def
	}
	return ans, nil
}
