// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slowctl drives the slow-control tool that programs and
// verifies the configuration of a CryoSAR1 chip.
//
// Each call to Apply programs the base configuration file with a batch
// of field overrides, as in:
//
//	SControl.py -b -o ODAC_CODE,10000101 -o CAL_EN,1 -f CryoSAR1.cfg
package slowctl // import "github.com/go-lpc/cryosar/slowctl"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-lpc/cryosar/sar"
)

// Setter applies chip configuration fields through an external tool.
type Setter struct {
	msg  *log.Logger
	tool string
	cfg  string

	noconn  bool
	timeout time.Duration
	run     func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Option configures a Setter.
type Option func(*Setter)

// WithLogger sets the logger of the setter.
func WithLogger(msg *log.Logger) Option {
	return func(s *Setter) {
		s.msg = msg
	}
}

// WithNoConnect makes the setter log the requested fields without
// running the tool.
func WithNoConnect() Option {
	return func(s *Setter) {
		s.noconn = true
	}
}

// WithTimeout sets the maximum duration of one programming cycle.
func WithTimeout(d time.Duration) Option {
	return func(s *Setter) {
		s.timeout = d
	}
}

// New returns a setter running tool on the base configuration file cfg.
func New(tool, cfg string, opts ...Option) *Setter {
	s := &Setter{
		msg:     log.New(os.Stdout, "slowctl: ", 0),
		tool:    tool,
		cfg:     cfg,
		timeout: 30 * time.Second,
		run:     run,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Args returns the command-line arguments programming fields.
func (s *Setter) Args(fields ...sar.Field) []string {
	args := make([]string, 0, 2*len(fields)+3)
	args = append(args, "-b")
	for _, f := range fields {
		args = append(args, "-o", f.String())
	}
	return append(args, "-f", s.cfg)
}

// Apply programs the base configuration with fields and verifies it.
// Apply fails with sar.ErrConfig when a field is malformed or when the
// tool reports a programming or verification failure.
func (s *Setter) Apply(fields ...sar.Field) error {
	for _, f := range fields {
		err := f.Validate()
		if err != nil {
			return fmt.Errorf("slowctl: could not apply configuration: %w", err)
		}
	}

	args := s.Args(fields...)
	if s.noconn {
		s.msg.Printf("%s %s", s.tool, strings.Join(args, " "))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.run(ctx, s.tool, args...)
	if err != nil {
		out = bytes.TrimSpace(out)
		if len(out) > 0 {
			s.msg.Printf("%s", out)
		}
		return fmt.Errorf(
			"slowctl: could not program %v (%v): %w",
			fields, err, sar.ErrConfig,
		)
	}
	return nil
}

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
