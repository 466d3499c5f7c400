// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package awg controls a 33220A-class arbitrary waveform generator over
// SCPI, used as the sine-wave stimulus of the ADC.
package awg // import "github.com/go-lpc/cryosar/awg"

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-lpc/cryosar/sar"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	// DefaultPort is the SCPI raw socket port.
	DefaultPort = "5025"

	// OffVoltage is the amplitude (Vpp) programmed while the output is
	// disabled.
	OffVoltage = 0.01
)

type config struct {
	msg     *log.Logger
	baud    int
	timeout time.Duration
	retry   time.Duration
	pace    time.Duration
}

// Option configures a Generator.
type Option func(*config)

// WithLogger sets the logger of the generator.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithBaud sets the baud rate of a serial link.
func WithBaud(baud int) Option {
	return func(cfg *config) {
		cfg.baud = baud
	}
}

// WithTimeout sets the read timeout of queries.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithRetry sets the maximum time spent trying to connect.
func WithRetry(d time.Duration) Option {
	return func(cfg *config) {
		cfg.retry = d
	}
}

// WithPace sets the minimum delay between two commands.
// A zero delay disables pacing.
func WithPace(d time.Duration) Option {
	return func(cfg *config) {
		cfg.pace = d
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		msg:     log.New(os.Stdout, "awg: ", 0),
		baud:    9600,
		timeout: 5 * time.Second,
		retry:   3 * time.Second,
		pace:    50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Generator is a function generator driven over a SCPI link.
type Generator struct {
	msg  *log.Logger
	conn io.ReadWriteCloser
	r    *bufio.Reader
	lim  *rate.Limiter

	freq float64
	ampl float64
}

// Dial connects to the generator at addr, either a "tcp://host[:port]"
// address or the path to a serial device, and initializes its output
// to a disabled 1 MHz sine.
func Dial(addr string, opts ...Option) (*Generator, error) {
	cfg := newConfig(opts)

	var (
		conn io.ReadWriteCloser
		err  error
	)
	switch {
	case strings.HasPrefix(addr, "tcp://"):
		conn, err = dialTCP(strings.TrimPrefix(addr, "tcp://"), cfg)
	default:
		conn, err = serial.OpenPort(&serial.Config{
			Name:        addr,
			Baud:        cfg.baud,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
			ReadTimeout: cfg.timeout,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("awg: could not connect to %q: %w", addr, err)
	}

	gen, err := newGenerator(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return gen, nil
}

// New returns a generator talking over conn and initializes its output
// to a disabled 1 MHz sine.
func New(conn io.ReadWriteCloser, opts ...Option) (*Generator, error) {
	return newGenerator(conn, newConfig(opts))
}

func newGenerator(conn io.ReadWriteCloser, cfg config) (*Generator, error) {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.pace > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.pace), 1)
	}
	gen := &Generator{
		msg:  cfg.msg,
		conn: conn,
		r:    bufio.NewReader(conn),
		lim:  lim,
		freq: 1e6,
		ampl: OffVoltage,
	}

	err := gen.ConfigureSine(gen.freq, gen.ampl)
	if err != nil {
		return nil, err
	}
	err = gen.SetOutput(false)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func dialTCP(addr string, cfg config) (net.Conn, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}

	var conn net.Conn
	op := func() error {
		var err error
		conn, err = net.DialTimeout("tcp", addr, cfg.timeout)
		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      cfg.retry,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close closes the link to the generator.
func (gen *Generator) Close() error {
	return gen.conn.Close()
}

// ConfigureSine programs a sine wave of frequency freq (Hz) and amplitude
// vpp (Vpp) with no offset. The output state is left untouched.
func (gen *Generator) ConfigureSine(freq, vpp float64) error {
	if !(freq > 0) || !(vpp > 0) {
		return fmt.Errorf("awg: invalid sine (freq=%g Hz, ampl=%g Vpp): %w", freq, vpp, sar.ErrRange)
	}
	err := gen.send(fmt.Sprintf("APPL:SIN %f,%f,0", freq, vpp))
	if err != nil {
		return fmt.Errorf("awg: could not configure sine: %w", err)
	}
	gen.freq = freq
	gen.ampl = vpp
	return nil
}

// SetOutput enables or disables the generator output. A disabled output
// is also brought down to OffVoltage.
func (gen *Generator) SetOutput(on bool) error {
	cmds := []string{fmt.Sprintf("VOLT %f", OffVoltage), "OUTP OFF"}
	if on {
		cmds = []string{fmt.Sprintf("VOLT %f", gen.ampl), "OUTP ON"}
		gen.msg.Printf("output on: sine %g Hz, %g Vpp", gen.freq, gen.ampl)
	}
	for _, cmd := range cmds {
		err := gen.send(cmd)
		if err != nil {
			return fmt.Errorf("awg: could not set output (on=%v): %w", on, err)
		}
	}
	return nil
}

// IDN returns the identification string of the generator.
func (gen *Generator) IDN() (string, error) {
	idn, err := gen.query("*IDN?")
	if err != nil {
		return "", fmt.Errorf("awg: could not query identification: %w", err)
	}
	return idn, nil
}

func (gen *Generator) send(cmd string) error {
	err := gen.lim.Wait(context.Background())
	if err != nil {
		return err
	}
	_, err = io.WriteString(gen.conn, cmd+"\n")
	return err
}

func (gen *Generator) query(cmd string) (string, error) {
	err := gen.send(cmd)
	if err != nil {
		return "", err
	}
	resp, err := gen.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}
