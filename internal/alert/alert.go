// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends e-mail alerts about calibration anomalies.
package alert // import "github.com/go-lpc/cryosar/internal/alert"

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// ErrNoCredentials is returned when the mailer is not configured.
var ErrNoCredentials = errors.New("alert: missing mail credentials")

// Mailer sends alert mails through a SMTP server.
type Mailer struct {
	Usr  string
	Pwd  string
	Srv  string
	Port int
	Tgts []string

	send func(msg *mail.Message) error
}

// FromEnv creates a mailer from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func FromEnv() *Mailer {
	m := &Mailer{
		Usr:  os.Getenv("MAIL_USERNAME"),
		Pwd:  os.Getenv("MAIL_PASSWORD"),
		Srv:  os.Getenv("MAIL_SERVER"),
		Port: atoi(os.Getenv("MAIL_PORT")),
	}
	if tgts := os.Getenv("MAIL_TGTS"); tgts != "" {
		m.Tgts = strings.Split(tgts, ",")
	}
	return m
}

// Send sends a mail with the given subject and body to all targets.
func (m *Mailer) Send(subject, body string) error {
	if m.Usr == "" || m.Pwd == "" ||
		m.Srv == "" || m.Port == 0 ||
		len(m.Tgts) == 0 {
		return ErrNoCredentials
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.Usr)
	msg.SetHeader("Bcc", m.Tgts...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	send := m.send
	if send == nil {
		send = m.dial
	}
	err := send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	return nil
}

func (m *Mailer) dial(msg *mail.Message) error {
	dial := mail.NewDialer(m.Srv, m.Port, m.Usr, m.Pwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

// Warnings formats the subject and body of an alert about the soft
// anomalies of the calibration of chip.
func Warnings(chip string, warnings []string) (subject, body string) {
	subject = fmt.Sprintf("[cryosar] %s: %d calibration warning(s)", chip, len(warnings))
	o := new(strings.Builder)
	fmt.Fprintf(o, "chip: %s\n", chip)
	for _, msg := range warnings {
		fmt.Fprintf(o, "- %s\n", msg)
	}
	return subject, o.String()
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
