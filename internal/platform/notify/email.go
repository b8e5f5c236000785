// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/go-mail/mail"
)

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	host     string
	port     int
	from     string
	username string
	password string
	tlsMode  string
}

// NewEmailSender creates an SMTP sender. tlsMode is "starttls", "ssl" or "none".
func NewEmailSender(host string, port int, from, username, password, tlsMode string) *EmailSender {
	return &EmailSender{
		host:     host,
		port:     port,
		from:     from,
		username: username,
		password: password,
		tlsMode:  tlsMode,
	}
}

// Send implements [Sender]. go-mail has no context support, so ctx is only
// checked before dialing.
func (sender *EmailSender) Send(ctx context.Context, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	envelope := mail.NewMessage()
	envelope.SetHeader("From", sender.from)
	envelope.SetHeader("To", message.To)
	envelope.SetHeader("Subject", message.Subject)

	// multipart/alternative when both bodies are present
	if message.Text != "" {
		envelope.SetBody("text/plain", message.Text)
	}
	if message.HTML != "" {
		if message.Text == "" {
			envelope.SetBody("text/html", message.HTML)
		} else {
			envelope.AddAlternative("text/html", message.HTML)
		}
	}

	dialer := mail.NewDialer(sender.host, sender.port, sender.username, sender.password)
	dialer.TLSConfig = &tls.Config{ServerName: sender.host, MinVersion: tls.VersionTLS12}

	switch sender.tlsMode {
	case "ssl":
		dialer.SSL = true
	case "none":
		dialer.StartTLSPolicy = mail.NoStartTLS
	default:
		dialer.StartTLSPolicy = mail.MandatoryStartTLS
	}

	if err := dialer.DialAndSend(envelope); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
