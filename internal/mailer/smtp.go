package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
)

// SMTPConfig holds the configuration for plain SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

// smtpSender delivers through a plain SMTP relay using net/smtp.
type smtpSender struct {
	from string
	cfg  SMTPConfig
}

func newSMTPSender(from string, cfg SMTPConfig) (*smtpSender, error) {
	if cfg.Host == "" || cfg.Port == "" {
		return nil, errors.New("mailer: smtp host and port are required")
	}
	return &smtpSender{from: from, cfg: cfg}, nil
}

// Send implements Sender.
func (s *smtpSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	payload := buildMIME(s.from, msg)
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)

	// net/smtp has no context support; run the dial in a goroutine so a
	// cancelled context does not leave the caller blocked.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.from, msg.To, payload)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}

const mimeBoundary = "bulk-pipeline-boundary"

// buildMIME assembles an RFC 2045 multipart/mixed message with an optional
// base64 attachment.
func buildMIME(from string, msg Message) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.Attachment == nil {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.Body)
		b.WriteString("\r\n")
		return b.Bytes()
	}

	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mimeBoundary)

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")

	contentType := msg.Attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	fmt.Fprintf(&b, "--%s\r\n", mimeBoundary)
	fmt.Fprintf(&b, "Content-Type: %s; name=%q\r\n", contentType, msg.Attachment.Filename)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", msg.Attachment.Filename)

	encoded := base64.StdEncoding.EncodeToString(msg.Attachment.Content)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", mimeBoundary)
	return b.Bytes()
}
