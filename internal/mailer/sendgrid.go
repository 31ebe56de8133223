package mailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridConfig holds the configuration for SendGrid delivery.
type SendGridConfig struct {
	APIKey string
}

// sendGridSender delivers through the SendGrid v3 API.
type sendGridSender struct {
	from   string
	client *sendgrid.Client
}

func newSendGridSender(from string, cfg SendGridConfig) (*sendGridSender, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("mailer: sendgrid api key is required")
	}
	return &sendGridSender{from: from, client: sendgrid.NewSendClient(cfg.APIKey)}, nil
}

// Send implements Sender.
func (s *sendGridSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", s.from))
	m.Subject = msg.Subject
	m.AddContent(mail.NewContent("text/plain", msg.Body))

	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)

	if msg.Attachment != nil {
		a := mail.NewAttachment()
		a.SetFilename(msg.Attachment.Filename)
		a.SetType(msg.Attachment.ContentType)
		a.SetContent(base64.StdEncoding.EncodeToString(msg.Attachment.Content))
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.SendWithContext(sendCtx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
