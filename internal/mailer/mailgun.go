package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunConfig holds the configuration for Mailgun delivery.
type MailgunConfig struct {
	Domain string
	APIKey string
}

// mailgunSender delivers through the Mailgun API.
type mailgunSender struct {
	from string
	mg   *mailgun.MailgunImpl
}

func newMailgunSender(from string, cfg MailgunConfig) (*mailgunSender, error) {
	if cfg.Domain == "" || cfg.APIKey == "" {
		return nil, errors.New("mailer: mailgun domain and api key are required")
	}
	return &mailgunSender{from: from, mg: mailgun.NewMailgun(cfg.Domain, cfg.APIKey)}, nil
}

// Send implements Sender.
func (s *mailgunSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	m := s.mg.NewMessage(s.from, msg.Subject, msg.Body, msg.To...)
	if msg.Attachment != nil {
		m.AddBufferAttachment(msg.Attachment.Filename, msg.Attachment.Content)
	}

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, _, err := s.mg.Send(sendCtx, m); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	return nil
}
