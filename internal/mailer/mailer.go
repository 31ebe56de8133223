// Package mailer delivers scheduled-export artifacts by email. A provider
// is selected by configuration: smtp, mailgun or sendgrid.
package mailer

import (
	"context"
	"errors"
	"fmt"
)

// Attachment is a file attached to an outbound message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outbound email.
type Message struct {
	To         []string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Sender delivers messages through one provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a provider.
type Config struct {
	Provider string // "smtp", "mailgun" or "sendgrid"
	From     string

	SMTP     SMTPConfig
	Mailgun  MailgunConfig
	SendGrid SendGridConfig
}

// New returns a Sender for the configured provider.
func New(cfg Config) (Sender, error) {
	if cfg.From == "" {
		return nil, errors.New("mailer: from address is required")
	}

	switch cfg.Provider {
	case "smtp":
		return newSMTPSender(cfg.From, cfg.SMTP)
	case "mailgun":
		return newMailgunSender(cfg.From, cfg.Mailgun)
	case "sendgrid":
		return newSendGridSender(cfg.From, cfg.SendGrid)
	}
	return nil, fmt.Errorf("mailer: unknown provider %q", cfg.Provider)
}

// Disabled returns a Sender that fails every send. Used when no email
// provider is configured so scheduled runs record a clear failure instead
// of the process refusing to start.
func Disabled() Sender { return disabledSender{} }

type disabledSender struct{}

func (disabledSender) Send(context.Context, Message) error {
	return errors.New("mailer: no email provider configured")
}

func validateMessage(msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("mailer: no recipients")
	}
	return nil
}
