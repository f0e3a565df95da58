// Package mailer delivers rendered e-mails through the configured provider.
package mailer

import (
	"context"

	"github.com/diagnosis/community-hub/pkg/config"
)

// Message is a rendered e-mail ready for delivery.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// FromConfig picks the sender for cfg: dev mode logs instead of sending,
// a MailerSend key selects the API, and SMTP is the fallback.
func FromConfig(cfg config.EmailConfig) Sender {
	switch {
	case cfg.DevMode:
		return NewDevMailer()
	case cfg.MailerSendKey != "":
		return NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.SMTPFrom)
	default:
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}
