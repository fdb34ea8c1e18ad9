package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/domodwyer/mailyak/v3"
)

// Message is a single outgoing email
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends email messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPMailer sends mail through an SMTP relay using mailyak
type SMTPMailer struct {
	addr     string
	auth     smtp.Auth
	from     string
	fromName string
}

// NewSMTPMailer creates a mailer for the given relay. Authentication is
// skipped when no username is configured.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     cfg.From,
		fromName: cfg.FromName,
	}
}

func (m *SMTPMailer) compose(msg Message) (*mailyak.MailYak, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("email recipient is required")
	}

	mail := mailyak.New(m.addr, m.auth)
	mail.To(msg.To)
	mail.From(m.from)
	mail.FromName(m.fromName)
	mail.Subject(msg.Subject)
	if msg.HTML != "" {
		mail.HTML().Set(msg.HTML)
	}
	if msg.Text != "" {
		mail.Plain().Set(msg.Text)
	}
	return mail, nil
}

// Render returns the MIME encoding of msg without sending it
func (m *SMTPMailer) Render(msg Message) (*bytes.Buffer, error) {
	mail, err := m.compose(msg)
	if err != nil {
		return nil, err
	}
	return mail.MimeBuf()
}

// Send delivers msg. The SMTP exchange itself has no context support, so a
// cancelled ctx returns early and the exchange finishes in the background.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mail, err := m.compose(msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- mail.Send()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email to %s not confirmed: %w", msg.To, ctx.Err())
	}
}
