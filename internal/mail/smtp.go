// Package mail delivers outgoing e-mail over SMTP using go-mail.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// ErrNotConfigured is returned by Send when no SMTP host is set.
var ErrNotConfigured = errors.New("smtp is not configured")

// Attachment is a file carried by a Message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is one HTML e-mail to a single recipient.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// SMTPMailer sends messages through one SMTP relay. Authentication is used
// only when Username is set; STARTTLS is used when the server offers it.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Send delivers msg. Connection, authentication and delivery failures are
// returned unwrapped from go-mail.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if m.Host == "" {
		return ErrNotConfigured
	}
	gm, err := m.build(msg)
	if err != nil {
		return err
	}

	opts := []gomail.Option{
		gomail.WithPort(m.port()),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if m.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(m.Timeout))
	}
	if m.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.Username),
			gomail.WithPassword(m.Password),
		)
	}
	c, err := gomail.NewClient(m.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return c.DialAndSendWithContext(ctx, gm)
}

func (m *SMTPMailer) build(msg Message) (*gomail.Msg, error) {
	gm := gomail.NewMsg()
	if err := gm.From(m.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.From, err)
	}
	if err := gm.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	gm.Subject(msg.Subject)
	gm.SetDate()
	gm.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		var fo []gomail.FileOption
		if a.ContentType != "" {
			fo = append(fo, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := gm.AttachReader(a.Name, bytes.NewReader(a.Data), fo...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Name, err)
		}
	}
	return gm, nil
}

func (m *SMTPMailer) port() int {
	if m.Port == 0 {
		return 587
	}
	return m.Port
}
