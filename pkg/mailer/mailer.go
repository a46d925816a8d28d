// Package mailer delivers the out-of-band verification email. The auth
// service only depends on the Mailer interface; delivery details (SMTP,
// templates) stay behind it.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/beanbrew/coffeeshop-api/pkg/config"
)

// Mailer sends account emails.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, toEmail, verificationURL string) error
}

var verificationTemplate = template.Must(template.New("verification").Parse(`<html>
<body>
  <h2>Verify your email</h2>
  <p>Thanks for signing up. Click the link below to verify your email address. The link expires in 15 minutes.</p>
  <p><a href="{{.VerificationURL}}">Verify email</a></p>
  <p>If you did not create an account, you can ignore this message.</p>
</body>
</html>`))

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg config.SMTPConfig
	// send is swappable in tests; defaults to smtp.SendMail which
	// negotiates STARTTLS when the server offers it.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTP builds a mailer from SMTP config.
func NewSMTP(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// SendVerificationEmail renders and delivers the verification message.
func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, toEmail, verificationURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var body bytes.Buffer
	if err := verificationTemplate.Execute(&body, struct{ VerificationURL string }{verificationURL}); err != nil {
		return fmt.Errorf("mailer: render template: %w", err)
	}

	msg := bytes.Buffer{}
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", toEmail)
	fmt.Fprintf(&msg, "Subject: Verify your email\r\n")
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	msg.Write(body.Bytes())

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
	}

	if err := m.send(addr, auth, m.cfg.From, []string{toEmail}, msg.Bytes()); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", toEmail, err)
	}
	return nil
}

// Nop discards all mail; used when email verification is disabled.
type Nop struct{}

// SendVerificationEmail implements Mailer.
func (Nop) SendVerificationEmail(context.Context, string, string) error { return nil }
