// Package email delivers one-time codes and signing notices over SMTP,
// the out-of-band channel for guest verification.
package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"lexsign/internal/config"
)

// Sender is the delivery interface the services depend on.
type Sender interface {
	SendOTP(to, signerName, documentName, otp string) error
	SendDeclineNotice(to, signerName, documentName string) error
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	cfg    config.SMTPConfig
	server string
	auth   smtp.Auth
}

// NewSMTPSender creates a sender from SMTP config.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		cfg:    cfg,
		server: cfg.Host + ":" + cfg.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured.
func (s *SMTPSender) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.Port != "" && s.cfg.From != ""
}

// SendOTP delivers a verification code for a pending signature request.
func (s *SMTPSender) SendOTP(to, signerName, documentName, otp string) error {
	subject := "Your verification code"
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\n"+
			"Your verification code for signing %q is: %s\r\n\r\n"+
			"The code expires shortly. If you did not request it, ignore this message.\r\n",
		signerName, documentName, otp,
	)
	return s.send([]string{to}, subject, body)
}

// SendDeclineNotice informs the inviting party that a signer declined.
func (s *SMTPSender) SendDeclineNotice(to, signerName, documentName string) error {
	subject := "Signature declined"
	body := fmt.Sprintf(
		"%s has declined to sign %q.\r\n",
		signerName, documentName,
	)
	return s.send([]string{to}, subject, body)
}

func (s *SMTPSender) send(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.cfg.From, to, msg)
}
