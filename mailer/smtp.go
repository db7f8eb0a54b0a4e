package mailer

import (
	"context"
	"crypto/tls"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/gomail.v2"

	"github.com/goliatone/go-accounts"
)

// Encryption modes understood by SMTPConfig
const (
	EncryptionNone     = "none"
	EncryptionSSL      = "ssl"
	EncryptionStartTLS = "starttls"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	Encryption string
	ServerName string
}

// SMTPNotifier delivers notifications over SMTP
type SMTPNotifier struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	logger accounts.Logger
}

var _ accounts.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier validates cfg and prepares the dialer
func NewSMTPNotifier(cfg SMTPConfig, logger accounts.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" {
		return nil, goerrors.New("smtp host, port and sender must be configured", goerrors.CategoryValidation).
			WithTextCode("SMTP_CONFIG_INCOMPLETE")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	serverName := cfg.ServerName
	if serverName == "" {
		serverName = cfg.Host
	}

	switch strings.ToLower(cfg.Encryption) {
	case EncryptionSSL:
		dialer.SSL = true
		dialer.TLSConfig = &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	case "tls", EncryptionStartTLS:
		dialer.TLSConfig = &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	}

	if logger == nil {
		logger = nopLogger{}
	}

	return &SMTPNotifier{cfg: cfg, dialer: dialer, logger: logger}, nil
}

// Send dials the server and delivers one plain text message. It gives up
// when ctx is done, the dial itself keeps running in the background.
func (s *SMTPNotifier) Send(ctx context.Context, to, subject, body string) error {
	if strings.TrimSpace(to) == "" {
		return goerrors.New("no recipient provided", goerrors.CategoryBadInput)
	}

	m := gomail.NewMessage()
	if s.cfg.FromName != "" {
		m.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	} else {
		m.SetHeader("From", s.cfg.From)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("email delivery abandoned", "to", to, "subject", subject, "error", ctx.Err())
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryExternal, "email delivery cancelled")
	case err := <-done:
		if err != nil {
			s.logger.Error("email delivery failed", "to", to, "subject", subject, "error", err)
			return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send email")
		}
	}

	s.logger.Info("email sent", "to", to, "subject", subject)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
