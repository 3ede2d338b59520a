package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nugget/penny/internal/config"
)

const dialTimeout = 30 * time.Second

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// SMTPConfig describes the outbound server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// StartTLS dials in plain text and upgrades when the server offers
	// STARTTLS. When false the connection is TLS from the start.
	StartTLS bool

	// From is used when a Message leaves From empty.
	From string
}

// SMTP sends each message over its own short-lived connection.
type SMTP struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTP creates an SMTP sender.
func NewSMTP(cfg SMTPConfig, logger *slog.Logger) *SMTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTP{cfg: cfg, logger: logger.With("component", "mailer")}
}

// Send composes m and delivers it.
func (s *SMTP) Send(ctx context.Context, m Message) error {
	if m.From == "" {
		m.From = s.cfg.From
	}
	msg, err := Compose(m)
	if err != nil {
		return err
	}

	from, err := bareAddress(m.From)
	if err != nil {
		return err
	}
	rcpts := make([]string, 0, len(m.To))
	for _, a := range m.To {
		bare, err := bareAddress(a)
		if err != nil {
			return err
		}
		rcpts = append(rcpts, bare)
	}

	if err := s.deliver(ctx, from, rcpts, msg); err != nil {
		return err
	}
	s.logger.Info("email sent", "to", rcpts, "subject", m.Subject)
	return nil
}

func (s *SMTP) deliver(ctx context.Context, from string, rcpts []string, msg []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if s.cfg.StartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	}
	if err != nil {
		return fmt.Errorf("dial SMTP %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if s.cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}

func bareAddress(s string) (string, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", s, err)
	}
	return a.Address, nil
}

// LogSender records messages in the log instead of sending them. It
// is used when no SMTP server is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the recipients and subject of m at warn level. The body,
// which may carry a reset link, is logged only at trace.
func (l LogSender) Send(ctx context.Context, m Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("smtp not configured, email not sent",
		"to", m.To, "subject", m.Subject)
	logger.Log(ctx, config.LevelTrace, "unsent email body", "to", m.To, "body", m.Body)
	return nil
}
