// Package smtpout delivers the rendered digest through an SMTP submission.
package smtpout

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"NewsDigest/internal/config"
	"NewsDigest/internal/ports"
)

// Dispatcher sends one HTML digest per run. There is exactly one send
// attempt and no retry: the transport is not idempotent and a retry could
// deliver the digest twice.
type Dispatcher struct {
	cfg       config.SMTPConfig
	recipient string
	timeout   time.Duration
	logger    *slog.Logger
}

var _ ports.Dispatcher = (*Dispatcher)(nil)

// New wires the outbound account and recipient.
func New(cfg config.SMTPConfig, recipient string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg, recipient: recipient, timeout: timeout, logger: logger}
}

// Send submits the digest and waits for the server's final response, bounded
// by the configured timeout.
func (d *Dispatcher) Send(ctx context.Context, subject, html string) error {
	message := d.buildMessage(subject, html)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.submit(message)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send digest: %w", err)
		}
		if d.logger != nil {
			d.logger.Info("digest delivered", "recipient", d.recipient)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send digest: %w", ctx.Err())
	}
}

func (d *Dispatcher) submit(message string) error {
	auth := sasl.NewPlainClient("", d.cfg.Username, d.cfg.Password)
	from := d.cfg.Username
	to := []string{d.recipient}
	reader := strings.NewReader(message)

	if d.cfg.ImplicitTLS {
		return smtp.SendMailTLS(d.cfg.Addr(), auth, from, to, reader)
	}
	return smtp.SendMail(d.cfg.Addr(), auth, from, to, reader)
}

func (d *Dispatcher) buildMessage(subject, html string) string {
	from := d.cfg.Username
	if d.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", d.cfg.FromName, d.cfg.Username)
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", d.recipient))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(html)
	return msg.String()
}
