// Package alerts delivers operator notifications over SMTP. Delivery is
// fire-and-forget: a failed alert is logged and dropped, never bubbled into
// the pipeline state machine.
package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
)

// Service implements interfaces.AlertService
type Service struct {
	config *common.AlertsConfig
	logger arbor.ILogger
}

// NewService creates the alert service
func NewService(config *common.AlertsConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

// IsConfigured checks whether SMTP has the minimum required settings
func (s *Service) IsConfigured() bool {
	return s.config.SMTPHost != "" && s.config.From != "" && s.config.To != ""
}

// SendAlert delivers the alert in the background. The caller's state
// transition never waits on SMTP.
func (s *Service) SendAlert(ctx context.Context, subject, body string) {
	if !s.IsConfigured() {
		s.logger.Debug().Str("subject", subject).Msg("Alerts not configured, dropping")
		return
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.send(sendCtx, subject, body); err != nil {
			s.logger.Error().
				Err(err).
				Str("subject", subject).
				Msg("Failed to send alert email")
			return
		}

		s.logger.Info().Str("subject", subject).Msg("Alert email sent")
	}()
}

func (s *Service) send(ctx context.Context, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", s.config.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.SMTPHost)
	}

	if s.config.UseTLS && s.config.SMTPPort == 465 {
		return s.sendWithTLS(addr, auth, msg.String())
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.config.From, []string{s.config.To}, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendWithTLS handles implicit-TLS SMTP servers (port 465)
func (s *Service) sendWithTLS(addr string, auth smtp.Auth, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: s.config.SMTPHost,
	})
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("SMTP client creation failed: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(s.config.To); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("message write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message close failed: %w", err)
	}

	return client.Quit()
}
