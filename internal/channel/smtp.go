package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/logger"
)

// SMTPSender delivers mail over plain SMTP with STARTTLS when the
// server offers it.
type SMTPSender struct {
	settings SMTPSettings
	now      func() time.Time
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(s SMTPSettings) *SMTPSender {
	if s.Port == 0 {
		s.Port = 587
	}
	return &SMTPSender{settings: s, now: time.Now}
}

// Send delivers a single message to its one recipient.
func (s *SMTPSender) Send(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error) {
	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.settings.Host)

	raw := buildMIME(msg, messageID)
	if err := s.deliver(ctx, msg.FromEmail, msg.To, raw); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}

	logger.Debug("smtp delivered", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Channel:   domain.ChannelSMTP,
		SentAt:    s.now(),
	}, nil
}

// Probe connects, negotiates TLS and auth, and quits without sending.
func (s *SMTPSender) Probe(ctx context.Context) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return client.Quit()
}

func (s *SMTPSender) deliver(ctx context.Context, from, to string, raw []byte) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) connect(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.settings.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		cfg := &tls.Config{ServerName: s.settings.Host, InsecureSkipVerify: s.settings.InsecureTLS}
		if err := client.StartTLS(cfg); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	if s.settings.Username != "" && s.settings.Password != "" {
		auth := &plainAuth{user: s.settings.Username, pass: s.settings.Password}
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("auth: %w", err)
		}
	}
	return client, nil
}

// buildMIME assembles a multipart/alternative message.
func buildMIME(msg *domain.OutboundEmail, messageID string) []byte {
	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", msg.FromName, msg.FromEmail)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	buf.WriteString("MIME-Version: 1.0\r\n")
	if msg.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	if msg.Text != "" {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(msg.Text)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	buf.WriteString(msg.HTML)
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

// plainAuth is smtp.PlainAuth without the TLS requirement; submission
// hosts on private networks often stay plaintext.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(*smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge")
	}
	return nil, nil
}
