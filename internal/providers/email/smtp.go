package email

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg  Config
	now  func() time.Time
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewSMTP(cfg Config) *SMTPProvider {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &SMTPProvider{cfg: cfg, now: time.Now, dial: dialer.DialContext}
}

func (p *SMTPProvider) SendEmail(ctx context.Context, to, subject, bodyText, bodyHTML string) error {
	if strings.TrimSpace(p.cfg.Host) == "" || strings.TrimSpace(p.cfg.From) == "" {
		return ErrNotConfigured
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("email recipient is empty")
	}

	msg, err := buildMessage(p.cfg.From, to, subject, bodyText, bodyHTML, p.now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.port()))
	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if p.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(p.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func (p *SMTPProvider) port() int {
	if p.cfg.Port <= 0 {
		return 587
	}
	return p.cfg.Port
}

// buildMessage renders a multipart/alternative message with text and HTML parts.
func buildMessage(from, to, subject, bodyText, bodyHTML string, now time.Time) ([]byte, error) {
	boundary, err := newBoundary()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	parts := []struct {
		contentType string
		body        string
	}{
		{contentType: "text/plain; charset=\"UTF-8\"", body: bodyText},
		{contentType: "text/html; charset=\"UTF-8\"", body: bodyHTML},
	}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", part.contentType)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func newBoundary() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "costwatch-" + hex.EncodeToString(raw), nil
}
