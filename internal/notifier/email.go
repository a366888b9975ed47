package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"crouswatch/internal/watch"
)

// EmailConfig is the SMTP account used for notifications.
type EmailConfig struct {
	Host     string
	Port     int
	TLS      string // "none" | "tls" | "starttls"
	Username string
	Password string
	From     string
	FromName string
	To       []string
}

// Enabled reports whether the config is complete enough to send.
func (c EmailConfig) Enabled() bool {
	return strings.TrimSpace(c.Host) != "" && strings.TrimSpace(c.From) != "" && len(c.To) > 0
}

// EmailChannel sends multipart HTML+text mail over SMTP.
type EmailChannel struct {
	cfg  EmailConfig
	zone func() string
	now  func() time.Time
}

// NewEmailChannel builds the channel. zone labels the watched area in the
// mail heading and may be nil.
func NewEmailChannel(cfg EmailConfig, zone func() string) *EmailChannel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if zone == nil {
		zone = func() string { return "la zone surveillée" }
	}
	return &EmailChannel{cfg: cfg, zone: zone, now: time.Now}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, n watch.Notification) error {
	if !c.cfg.Enabled() {
		return errors.New("email channel not configured")
	}
	htmlBody, textBody := EmailBodies(n, c.zone())
	msg := c.buildMessage(Subject(n), htmlBody, textBody)
	return c.deliver(ctx, []byte(msg))
}

func (c *EmailChannel) buildMessage(subject, htmlBody, textBody string) string {
	from := c.cfg.From
	if c.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", c.cfg.FromName), c.cfg.From)
	}
	boundary := "crouswatch-" + uuid.NewString()

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(c.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", c.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	for _, part := range []struct{ ctype, body string }{
		{"text/plain", textBody},
		{"text/html", htmlBody},
	} {
		if part.body == "" {
			continue
		}
		fmt.Fprintf(&msg, "--%s\r\n", boundary)
		fmt.Fprintf(&msg, "Content-Type: %s; charset=\"UTF-8\"\r\n\r\n", part.ctype)
		msg.WriteString(part.body)
		msg.WriteString("\r\n")
	}
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.String()
}

func (c *EmailChannel) deliver(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	tlsConfig := &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}
	mode := strings.ToLower(strings.TrimSpace(c.cfg.TLS))

	var (
		conn net.Conn
		err  error
	)
	if mode == "tls" {
		d := &tls.Dialer{Config: tlsConfig}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("SMTP dial failed: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("SMTP client failed: %w", err)
	}
	defer client.Close()

	if mode == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}
	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}
	for _, rcpt := range c.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT failed: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("SMTP write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("SMTP close failed: %w", err)
	}
	return client.Quit()
}
