package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strings"
	"time"
)

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS  bool
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// EmailNotifier sends plain text mail with an optional PDF attachment.
type EmailNotifier struct {
	cfg       EmailConfig
	tlsConfig *tls.Config
	now       func() time.Time
}

// NewEmailNotifier creates the SMTP channel.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailNotifier{
		cfg: cfg,
		tlsConfig: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
		now: time.Now,
	}
}

func (n *EmailNotifier) Name() string { return "email" }

// Configured reports whether credentials are present.
func (n *EmailNotifier) Configured() bool {
	return n.cfg.Username != "" && n.cfg.Password != "" && n.cfg.Host != ""
}

// Notify sends msg to msg.Email.
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) error {
	if !n.Configured() {
		return ErrNotConfigured
	}
	if msg.Email == "" {
		return Permanent(errors.New("recipient email is empty"))
	}

	var attachment []byte
	if msg.AttachmentPath != "" {
		data, err := os.ReadFile(msg.AttachmentPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Permanent(fmt.Errorf("read attachment: %w", err))
		}
		attachment = data
	}

	body := n.buildMessage(msg, attachment)
	return retryOnce(ctx, n.cfg.Timeout, n.cfg.RetryBackoff, func(ctx context.Context) error {
		return classifySMTPError(n.send(ctx, msg.Email, body))
	})
}

func (n *EmailNotifier) buildMessage(msg Message, attachment []byte) []byte {
	subject := msg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	fromName := n.cfg.FromName
	if fromName == "" {
		fromName = "Drone Mining Monitoring System"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), n.cfg.Username)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Email)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	text := strings.ReplaceAll(emailBody(msg.Details), "\n", "\r\n")

	if len(attachment) == 0 {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(text)
		return b.Bytes()
	}

	boundary := fmt.Sprintf("surveyd_%d", n.now().UnixNano())
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(text)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: application/pdf; name=%q\r\n", AttachmentName)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", AttachmentName)
	encoded := base64.StdEncoding.EncodeToString(attachment)
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.Bytes()
}

func (n *EmailNotifier) send(ctx context.Context, to string, body []byte) error {
	addr := net.JoinHostPort(n.cfg.Host, fmt.Sprint(n.cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	if n.cfg.ImplicitTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: n.tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if !n.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(n.tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if err := client.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(n.cfg.Username); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// the message is accepted at this point
	_ = client.Quit()
	return nil
}

// classifySMTPError marks 5xx replies and authentication problems as
// permanent. Network errors and 4xx replies stay transient.
func classifySMTPError(err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return Permanent(err)
		}
		return err
	}
	if strings.Contains(err.Error(), "authentication") {
		return Permanent(err)
	}
	return err
}
