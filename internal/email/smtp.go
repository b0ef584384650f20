// Package email sends transactional mail (test messages, invitations, password resets)
// over SMTP using the configuration stored by the admin email settings page.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Encryption modes for the SMTP connection.
const (
	EncryptionSSL  = "ssl"  // implicit TLS, usually port 465
	EncryptionTLS  = "tls"  // STARTTLS, usually port 587
	EncryptionNone = "none" // plain text
)

// Settings is a resolved SMTP configuration with the password in clear.
type Settings struct {
	Host       string
	Port       int
	Encryption string
	Username   string
	Password   string
	FromEmail  string
	FromName   string
	ReplyTo    string
}

// Message is one outbound email with text and HTML bodies.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message with the given settings.
type Sender interface {
	Send(ctx context.Context, s Settings, m Message) error
}

// SMTPSender delivers mail with net/smtp
type SMTPSender struct {
	// Timeout bounds dialing plus the whole SMTP exchange
	Timeout time.Duration
}

// Send implements Sender
func (d *SMTPSender) Send(ctx context.Context, s Settings, m Message) error {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := BuildMessage(s, m, time.Now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	tlsConfig := &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{}

	var conn net.Conn
	if s.Encryption == EncryptionSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Close()

	if s.Encryption == EncryptionTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("smtp STARTTLS: %w", err)
		}
	}

	if s.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.FromEmail); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(m.To); err != nil {
		return fmt.Errorf("smtp RCPT TO %s: %w", m.To, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	return c.Quit()
}

// BuildMessage renders m as a multipart/alternative RFC 5322 message.
func BuildMessage(s Settings, m Message, now time.Time) ([]byte, error) {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", m.To, err)
	}
	from := (&mail.Address{Name: s.FromName, Address: s.FromEmail}).String()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=utf-8", m.Text},
		{"text/html; charset=utf-8", m.HTML},
	} {
		if part.content == "" {
			continue
		}
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&out, "%s: %s\r\n", k, v) }
	header("From", from)
	header("To", m.To)
	if s.ReplyTo != "" {
		header("Reply-To", s.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// ClassifyError turns an SMTP failure into a message an administrator can act on.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	switch {
	case strings.Contains(msg, "smtp auth") || strings.Contains(msg, "535") ||
		strings.Contains(msg, "username and password not accepted"):
		return "Authentication failed. Check the username and password (Gmail requires an app password)."
	case strings.Contains(msg, "connection refused"):
		return "Connection refused. Check the SMTP host and port."
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) ||
		strings.Contains(msg, "timeout"):
		return "Connection timed out. Check the SMTP host, port and firewall."
	case strings.Contains(msg, "no such host"):
		return "SMTP host could not be resolved."
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls"):
		return "TLS negotiation failed. Check the encryption setting for this port."
	}
	return "Failed to send email: " + err.Error()
}
