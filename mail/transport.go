package mail

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
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SMTPTransport delivers mail through an SMTP server, upgrading to TLS with
// STARTTLS whenever the server offers it.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// TLSConfig overrides the STARTTLS configuration. Nil means verify
	// against Host.
	TLSConfig *tls.Config
}

func (t *SMTPTransport) addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// dial opens an SMTP session that is ready for MAIL FROM: greeted, upgraded to
// TLS when possible and authenticated when credentials are set.
func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP server %s: %w", t.addr(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start SMTP session: %w", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		cfg := t.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}
		}
		if err := c.StartTLS(cfg); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if t.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			c.Close()
			return nil, errors.New("SMTP server does not support authentication")
		}
		if err := c.Auth(smtp.PlainAuth("", t.Username, t.Password, t.Host)); err != nil {
			c.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	return c, nil
}

// Verify checks that the server is reachable and accepts the credentials.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	return c.Quit()
}

// Send delivers msg.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("message has no recipient")
	}
	body, err := buildMIME(t.From, msg)
	if err != nil {
		return err
	}

	c, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Mail(t.From); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected: %w", err)
	}
	return c.Quit()
}

// buildMIME encodes msg as a multipart/alternative message with a plain-text
// and an HTML part.
func buildMIME(from string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ key, value string }{
		{"From", from},
		{"To", strings.Join(msg.To, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from))},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary())},
	}
	var head bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&head, "%s: %s\r\n", h.key, h.value)
	}
	head.WriteString("\r\n")

	for _, part := range []struct{ contentType, content string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build message part: %w", err)
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("failed to encode message part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode message part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return append(head.Bytes(), buf.Bytes()...), nil
}

func domainOf(address string) string {
	if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
		return strings.Trim(address[at+1:], "> ")
	}
	return "localhost"
}

// LogTransport writes mails to the log instead of sending them. It is meant
// for development setups without an SMTP server; bodies, which contain the
// action links, are only logged at debug level.
type LogTransport struct {
	Logger *logrus.Logger
}

// Send logs msg.
func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := t.Logger.WithFields(logrus.Fields{
		"to":      strings.Join(msg.To, ", "),
		"subject": msg.Subject,
	})
	entry.Info("Mail not sent, no SMTP server configured")
	entry.WithField("body", msg.Text).Debug("Mail content")
	return nil
}
