// Package mail renders and sends the account emails: welcome, email
// confirmation and password reset.
//
// Rendering and delivery are split. Mailer turns a message kind into subject,
// HTML and plain-text bodies; a Transport delivers it. SMTPTransport is used
// in deployments and LogTransport when no SMTP server is configured.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html"
	"html/template"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/code-runner-lcs/api-template-go/apperror"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Transport delivers rendered messages.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Sender is what the authentication flows need from the mail subsystem.
// A returned error means the mail was not delivered; callers decide whether
// that matters.
type Sender interface {
	SendWelcome(ctx context.Context, to, name string) error
	SendConfirmation(ctx context.Context, to, name, token string) error
	SendPasswordReset(ctx context.Context, to, token string) error
}

// Kind names a message type. Used as a metrics label.
type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindConfirmation  Kind = "confirmation"
	KindPasswordReset Kind = "password_reset"
)

type kindSpec struct {
	file    string
	subject string
	title   string
	accent  template.CSS
}

var kinds = map[Kind]kindSpec{
	KindWelcome:       {file: "templates/welcome.html", subject: "Welcome to our platform!", title: "Welcome!", accent: "#4CAF50"},
	KindConfirmation:  {file: "templates/confirmation.html", subject: "Confirm your email address", title: "Email confirmation", accent: "#4CAF50"},
	KindPasswordReset: {file: "templates/password_reset.html", subject: "Reset your password", title: "Password reset", accent: "#2196F3"},
}

type templateData struct {
	Title    string
	Accent   template.CSS
	Name     string
	URL      string
	Validity string
	Year     int
}

// Mailer implements Sender on top of a Transport.
type Mailer struct {
	transport   Transport
	frontendURL string
	linkTTL     time.Duration
	now         func() time.Time
	templates   map[Kind]*template.Template
}

// NewMailer parses the embedded templates. frontendURL is the base of the
// links put in confirmation and reset mails; linkTTL is only displayed.
func NewMailer(transport Transport, frontendURL string, linkTTL time.Duration) (*Mailer, error) {
	if _, err := url.Parse(frontendURL); err != nil {
		return nil, fmt.Errorf("invalid frontend URL %q: %w", frontendURL, err)
	}

	m := &Mailer{
		transport:   transport,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		linkTTL:     linkTTL,
		now:         time.Now,
		templates:   make(map[Kind]*template.Template, len(kinds)),
	}
	for kind, def := range kinds {
		tmpl, err := template.ParseFS(templatesFS, "templates/layout.html", def.file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		m.templates[kind] = tmpl
	}
	return m, nil
}

// SendWelcome greets a freshly registered user.
func (m *Mailer) SendWelcome(ctx context.Context, to, name string) error {
	return m.send(ctx, KindWelcome, to, templateData{Name: name})
}

// SendConfirmation mails the link that confirms to's address.
func (m *Mailer) SendConfirmation(ctx context.Context, to, name, token string) error {
	return m.send(ctx, KindConfirmation, to, templateData{
		Name: name,
		URL:  m.link("/confirm-email", token),
	})
}

// SendPasswordReset mails the link that lets to choose a new password.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	return m.send(ctx, KindPasswordReset, to, templateData{
		URL: m.link("/reset-password", token),
	})
}

// render builds the message without sending it.
func (m *Mailer) render(kind Kind, to string, data templateData) (Message, error) {
	def, ok := kinds[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail kind %q", kind)
	}

	data.Title = def.title
	data.Accent = def.accent
	data.Year = m.now().Year()
	data.Validity = humanDuration(m.linkTTL)

	var buf bytes.Buffer
	if err := m.templates[kind].ExecuteTemplate(&buf, "layout", data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s mail: %w", kind, err)
	}

	body := buf.String()
	return Message{
		To:      []string{to},
		Subject: def.subject,
		HTML:    body,
		Text:    StripHTML(body),
	}, nil
}

func (m *Mailer) send(ctx context.Context, kind Kind, to string, data templateData) error {
	msg, err := m.render(kind, to, data)
	if err != nil {
		return err
	}
	if err := m.transport.Send(ctx, msg); err != nil {
		return apperror.NewExternalServiceError(fmt.Sprintf("failed to send %s mail", kind), err)
	}
	return nil
}

func (m *Mailer) link(path, token string) string {
	q := url.Values{}
	q.Set("token", token)
	return m.frontendURL + path + "?" + q.Encode()
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a limited time"
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}

var (
	styleBlock = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	htmlTag    = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// StripHTML derives the plain-text alternative of an HTML body.
func StripHTML(body string) string {
	text := styleBlock.ReplaceAllString(body, " ")
	text = htmlTag.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
