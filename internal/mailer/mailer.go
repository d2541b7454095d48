package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/JonasLeetTheWay/encore/internal/models"

	"gopkg.in/gomail.v2"
)

const (
	TemplateRegistrationConfirmed = "registration_confirmed"
	TemplatePaymentConfirmed      = "payment_confirmed"
)

//go:embed templates/*.html
var templateFS embed.FS

type Message struct {
	To       string
	Template string
	Data     TicketData
}

type TicketData struct {
	Name       string
	EventTitle string
	StartsAt   time.Time
	Venue      string
	Location   string
	TicketCode string
	Amount     models.Money
	Currency   string
}

type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

type Renderer struct {
	templates map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template)}
	for _, name := range []string{TemplateRegistrationConfirmed, TemplatePaymentConfirmed} {
		t, err := template.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

func (r *Renderer) Render(name string, data TicketData) (subject, body string, err error) {
	t, ok := r.templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	var sb, bb bytes.Buffer
	if err := t.ExecuteTemplate(&sb, "subject", data); err != nil {
		return "", "", fmt.Errorf("failed to render subject: %w", err)
	}
	if err := t.ExecuteTemplate(&bb, "body", data); err != nil {
		return "", "", fmt.Errorf("failed to render body: %w", err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}

type SMTPMailer struct {
	dialer   *gomail.Dialer
	from     string
	renderer *Renderer
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body, err := m.renderer.Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", subject)
	gm.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	return nil
}

// LogMailer renders messages and logs them instead of sending. Used when no
// SMTP host is configured.
type LogMailer struct {
	log      *slog.Logger
	renderer *Renderer
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	subject, _, err := m.renderer.Render(msg.Template, msg.Data)
	if err != nil {
		return err
	}
	m.log.Info("email not sent, smtp disabled",
		slog.String("to", msg.To),
		slog.String("subject", subject),
		slog.String("ticket_code", msg.Data.TicketCode),
	)
	return nil
}

func New(cfg *config.Config, log *slog.Logger) (Dispatcher, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}

	if cfg.SMTPHost == "" {
		return &LogMailer{log: log, renderer: renderer}, nil
	}

	return &SMTPMailer{
		dialer:   gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:     cfg.MailFrom,
		renderer: renderer,
	}, nil
}
