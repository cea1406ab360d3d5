package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("company-scraper/notify")

type EmailConfig struct {
	Server   string
	Port     int
	Address  string
	Password string
	To       []string
}

// Email sends notifications over SMTP.
type Email struct {
	config EmailConfig
	send   func(addr string, auth smtp.Auth, mail *email.Email) error
}

func NewEmail(config EmailConfig) *Email {
	return &Email{
		config: config,
		send: func(addr string, auth smtp.Auth, mail *email.Email) error {
			return mail.Send(addr, auth)
		},
	}
}

func (e *Email) Notify(ctx context.Context, title, body string) error {
	_, span := tracer.Start(ctx, "notify.Email")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Company Scraper <%s>", e.config.Address)
	mail.To = e.config.To
	mail.Subject = title
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)

	err := e.send(addr, smtp.PlainAuth("", e.config.Address, e.config.Password, e.config.Server), mail)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(addr, nil, mail)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return fmt.Errorf("failed to send notification email: %w", err)
	}

	return nil
}
