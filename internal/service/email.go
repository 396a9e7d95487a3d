package service

import (
	"context"
	"fmt"

	"expedite-backend/internal/logger"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridHost = "https://api.sendgrid.com"

type sendGridMailer struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewSendGridMailer(apiKey, fromEmail, fromName string) Mailer {
	return newSendGridMailer(apiKey, sendGridHost, fromEmail, fromName)
}

func newSendGridMailer(apiKey, host, fromEmail, fromName string) *sendGridMailer {
	return &sendGridMailer{
		client:    &sendgrid.Client{Request: sendgrid.GetRequest(apiKey, "/v3/mail/send", host)},
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (m *sendGridMailer) SendTemplatedNotification(ctx context.Context, to, subject, htmlBody, caseID string) error {
	message := mail.NewV3MailInit(
		mail.NewEmail(m.fromName, m.fromEmail),
		subject,
		mail.NewEmail("", to),
		mail.NewContent("text/html", htmlBody),
	)
	if caseID != "" {
		message.SetHeader("X-Case-ID", caseID)
	}

	logger.ExternalServiceCall("sendgrid", "Send", "to", to, "case", caseID)
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		logger.ExternalServiceResult("sendgrid", "Send", err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", resp.StatusCode, resp.Body)
		logger.ExternalServiceResult("sendgrid", "Send", err)
		return err
	}
	logger.ExternalServiceResult("sendgrid", "Send", nil, "status", resp.StatusCode)
	return nil
}

// logMailer stands in when no mail provider is configured.
type logMailer struct{}

func NewLogMailer() Mailer { return logMailer{} }

func (logMailer) SendTemplatedNotification(ctx context.Context, to, subject, _, caseID string) error {
	logger.InfoContext(ctx, "Mail not sent, no provider configured", "to", to, "subject", subject, "case", caseID)
	return nil
}
