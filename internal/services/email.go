package services

import (
	"context"
	"fmt"
	"html"

	"github.com/resend/resend-go/v2"

	"github.com/HammerMeetNail/globenis/internal/config"
	"github.com/HammerMeetNail/globenis/internal/logging"
)

type resendSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailService sends transactional mail through Resend, or writes it to the
// log when the provider is "console".
type EmailService struct {
	cfg    *config.EmailConfig
	sender resendSender
}

func NewEmailService(cfg *config.EmailConfig) *EmailService {
	s := &EmailService{cfg: cfg}
	if cfg.Provider == "resend" && cfg.ResendAPIKey != "" {
		s.sender = resend.NewClient(cfg.ResendAPIKey).Emails
	}
	return s
}

func (s *EmailService) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	subject := "Reset your Globenis password"
	text := fmt.Sprintf("Someone asked to reset the password for your Globenis account.\n\n"+
		"Open this link within an hour to choose a new one:\n%s\n\n"+
		"If it wasn't you, ignore this email.", resetURL)
	body := fmt.Sprintf(`<p>Someone asked to reset the password for your Globenis account.</p>
<p><a href="%s">Choose a new password</a> (the link expires in an hour).</p>
<p>If it wasn't you, ignore this email.</p>`, html.EscapeString(resetURL))
	return s.send(ctx, to, subject, body, text)
}

func (s *EmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if s.sender == nil {
		logging.Info("Email (console provider)", map[string]interface{}{
			"to":      to,
			"subject": subject,
			"body":    textBody,
		})
		return nil
	}

	_, err := s.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromAddress),
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
		Text:    textBody,
	})
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}
