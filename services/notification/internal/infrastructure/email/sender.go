package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/sakashimaa/go-order-saga/pkg/config"
	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/services/notification/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	SendOperatorAlert(ctx context.Context, alert domain.Alert) error
}

type smtpSender struct {
	cfg    config.SMTP
	logger *zap.Logger
	tracer trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	return &smtpSender{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("notification/infrastructure/email"),
	}
}

func (s *smtpSender) SendOperatorAlert(ctx context.Context, alert domain.Alert) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendOperatorAlert")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", s.cfg.OperatorEmail),
		attribute.String("subject", alert.Subject),
	)

	msg := buildMessage(s.cfg.From, s.cfg.OperatorEmail, alert)
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Sending operator alert",
		zap.String("to", s.cfg.OperatorEmail),
		zap.String("subject", alert.Subject),
	)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{s.cfg.OperatorEmail}, msg); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			s.logger,
			"Error sending operator alert",
			zap.String("to", s.cfg.OperatorEmail),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	return nil
}

func buildMessage(from, to string, alert domain.Alert) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", alert.Subject)
	b.WriteString("MIME-version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(alert.Body, "\n", "\r\n"))

	return []byte(b.String())
}
