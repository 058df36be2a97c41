package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/stepgate/pkg/logger"
)

// EmailSender delivers plain text messages
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SESAPI is the subset of the SES client used for sending
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewAWSSESEmailServiceWithClient creates an SES email service around client
func NewAWSSESEmailServiceWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *AWSSESEmailService {
	return &AWSSESEmailService{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendEmail sends a plain text email through SES
func (s *AWSSESEmailService) SendEmail(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.MaskEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.MaskEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogEmailService writes emails to the log instead of sending them.
// Used for local development. Bodies carry codes and are redacted in
// production.
type LogEmailService struct {
	env    string
	logger *slog.Logger
}

// NewLogEmailService creates a LogEmailService
func NewLogEmailService(env string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{env: env, logger: logger}
}

func (s *LogEmailService) SendEmail(ctx context.Context, to, subject, body string) error {
	s.logger.Info("email (not sent)",
		slog.String("to", logger.MaskEmail(to)),
		slog.String("subject", subject),
		logger.RedactedAttr("body", body, s.env))
	return nil
}
