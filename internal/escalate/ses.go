package escalate

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
)

// sesAPI is the slice of the SES client this target uses.
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESTarget emails critical alerts to the ops mailbox as plain text.
type SESTarget struct {
	client sesAPI
	from   string
	to     string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	OpsEmail  string
}

// NewSESTarget creates an SES target sending to the configured ops address.
func NewSESTarget(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESTarget, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SES: %w", err)
	}

	return &SESTarget{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		to:     cfg.OpsEmail,
		logger: logger,
	}, nil
}

func (t *SESTarget) Name() string {
	return "ses"
}

// Deliver sends a plain-text email for the alert.
func (t *SESTarget) Deliver(ctx context.Context, alert alerts.Alert) error {
	subject := fmt.Sprintf("[CRITICAL] %s", alert.Title)
	body := fmt.Sprintf("%s\n\nCategory: %s\nRaised: %s\nAlert ID: %s\n",
		alert.Message,
		alert.Category,
		alert.CreatedAt.Format("2006-01-02 15:04:05"),
		alert.ID,
	)
	if alert.ActionURL != "" {
		body += fmt.Sprintf("\n%s: %s\n", alert.ActionLabel, alert.ActionURL)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(t.from),
		Destination: &types.Destination{
			ToAddresses: []string{t.to},
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

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	t.logger.Info("alert emailed via SES",
		zap.String("alert_id", alert.ID.String()),
		zap.String("to", t.to),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
