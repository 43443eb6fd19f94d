// Package ingest consumes booking and contact events from SQS and turns
// them into alert drafts. The booking service and the website contact
// form publish to the queue; the hub is the only consumer.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
	"github.com/casamarzia/opsbell/internal/metrics"
)

// Event is the payload published to the queue. Type carries the alert
// category (new_booking, cancellation, ...).
type Event struct {
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	ActionURL   string          `json:"action_url,omitempty"`
	ActionLabel string          `json:"action_label,omitempty"`
}

// Hub is the slice of the alert manager the consumer needs.
type Hub interface {
	Add(draft alerts.Draft) (*alerts.Alert, bool)
}

// sqsAPI is the slice of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// receiveBackoff is the pause after a failed receive before polling again.
const receiveBackoff = 1 * time.Second

// Consumer long-polls the event queue and feeds drafts to the hub.
type Consumer struct {
	client   sqsAPI
	queueURL string
	hub      Hub
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, hub Hub, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		hub:      hub,
		logger:   logger,
	}, nil
}

// Run polls the queue until the context is cancelled. Receive errors are
// logged and retried after a short pause.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("ingest consumer started", zap.String("queue_url", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("ingest consumer stopping")
			return
		default:
		}

		result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("ingest consumer stopping")
				return
			}
			c.logger.Error("sqs receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, msg := range result.Messages {
			c.handle(ctx, msg)
		}
	}
}

// handle processes one message and deletes it. Malformed and suppressed
// events are handled too; leaving them on the queue would only redeliver
// them.
func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	outcome := c.process(aws.ToString(msg.Body))
	metrics.RecordIngested(outcome)

	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		c.logger.Error("sqs delete failed", zap.Error(err))
	}
}

func (c *Consumer) process(body string) string {
	var event Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		c.logger.Warn("malformed event payload", zap.Error(err))
		return "malformed"
	}
	if event.Type == "" {
		c.logger.Warn("event missing type field")
		return "malformed"
	}

	alert, ok := c.hub.Add(alerts.Draft{
		Category:    event.Type,
		Title:       event.Title,
		Message:     event.Message,
		Data:        event.Data,
		ActionURL:   event.ActionURL,
		ActionLabel: event.ActionLabel,
	})
	if !ok {
		c.logger.Debug("event suppressed by policy", zap.String("type", event.Type))
		return "suppressed"
	}

	c.logger.Info("event ingested",
		zap.String("type", event.Type),
		zap.String("alert_id", alert.ID.String()),
	)
	return "accepted"
}
