package escalate

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/casamarzia/opsbell/internal/alerts"
)

// snsAPI is the slice of the SNS client this target uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTarget publishes critical alerts to an SNS topic. The restaurant
// subscribes the floor manager's phone (SMS) and the mobile app to it.
type SNSTarget struct {
	client   snsAPI
	topicARN string
	logger   *zap.Logger
}

type SNSConfig struct {
	Region   string
	TopicARN string
}

// NewSNSTarget creates an SNS target for the given topic.
func NewSNSTarget(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSTarget, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}

	return &SNSTarget{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: cfg.TopicARN,
		logger:   logger,
	}, nil
}

func (t *SNSTarget) Name() string {
	return "sns"
}

// Deliver publishes the alert to the topic with category and priority as
// message attributes so subscribers can filter.
func (t *SNSTarget) Deliver(ctx context.Context, alert alerts.Alert) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(t.topicARN),
		Subject:  aws.String(alert.Title),
		Message:  aws.String(alert.Message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"category": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Category),
			},
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Priority),
			},
		},
	}

	result, err := t.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	t.logger.Info("alert published to SNS",
		zap.String("alert_id", alert.ID.String()),
		zap.String("topic", t.topicARN),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
