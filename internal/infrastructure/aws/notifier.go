package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/policy"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// SNSAPI is the subset of the SNS client we use
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SQSAPI is the subset of the SQS client we use
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Notifier publishes operation summaries to an SNS topic and/or SQS queue
type Notifier struct {
	snsClient func(ctx context.Context) (SNSAPI, error)
	sqsClient func(ctx context.Context) (SQSAPI, error)
}

// NewNotifier creates a notifier. Clients are only created for channels a
// target configures.
func NewNotifier(snsClient func(ctx context.Context) (SNSAPI, error), sqsClient func(ctx context.Context) (SQSAPI, error)) ports.Notifier {
	return &Notifier{
		snsClient: snsClient,
		sqsClient: sqsClient,
	}
}

// Notify sends the summary to the configured channels. An empty topic or
// queue skips that channel. The summary carries key names only.
func (n *Notifier) Notify(ctx context.Context, channels policy.Notify, summary ports.Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	attrs := map[string]string{
		"operation": summary.Operation,
		"status":    summary.Status,
	}

	if channels.SNSTopicARN != "" {
		client, err := n.snsClient(ctx)
		if err != nil {
			return failure.Mark(fmt.Errorf("failed to load AWS config: %w", err), failure.ErrAuth)
		}
		ui.Debug("Publishing summary to %s", channels.SNSTopicARN)
		snsAttrs := make(map[string]snstypes.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			snsAttrs[k] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
		}
		_, err = client.Publish(ctx, &sns.PublishInput{
			TopicArn:          aws.String(channels.SNSTopicARN),
			Subject:           aws.String(fmt.Sprintf("envctl %s %s", summary.Operation, summary.Scope)),
			Message:           aws.String(string(body)),
			MessageAttributes: snsAttrs,
		})
		if err != nil {
			return failure.Classify(fmt.Errorf("failed to publish to %s: %w", channels.SNSTopicARN, err))
		}
	}

	if channels.SQSQueueURL != "" {
		client, err := n.sqsClient(ctx)
		if err != nil {
			return failure.Mark(fmt.Errorf("failed to load AWS config: %w", err), failure.ErrAuth)
		}
		ui.Debug("Sending summary to %s", channels.SQSQueueURL)
		sqsAttrs := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			sqsAttrs[k] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
		}
		_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:          aws.String(channels.SQSQueueURL),
			MessageBody:       aws.String(string(body)),
			MessageAttributes: sqsAttrs,
		})
		if err != nil {
			return failure.Classify(fmt.Errorf("failed to send to %s: %w", channels.SQSQueueURL, err))
		}
	}
	return nil
}
