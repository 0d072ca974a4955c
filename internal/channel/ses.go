package channel

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/logger"
)

// SESSender delivers mail through AWS SES using SDK v2.
type SESSender struct {
	client *sesv2.Client
	now    func() time.Time
}

// NewSESSender builds the SES client. Static credentials from the
// settings win; otherwise the default AWS credential chain applies.
func NewSESSender(s SESSettings) (*SESSender, error) {
	if s.Region == "" {
		s.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s.Region),
	}
	if s.AccessKey != "" && s.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("ses config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), now: time.Now}, nil
}

// Send delivers a single message through SES.
func (s *SESSender) Send(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("attempt_id"), Value: aws.String(strconv.FormatInt(msg.AttemptID, 10))},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return &domain.SendResult{
			Success: false,
			Channel: domain.ChannelSES,
			Error:   err.Error(),
		}, nil
	}

	messageID := aws.ToString(result.MessageId)
	logger.Debug("ses delivered", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Channel:   domain.ChannelSES,
		SentAt:    s.now(),
	}, nil
}

// Probe verifies the account is reachable with the configured
// credentials.
func (s *SESSender) Probe(ctx context.Context) error {
	if _, err := s.client.GetAccount(ctx, &sesv2.GetAccountInput{}); err != nil {
		return fmt.Errorf("ses probe: %w", err)
	}
	return nil
}
