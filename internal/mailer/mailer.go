// Package mailer delivers rendered campaign emails.
package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

// Sender delivers one message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, campaignID, subscriberID int, msg model.RenderedMessage) (string, error)
}

// New builds the sender selected by cfg.Driver.
func New(ctx context.Context, cfg config.MailerConfig, log *zap.Logger) (Sender, error) {
	switch cfg.Driver {
	case config.MailerSES:
		return NewSESSender(ctx, cfg, log)
	case config.MailerLog, "":
		return &LogSender{Logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown mailer driver %q", cfg.Driver)
	}
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client sesAPI
	logger *zap.Logger
}

// NewSESSender uses static credentials when both keys are set and the
// default AWS credential chain otherwise.
func NewSESSender(ctx context.Context, cfg config.MailerConfig, log *zap.Logger) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SESSender{client: sesv2.NewFromConfig(awsCfg), logger: log}, nil
}

func (s *SESSender) Send(ctx context.Context, campaignID, subscriberID int, msg model.RenderedMessage) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress(msg)),
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
			{Name: aws.String("campaign_id"), Value: aws.String(strconv.Itoa(campaignID))},
			{Name: aws.String("subscriber_id"), Value: aws.String(strconv.Itoa(subscriberID))},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	id := aws.ToString(out.MessageId)
	s.logger.Debug("ses sent", logger.Email(msg.To), zap.String("message_id", id))
	return id, nil
}

// fromAddress formats the From header, quoting or encoding the display
// name as RFC 5322 requires.
func fromAddress(msg model.RenderedMessage) string {
	if msg.FromName == "" {
		return msg.FromEmail
	}
	return (&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String()
}

// LogSender only logs. It is the default for local runs.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(_ context.Context, campaignID, subscriberID int, msg model.RenderedMessage) (string, error) {
	id := uuid.NewString()
	if s.Logger != nil {
		s.Logger.Info("mail sent",
			zap.Int("campaign_id", campaignID),
			zap.Int("subscriber_id", subscriberID),
			logger.Email(msg.To),
			zap.String("subject", msg.Subject),
			zap.String("message_id", id))
	}
	return id, nil
}

var (
	_ Sender = (*SESSender)(nil)
	_ Sender = (*LogSender)(nil)
)
