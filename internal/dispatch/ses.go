package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/email-relay/internal/domain"
)

// SESClient sends through AWS SES using the SDK v2.
type SESClient struct {
	client *sesv2.Client
}

// NewSESClient creates an SES client. With empty credentials the default
// AWS credential chain is used (IAM role on ECS). timeout bounds each API
// call at the transport level; zero keeps the SDK default.
func NewSESClient(ctx context.Context, accessKey, secretKey, region string, timeout time.Duration) (*SESClient, error) {
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	if timeout > 0 {
		opts = append(opts, awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESClient{client: sesv2.NewFromConfig(cfg)}, nil
}

// Name implements ProviderClient.
func (c *SESClient) Name() domain.ProviderType { return domain.ProviderSES }

// Send implements ProviderClient. SDK errors carrying an HTTP response are
// mapped onto the status code so the gateway classifies them like any other
// provider; pure transport errors pass through as errors.
func (c *SESClient) Send(ctx context.Context, msg *domain.OutboundMessage) (*ProviderResponse, error) {
	if c.client == nil {
		return nil, fmt.Errorf("SES client not initialized")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	for k, v := range msg.Metadata {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name: aws.String(k), Value: aws.String(v),
		})
	}

	result, err := c.client.SendEmail(ctx, input)
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return &ProviderResponse{
				StatusCode: respErr.HTTPStatusCode(),
				Body:       []byte(err.Error()),
			}, nil
		}
		return nil, fmt.Errorf("ses send: %w", err)
	}

	return &ProviderResponse{
		MessageID:  aws.ToString(result.MessageId),
		StatusCode: 200,
	}, nil
}
