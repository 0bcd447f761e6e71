package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// SESProvider sends through Amazon SES v2. It uses the raw path so the
// threading headers (Message-ID, In-Reply-To, References) survive intact.
type SESProvider struct {
	client *sesv2.Client
}

// NewSESProvider creates an SES provider. accessKey/secretKey may be empty
// to fall back to the default AWS credential chain.
func NewSESProvider(ctx context.Context, region, accessKey, secretKey string) (*SESProvider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESProvider{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// Name implements Provider.
func (p *SESProvider) Name() string { return "ses" }

// Send implements Provider.
func (p *SESProvider) Send(ctx context.Context, env *Envelope) (string, error) {
	raw := BuildRaw(env, time.Now().UTC())

	out, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		Content: &sestypes.EmailContent{
			Raw: &sestypes.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", classifySES(err)
	}
	if out.MessageId != nil {
		return *out.MessageId, nil
	}
	return env.MessageID, nil
}

// TestConnection implements Provider by reading the account's send status.
func (p *SESProvider) TestConnection(ctx context.Context) error {
	_, err := p.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	return err
}

// classifySES marks throttling and service failures transient; auth and
// validation rejections are permanent.
func classifySES(err error) error {
	msg := err.Error()
	for _, transient := range []string{"Throttling", "TooManyRequests", "ServiceUnavailable", "InternalFailure", "connection"} {
		if strings.Contains(msg, transient) {
			return Transient(err)
		}
	}
	return err
}
