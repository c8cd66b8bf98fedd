package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// snsSubjectMax is the SNS limit on message subjects.
const snsSubjectMax = 100

// SNSAPI is the subset of the SNS client used by SNSSink.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes the outcome to an SNS topic.
type SNSSink struct {
	client   SNSAPI
	topicARN string
	region   string
	ctx      context.Context
}

// SNSSinkOption configures an SNSSink.
type SNSSinkOption func(*SNSSink)

// WithSNSClient sets a custom SNS client (useful for testing).
func WithSNSClient(c SNSAPI) SNSSinkOption {
	return func(s *SNSSink) { s.client = c }
}

// WithSNSRegion pins the AWS region, normally taken from the topic ARN.
func WithSNSRegion(region string) SNSSinkOption {
	return func(s *SNSSink) { s.region = region }
}

// WithSNSContext sets the context used to load AWS configuration.
func WithSNSContext(ctx context.Context) SNSSinkOption {
	return func(s *SNSSink) { s.ctx = ctx }
}

// NewSNSSink creates a new SNS sink.
func NewSNSSink(topicARN string, opts ...SNSSinkOption) (*SNSSink, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN required")
	}
	s := &SNSSink{topicARN: topicARN, ctx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if s.region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(s.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(s.ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = sns.NewFromConfig(cfg)
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *SNSSink) Name() string { return "sns" }

// Send publishes the outcome as JSON to the configured topic.
func (s *SNSSink) Send(ctx context.Context, outcome types.RunOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	subject := snsSubject(fmt.Sprintf("[%s] %s", outcome.StepStatus, outcome.StepName))

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(data)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"step_status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(outcome.StepStatus),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: publishing to SNS: %w", ErrDelivery, err)
	}
	return nil
}

// snsSubject makes s a legal SNS subject: printable ASCII only, at most
// snsSubjectMax characters. Other runes become '?'.
func snsSubject(s string) string {
	subject := strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			return '?'
		}
		return r
	}, s)
	if len(subject) > snsSubjectMax {
		subject = subject[:snsSubjectMax]
	}
	return subject
}
