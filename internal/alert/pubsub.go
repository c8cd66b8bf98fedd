package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/dwsmith1983/runwatch/pkg/types"
)

// PubSubAPI is the subset of the Pub/Sub client used by PubSubSink.
type PubSubAPI interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

// pubsubTopicWrapper adapts a *pubsub.Topic to PubSubAPI.
type pubsubTopicWrapper struct {
	topic *pubsub.Topic
}

func (w *pubsubTopicWrapper) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	result := w.topic.Publish(ctx, msg)
	return result.Get(ctx)
}

// PubSubSink publishes the outcome to a Pub/Sub topic.
type PubSubSink struct {
	client PubSubAPI
	ctx    context.Context
}

// PubSubSinkOption configures a PubSubSink.
type PubSubSinkOption func(*PubSubSink)

// WithPubSubClient sets a custom Pub/Sub client (useful for testing).
func WithPubSubClient(c PubSubAPI) PubSubSinkOption {
	return func(s *PubSubSink) { s.client = c }
}

// WithPubSubContext sets the context used to create the client.
func WithPubSubContext(ctx context.Context) PubSubSinkOption {
	return func(s *PubSubSink) { s.ctx = ctx }
}

// NewPubSubSink creates a new Pub/Sub sink.
func NewPubSubSink(projectID, topicID string, opts ...PubSubSinkOption) (*PubSubSink, error) {
	if topicID == "" {
		return nil, fmt.Errorf("Pub/Sub topic ID required")
	}
	s := &PubSubSink{ctx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		if projectID == "" {
			return nil, fmt.Errorf("Pub/Sub project ID required")
		}
		client, err := pubsub.NewClient(s.ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("creating Pub/Sub client: %w", err)
		}
		s.client = &pubsubTopicWrapper{topic: client.Topic(topicID)}
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *PubSubSink) Name() string { return "pubsub" }

// Send publishes the outcome as JSON to the configured topic.
func (s *PubSubSink) Send(ctx context.Context, outcome types.RunOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}

	_, err = s.client.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"step_name":   outcome.StepName,
			"step_status": outcome.StepStatus,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: publishing to Pub/Sub: %w", ErrDelivery, err)
	}
	return nil
}
