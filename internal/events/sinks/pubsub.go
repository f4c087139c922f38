package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/creator-suite/internal/events"
)

// Publisher sends one message and returns its server-assigned id.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

// TopicPublisher adapts a Pub/Sub topic publisher to Publisher.
type TopicPublisher struct {
	publisher *pubsub.Publisher
}

// NewTopicPublisher wraps publisher.
func NewTopicPublisher(publisher *pubsub.Publisher) *TopicPublisher {
	return &TopicPublisher{publisher: publisher}
}

// Publish blocks until the message is acknowledged by the server.
func (p *TopicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	if p == nil || p.publisher == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// PubSubSink publishes terminal job notifications so other services can react
// to completed or failed generations.
type PubSubSink struct {
	publisher  Publisher
	propagator propagation.TextMapPropagator
	stages     map[events.Stage]bool
}

// NewPubSubSink builds a sink. A nil propagator uses the global otel propagator.
func NewPubSubSink(publisher Publisher, propagator propagation.TextMapPropagator) *PubSubSink {
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	return &PubSubSink{
		publisher:  publisher,
		propagator: propagator,
		stages: map[events.Stage]bool{
			events.StageJobSubmitted: true,
			events.StageJobCompleted: true,
			events.StageJobFailed:    true,
		},
	}
}

// Consume publishes every lifecycle event in the batch. Poll errors stay local.
func (s *PubSubSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.publisher == nil {
		return errors.New("pubsub sink has no publisher")
	}
	var errs []error
	for _, evt := range batch {
		if !s.stages[evt.Stage] {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal event: %w", err))
			continue
		}
		msg := &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"stage":    string(evt.Stage),
				"job_type": string(evt.JobType),
			},
		}
		s.propagator.Inject(ctx, &attributeCarrier{attrs: msg.Attributes})
		if _, err := s.publisher.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s for %s: %w", evt.Stage, evt.JobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements events.Sink; the owner stops the underlying publisher.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
