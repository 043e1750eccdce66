/*
sqs.go - Payroll event publishing over AWS SQS

PURPOSE:
  Delivers payroll.Event values to a queue so downstream systems (ledger
  export, notifications) learn when a run is processed or closed.

DELIVERY:
  - JSON body, EventType message attribute, trace context attributes.
  - Calls go through a circuit breaker. While the queue is failing the
    breaker opens and Publish fails fast instead of stalling payroll
    requests; the service logs and moves on.

SEE ALSO:
  - payroll/events.go: Event and Publisher
  - telemetry/tracing.go: Trace propagation over message attributes
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/telemetry"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("event queue unavailable")

// SQSClient is the subset of *sqs.Client used by the publisher.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher implements payroll.Publisher.
type SQSPublisher struct {
	client   SQSClient
	queueURL string
	cb       *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// NewSQSPublisher sets up the publisher with a breaker that trips after
// half of at least five sends fail within a minute.
func NewSQSPublisher(client SQSClient, queueURL string, logger zerolog.Logger) *SQSPublisher {
	settings := gobreaker.Settings{
		Name:        "payroll-events-sqs",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("event publisher circuit breaker changed state")
		},
	}

	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		cb:       gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
	}
}

// Publish sends one event.
func (p *SQSPublisher) Publish(ctx context.Context, event payroll.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"EventType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(event.Type)),
		},
	}
	telemetry.InjectTraceContext(ctx, attrs)

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return p.client.SendMessage(ctx, input)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("failed to send %s event: %w", event.Type, err)
	}

	p.logger.Debug().Str("event_id", event.ID).Str("event_type", string(event.Type)).
		Int64("run_id", int64(event.RunID)).Msg("payroll event published")
	return nil
}

// =============================================================================
// AWS CLIENT
// =============================================================================

// ClientConfig selects region and, for LocalStack, an endpoint override.
type ClientConfig struct {
	Region   string
	Endpoint string
	LocalDev bool
}

// NewSQSClient loads AWS configuration. In local development static test
// credentials are used and requests go to Endpoint.
func NewSQSClient(ctx context.Context, cfg ClientConfig) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.LocalDev {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

var _ payroll.Publisher = (*SQSPublisher)(nil)
