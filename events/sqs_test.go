package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
)

type fakeSQS struct {
	mu     sync.Mutex
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func sampleEvent() payroll.Event {
	return payroll.Event{
		ID:          "3f1c1a0e-1111-4d2e-9e55-000000000001",
		Type:        payroll.EventRunClosed,
		RunID:       12,
		PeriodStart: payroll.NewDate(2024, 2, 1),
		PeriodEnd:   payroll.NewDate(2024, 2, 14),
		EntryCount:  2,
		TotalGross:  decimal.RequireFromString("410.00"),
		OccurredAt:  time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublish_SendsBodyAndAttributes(t *testing.T) {
	client := &fakeSQS{}
	pub := NewSQSPublisher(client, "http://localhost:4566/000000000000/payroll-events", zerolog.Nop())

	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))

	require.Equal(t, 1, client.calls())
	in := client.inputs[0]
	assert.Equal(t, "http://localhost:4566/000000000000/payroll-events", *in.QueueUrl)
	assert.Equal(t, "payroll.run.closed", *in.MessageAttributes["EventType"].StringValue)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &body))
	assert.Equal(t, "payroll.run.closed", body["event_type"])
	assert.Equal(t, float64(12), body["payroll_run"])
	assert.Equal(t, "2024-02-01", body["payroll_period_start"])
	assert.Equal(t, float64(2), body["entry_count"])
}

func TestPublish_WrapsSendFailure(t *testing.T) {
	client := &fakeSQS{err: errors.New("throttled")}
	pub := NewSQSPublisher(client, "queue", zerolog.Nop())

	err := pub.Publish(context.Background(), sampleEvent())

	assert.ErrorContains(t, err, "throttled")
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestPublish_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	// GIVEN: A queue that always fails
	// WHEN: Publishing more than the trip threshold
	// THEN: The breaker opens and later calls fail fast without reaching SQS
	client := &fakeSQS{err: errors.New("connection reset")}
	pub := NewSQSPublisher(client, "queue", zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = pub.Publish(ctx, sampleEvent())
	}
	require.Equal(t, 5, client.calls())

	err := pub.Publish(ctx, sampleEvent())

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, client.calls())
}

func TestNoop_DropsEvents(t *testing.T) {
	var pub payroll.Publisher = Noop{Logger: zerolog.Nop()}
	assert.NoError(t, pub.Publish(context.Background(), sampleEvent()))
}
