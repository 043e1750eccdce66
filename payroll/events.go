package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventRunProcessed EventType = "payroll.run.processed"
	EventRunClosed    EventType = "payroll.run.closed"
)

// Event is published after a run is processed or closed.
type Event struct {
	ID          string          `json:"event_id"`
	Type        EventType       `json:"event_type"`
	RunID       RunID           `json:"payroll_run"`
	PeriodStart Date            `json:"payroll_period_start"`
	PeriodEnd   Date            `json:"payroll_period_end"`
	EntryCount  int             `json:"entry_count"`
	TotalGross  decimal.Decimal `json:"total_gross_pay"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Publisher delivers payroll events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
