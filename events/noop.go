package events

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/warp/payroll-engine/payroll"
)

// Noop drops events, logging them at debug level. Used when no queue is configured.
type Noop struct {
	Logger zerolog.Logger
}

func (n Noop) Publish(_ context.Context, event payroll.Event) error {
	n.Logger.Debug().Str("event_type", string(event.Type)).Int64("run_id", int64(event.RunID)).
		Msg("event publishing disabled")
	return nil
}

var _ payroll.Publisher = Noop{}
