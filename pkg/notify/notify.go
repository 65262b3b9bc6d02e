package notify

import (
	"context"
	"errors"

	"ecowatch/pkg/common"
	"ecowatch/pkg/models"
	"go.uber.org/zap"
)

// Notifier delivers a fired alert event to one sink.
type Notifier interface {
	Notify(ctx context.Context, event models.AlertEvent) error
}

// ZapNotifier writes alert notifications to the service log. It is the sink
// of last resort and is always wired in, so a fired alert is visible even
// when no broker is configured.
type ZapNotifier struct{}

func (ZapNotifier) Notify(_ context.Context, event models.AlertEvent) error {
	common.GetLoggerWith(
		common.LoggerNameNotify,
		zap.String(common.LoggerFieldCategory, common.LoggerCategoryNotification),
	).Warn("Alert notification",
		zap.String("eventId", event.EventID),
		zap.String("deviceSn", event.DeviceSN),
		zap.String("kind", string(event.Kind)),
		zap.String("message", event.Message))
	return nil
}

// Multi fans an event out to every sink. All sinks are attempted; their
// failures are joined into one error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
