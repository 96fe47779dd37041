// Package oplog adapts the booking OperationLogger callback to zap.
package oplog

import (
	"context"

	"github.com/ridepoolhq/ridepool/pkg/booking"
	"go.uber.org/zap"
)

// ZapLogger emits one structured record per state-changing operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps a zap logger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{logger: logger}
}

// LogOperation implements booking.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.BookingID != "" {
		fields = append(fields, zap.String("booking_id", entry.BookingID))
	}
	if entry.RideID != "" {
		fields = append(fields, zap.String("ride_id", entry.RideID))
	}
	if entry.ActorID != "" {
		fields = append(fields, zap.String("actor_id", entry.ActorID))
	}
	if entry.Seats != 0 {
		fields = append(fields, zap.Int("seats", entry.Seats))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		zapLogger.logger.Error("booking operation failed", fields...)
		return
	}
	zapLogger.logger.Info("booking operation", fields...)
}
