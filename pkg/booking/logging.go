package booking

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing booking operation.
type OperationLog struct {
	Operation string
	BookingID string
	RideID    string
	ActorID   string
	Event     Event
	Seats     int
	Amount    int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithSeatRetry overrides the bounded retry count used when a seat
// reserve/release transaction fails on lock contention.
func WithSeatRetry(attempts int) ServiceOption {
	return func(service *Service) {
		if attempts > 0 {
			service.guard.retries = attempts
		}
	}
}
