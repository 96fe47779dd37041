package booking

import (
	"context"
	"errors"
	"fmt"
)

const defaultSeatRetries = 3

// SeatGuard owns the ride seat counter. All mutations go through an
// exclusive row lock so concurrent reservations serialize and the
// 0 <= seats_available <= seats_total invariant holds.
type SeatGuard struct {
	store   Store
	retries int
}

// NewSeatGuard wires a guard over a store.
func NewSeatGuard(store Store) *SeatGuard {
	return &SeatGuard{store: store, retries: defaultSeatRetries}
}

// Reserve decrements seats_available by seats if enough remain.
// ErrCapacityExceeded is a verdict, not a fault: it is never retried.
func (guard *SeatGuard) Reserve(ctx context.Context, rideID string, seats int) error {
	if seats <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidSeatCount)
	}
	return guard.withRetry(ctx, func(ctx context.Context) error {
		return guard.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			return reserveLocked(ctx, txStore, rideID, seats)
		})
	})
}

// Release hands seats back, clamped to seats_total so a double release
// can never inflate inventory past the published capacity.
func (guard *SeatGuard) Release(ctx context.Context, rideID string, seats int) error {
	if seats <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidSeatCount)
	}
	return guard.withRetry(ctx, func(ctx context.Context) error {
		return guard.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			return releaseLocked(ctx, txStore, rideID, seats)
		})
	})
}

// withRetry re-runs fn a bounded number of times on infrastructure
// failures (lock contention, serialization aborts). Domain verdicts
// pass through on the first attempt.
func (guard *SeatGuard) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < guard.retries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrRideNotFound),
		errors.Is(err, ErrBookingNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidSeatCount):
		return false
	}
	return err != nil
}

// reserveLocked performs the locked read-check-decrement inside an
// already-open transaction.
func reserveLocked(ctx context.Context, txStore Store, rideID string, seats int) error {
	ride, err := txStore.GetRideForUpdate(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.SeatsAvailable < seats {
		return fmt.Errorf("%w: %d requested, %d available", ErrCapacityExceeded, seats, ride.SeatsAvailable)
	}
	return txStore.SetSeatsAvailable(ctx, rideID, ride.SeatsAvailable-seats)
}

// releaseLocked performs the locked clamped increment inside an
// already-open transaction.
func releaseLocked(ctx context.Context, txStore Store, rideID string, seats int) error {
	ride, err := txStore.GetRideForUpdate(ctx, rideID)
	if err != nil {
		return err
	}
	restored := ride.SeatsAvailable + seats
	if restored > ride.SeatsTotal {
		restored = ride.SeatsTotal
	}
	return txStore.SetSeatsAvailable(ctx, rideID, restored)
}
