package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/ridepoolhq/ridepool/pkg/wallet"
)

// SettlementLedger posts booking-scoped movements to the driver wallet.
// Implementations must make duplicate posts for the same booking and
// kind fail with wallet.ErrDuplicateTransaction so re-driving a
// settlement can never double-pay.
type SettlementLedger interface {
	PostEarning(ctx context.Context, driverID string, bookingID string, amountCents int64, description string) error
	PostRefund(ctx context.Context, driverID string, bookingID string, amountCents int64, description string) error
}

// Complete marks a confirmed booking completed and triggers settlement.
// The completion transition commits first and is never rolled back for
// a downstream failure; a failed wallet credit surfaces loudly as
// ErrSettlementFailure and is re-driven by SettleCompleted.
func (service *Service) Complete(ctx context.Context, bookingID string, driverID string) (Booking, error) {
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := service.lockBookingForActor(ctx, txStore, bookingID, driverID)
		if err != nil {
			return err
		}
		next, err := targetStatus(current.Status, EventCompleted)
		if err != nil {
			return err
		}
		now := service.nowFn()
		current.Status = next
		current.CompletedAt = &now
		if err := txStore.UpdateBooking(ctx, current); err != nil {
			return err
		}
		record = current
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:   current.BookingID,
			Name:        EventCompleted,
			PerformerID: &driverID,
			CreatedAt:   now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: "complete",
		BookingID: bookingID,
		ActorID:   driverID,
		Event:     EventCompleted,
		Amount:    record.PayoutCents(),
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}

	settleErr := service.settle(ctx, record)

	// Best-effort side effects run regardless of settlement: chat close
	// and notifications must never decide financial outcomes either way.
	service.closeConversation(ctx, record.BookingID)
	service.notify(ctx, record.RiderID, "Trip completed",
		"Your trip is complete", map[string]string{"booking_id": record.BookingID})

	if settleErr != nil {
		return record, settleErr
	}
	return service.store.GetBooking(ctx, record.BookingID)
}

// SettleCompleted re-drives settlement for a completed booking whose
// wallet credit has not landed, e.g. after a transient failure during
// Complete. A booking that is already settled returns ErrAlreadySettled
// so a caller racing another settler can tell the no-op apart.
func (service *Service) SettleCompleted(ctx context.Context, bookingID string) error {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return err
	}
	record, err := service.store.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != BookingStatusCompleted {
		return fmt.Errorf("%w: status %s", ErrInvalidTransition, record.Status)
	}
	if record.SettledAt != nil {
		return fmt.Errorf("%w: booking %s", ErrAlreadySettled, id)
	}
	return service.settle(ctx, record)
}

// ListUnsettled returns completed bookings still awaiting settlement.
func (service *Service) ListUnsettled(ctx context.Context, limit int) ([]Booking, error) {
	return service.store.ListUnsettledCompleted(ctx, limit)
}

// settle posts the earning credit and marks the booking settled. The
// ledger's (booking, kind) uniqueness makes the credit idempotent, so a
// crash between the two transactions is repaired by re-driving.
func (service *Service) settle(ctx context.Context, record Booking) error {
	payout := record.PayoutCents()
	description := fmt.Sprintf("earning for booking %s (%d seats)", record.BookingID, record.SeatsRequested)
	err := service.ledger.PostEarning(ctx, record.DriverID, record.BookingID, payout, description)
	if err != nil && !errors.Is(err, wallet.ErrDuplicateTransaction) {
		wrapped := fmt.Errorf("%w: %v", ErrSettlementFailure, err)
		service.logOperation(ctx, OperationLog{
			Operation: "settle",
			BookingID: record.BookingID,
			Event:     EventSettled,
			Amount:    payout,
			Error:     wrapped,
		})
		return wrapped
	}

	markErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		locked, err := txStore.GetBookingForUpdate(ctx, record.BookingID)
		if err != nil {
			return err
		}
		if locked.SettledAt != nil {
			return nil
		}
		now := service.nowFn()
		locked.SettledAt = &now
		if err := txStore.UpdateBooking(ctx, locked); err != nil {
			return err
		}
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    locked.BookingID,
			Name:         EventSettled,
			MetadataJSON: fmt.Sprintf(`{"payout_cents":%d}`, payout),
			CreatedAt:    now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: "settle",
		BookingID: record.BookingID,
		Event:     EventSettled,
		Amount:    payout,
		Error:     markErr,
	})
	if markErr != nil {
		return fmt.Errorf("%w: %v", ErrSettlementFailure, markErr)
	}
	return nil
}

// reverseSettlement claws an already-settled payout back after a
// gateway refund. Idempotent through the same ledger uniqueness.
func (service *Service) reverseSettlement(ctx context.Context, record Booking) error {
	payout := record.PayoutCents()
	description := fmt.Sprintf("refund clawback for booking %s", record.BookingID)
	err := service.ledger.PostRefund(ctx, record.DriverID, record.BookingID, payout, description)
	if err != nil && !errors.Is(err, wallet.ErrDuplicateTransaction) {
		return fmt.Errorf("%w: %v", ErrSettlementFailure, err)
	}
	return nil
}

func (service *Service) closeConversation(ctx context.Context, bookingID string) {
	if service.conversations == nil {
		return
	}
	_ = service.conversations.CloseConversation(ctx, bookingID)
	_ = service.conversations.InsertSystemMessage(ctx, bookingID, "trip_completed")
}
