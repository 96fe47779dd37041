package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service owns the booking lifecycle over a Store. Every transition
// validates legality against the central table, stamps the matching
// timestamp, and appends one audit event inside the same transaction
// as the status write.
type Service struct {
	store         Store
	settings      SettingsProvider
	verifier      PaymentVerifier
	ledger        SettlementLedger
	nowFn         func() time.Time
	logger        OperationLogger
	guard         *SeatGuard
	notifier      Notifier
	conversations ConversationService
}

// NewService wires a Service.
func NewService(store Store, settings SettingsProvider, verifier PaymentVerifier, ledger SettlementLedger, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if settings == nil {
		return nil, fmt.Errorf("%w: settings dependency is nil", ErrInvalidServiceConfig)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%w: payment verifier dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: settlement ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:    store,
		settings: settings,
		verifier: verifier,
		ledger:   ledger,
		nowFn:    now,
		guard:    NewSeatGuard(store),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithNotifier wires the fire-and-forget notifier collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithConversationService wires the chat collaborator used on completion.
func WithConversationService(conversations ConversationService) ServiceOption {
	return func(service *Service) {
		service.conversations = conversations
	}
}

// Guard exposes the seat inventory guard for callers that manage seats
// outside a booking transition.
func (service *Service) Guard() *SeatGuard {
	return service.guard
}

// CreateRequest carries a rider's claim on seats of a ride.
type CreateRequest struct {
	RideID        string
	RiderID       string
	Seats         int
	PaymentMethod PaymentMethod
}

// Create converts a seat request into a requested booking. The seat
// decrement, the booking row, and the created event commit in one
// transaction; a capacity shortfall fails the whole operation with
// ErrCapacityExceeded and no side effects.
func (service *Service) Create(ctx context.Context, request CreateRequest) (Booking, error) {
	record, operationError := service.create(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation: "create",
		BookingID: record.BookingID,
		RideID:    request.RideID,
		ActorID:   request.RiderID,
		Event:     EventCreated,
		Seats:     request.Seats,
		Amount:    record.TotalCents,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.notify(ctx, record.DriverID, "New booking request",
		fmt.Sprintf("%d seat(s) requested on your ride", record.SeatsRequested),
		map[string]string{"booking_id": record.BookingID})
	return record, nil
}

func (service *Service) create(ctx context.Context, request CreateRequest) (Booking, error) {
	rideID, err := normalizeID(request.RideID, ErrInvalidRideID)
	if err != nil {
		return Booking{}, err
	}
	riderID, err := normalizeID(request.RiderID, ErrInvalidActorID)
	if err != nil {
		return Booking{}, err
	}
	if request.Seats <= 0 {
		return Booking{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidSeatCount)
	}
	method, err := ParsePaymentMethod(request.PaymentMethod.String())
	if err != nil {
		return Booking{}, err
	}

	// Snapshot settings before taking any lock; the commission policy
	// recorded here is immutable for the booking's lifetime.
	snapshot, err := service.settings.Snapshot(ctx)
	if err != nil {
		return Booking{}, err
	}
	if method == PaymentMethodCash && !snapshot.CashPaymentEnabled {
		return Booking{}, ErrCashDisabled
	}

	var record Booking
	txErr := service.guard.withRetry(ctx, func(ctx context.Context) error {
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			ride, err := txStore.GetRideForUpdate(ctx, rideID)
			if err != nil {
				return err
			}
			if ride.Status != RideStatusPublished {
				return fmt.Errorf("%w: status %s", ErrRideNotPublished, ride.Status)
			}
			if ride.SeatsAvailable < request.Seats {
				return fmt.Errorf("%w: %d requested, %d available", ErrCapacityExceeded, request.Seats, ride.SeatsAvailable)
			}
			if err := txStore.SetSeatsAvailable(ctx, rideID, ride.SeatsAvailable-request.Seats); err != nil {
				return err
			}

			quote, err := ComputeQuote(ride.PricePerSeatCents, request.Seats, snapshot.Commission)
			if err != nil {
				return err
			}
			now := service.nowFn()
			record = Booking{
				RideID:            rideID,
				RiderID:           riderID,
				DriverID:          ride.DriverID,
				CityID:            ride.CityID,
				Status:            BookingStatusRequested,
				SeatsRequested:    request.Seats,
				PricePerSeatCents: ride.PricePerSeatCents,
				SubtotalCents:     quote.SubtotalCents,
				CommissionType:    snapshot.Commission.Type,
				CommissionValue:   snapshot.Commission.Value,
				CommissionCents:   quote.CommissionCents,
				TotalCents:        quote.TotalCents,
				PaymentMethod:     method,
				PaymentStatus:     PaymentStatusUnpaid,
				HoldExpiresAt:     now.Add(snapshot.HoldWindow),
				CreatedAt:         now,
			}
			record, err = txStore.CreateBooking(ctx, record)
			if err != nil {
				return err
			}
			return txStore.AppendEvent(ctx, EventInput{
				BookingID:    record.BookingID,
				Name:         EventCreated,
				PerformerID:  &riderID,
				MetadataJSON: fmt.Sprintf(`{"seats":%d,"payment_method":%q}`, request.Seats, method),
				CreatedAt:    now,
			})
		})
	})
	if txErr != nil {
		return Booking{}, txErr
	}
	return record, nil
}

// Accept is the driver's approval of a requested booking. The cash (or
// already-paid) path collapses straight to confirmed; a gateway path
// parks the booking in payment_pending until the webhook lands.
func (service *Service) Accept(ctx context.Context, bookingID string, driverID string) (Booking, error) {
	record, operationError := service.transitionAccept(ctx, bookingID, driverID)
	service.logOperation(ctx, OperationLog{
		Operation: "accept",
		BookingID: bookingID,
		ActorID:   driverID,
		Event:     EventAccepted,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.notify(ctx, record.RiderID, "Booking accepted",
		"The driver accepted your booking", map[string]string{"booking_id": record.BookingID})
	return record, nil
}

func (service *Service) transitionAccept(ctx context.Context, bookingID string, driverID string) (Booking, error) {
	var record Booking
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := service.lockBookingForActor(ctx, txStore, bookingID, driverID)
		if err != nil {
			return err
		}
		if _, err := targetStatus(current.Status, EventAccepted); err != nil {
			return err
		}
		now := service.nowFn()
		current.AcceptedAt = &now
		metadata := `{"next":"payment_pending"}`
		if !current.PaymentMethod.RequiresGateway() || current.PaymentStatus == PaymentStatusPaid {
			current.Status = BookingStatusConfirmed
			current.ConfirmedAt = &now
			metadata = `{"next":"confirmed"}`
		} else {
			current.Status = BookingStatusPaymentPending
		}
		if err := txStore.UpdateBooking(ctx, current); err != nil {
			return err
		}
		record = current
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    current.BookingID,
			Name:         EventAccepted,
			PerformerID:  &driverID,
			MetadataJSON: metadata,
			CreatedAt:    now,
		})
	})
	return record, err
}

// ConfirmPayment is the webhook entry point for a gateway success.
// Duplicate deliveries are no-ops: a booking already confirmed with the
// same provider reference reports success without a second transition.
func (service *Service) ConfirmPayment(ctx context.Context, bookingID string, providerRef string) (Booking, error) {
	record, operationError := service.confirmPayment(ctx, bookingID, providerRef)
	service.logOperation(ctx, OperationLog{
		Operation: "confirm_payment",
		BookingID: bookingID,
		Event:     EventPaymentConfirmed,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return record, nil
}

func (service *Service) confirmPayment(ctx context.Context, bookingID string, providerRef string) (Booking, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return Booking{}, err
	}
	current, err := service.store.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if current.Status == BookingStatusConfirmed && current.PaymentStatus == PaymentStatusPaid {
		return current, nil
	}

	// Gateway verification happens before the row lock so external I/O
	// never extends lock hold time.
	verdict, err := service.verifier.VerifyPayment(ctx, id, providerRef)
	if err != nil {
		return Booking{}, err
	}
	if verdict != PaymentVerified {
		return Booking{}, fmt.Errorf("%w: provider ref %q", ErrPaymentNotVerified, providerRef)
	}

	var record Booking
	txErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		locked, err := txStore.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status == BookingStatusConfirmed && locked.PaymentStatus == PaymentStatusPaid {
			record = locked
			return nil
		}
		if _, err := targetStatus(locked.Status, EventPaymentConfirmed); err != nil {
			return err
		}
		now := service.nowFn()
		locked.Status = BookingStatusConfirmed
		locked.PaymentStatus = PaymentStatusPaid
		locked.PaymentRef = providerRef
		locked.ConfirmedAt = &now
		if err := txStore.UpdateBooking(ctx, locked); err != nil {
			return err
		}
		record = locked
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    locked.BookingID,
			Name:         EventPaymentConfirmed,
			MetadataJSON: fmt.Sprintf(`{"provider_ref":%q}`, providerRef),
			CreatedAt:    now,
		})
	})
	if txErr != nil {
		return Booking{}, txErr
	}
	return record, nil
}

// Reject is the driver's refusal; seats go back to the ride.
func (service *Service) Reject(ctx context.Context, bookingID string, driverID string) (Booking, error) {
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := service.lockBookingForActor(ctx, txStore, bookingID, driverID)
		if err != nil {
			return err
		}
		next, err := targetStatus(current.Status, EventRejected)
		if err != nil {
			return err
		}
		now := service.nowFn()
		current.Status = next
		current.RejectedAt = &now
		releaseFlag, err := service.releaseSeats(ctx, txStore, &current)
		if err != nil {
			return err
		}
		if err := txStore.UpdateBooking(ctx, current); err != nil {
			return err
		}
		record = current
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    current.BookingID,
			Name:         EventRejected,
			PerformerID:  &driverID,
			MetadataJSON: releaseFlag,
			CreatedAt:    now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: "reject",
		BookingID: bookingID,
		ActorID:   driverID,
		Event:     EventRejected,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	service.notify(ctx, record.RiderID, "Booking rejected",
		"The driver rejected your booking", map[string]string{"booking_id": record.BookingID})
	return record, nil
}

// Cancel withdraws a booking after the eligibility guard passes:
// cancellation globally enabled, status cancel-compatible, and the ride
// departure further away than the configured deadline.
func (service *Service) Cancel(ctx context.Context, bookingID string, actorID string, reason string) (Booking, error) {
	record, operationError := service.cancel(ctx, bookingID, actorID, reason)
	service.logOperation(ctx, OperationLog{
		Operation: "cancel",
		BookingID: bookingID,
		ActorID:   actorID,
		Event:     EventCancelled,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return record, nil
}

func (service *Service) cancel(ctx context.Context, bookingID string, actorID string, reason string) (Booking, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return Booking{}, err
	}
	performer, err := normalizeID(actorID, ErrInvalidActorID)
	if err != nil {
		return Booking{}, err
	}
	snapshot, err := service.settings.Snapshot(ctx)
	if err != nil {
		return Booking{}, err
	}
	if !snapshot.CancellationEnabled {
		return Booking{}, ErrCancellationDisabled
	}

	var record Booking
	txErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := txStore.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := targetStatus(current.Status, EventCancelled)
		if err != nil {
			return err
		}
		ride, err := txStore.GetRide(ctx, current.RideID)
		if err == nil {
			if service.nowFn().Add(snapshot.CancellationDeadline).After(ride.DepartsAt) {
				return fmt.Errorf("%w: departs %s", ErrCancellationTooLate, ride.DepartsAt.Format(time.RFC3339))
			}
		} else if !errors.Is(err, ErrRideNotFound) {
			return err
		}
		now := service.nowFn()
		current.Status = next
		current.CancelledAt = &now
		current.CancelReason = reason
		releaseFlag, err := service.releaseSeats(ctx, txStore, &current)
		if err != nil {
			return err
		}
		if err := txStore.UpdateBooking(ctx, current); err != nil {
			return err
		}
		record = current
		metadata, err := NewMetadataJSON(fmt.Sprintf(`{"reason":%q,"flags":%s}`, reason, releaseFlag))
		if err != nil {
			return err
		}
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    current.BookingID,
			Name:         EventCancelled,
			PerformerID:  &performer,
			MetadataJSON: metadata,
			CreatedAt:    now,
		})
	})
	if txErr != nil {
		return Booking{}, txErr
	}
	service.notify(ctx, record.DriverID, "Booking cancelled",
		"A booking on your ride was cancelled", map[string]string{"booking_id": record.BookingID})
	return record, nil
}

// CanBeCancelled evaluates the cancellation guard without mutating
// anything. The authoritative check re-runs inside Cancel's transaction.
func (service *Service) CanBeCancelled(ctx context.Context, bookingID string) (bool, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return false, err
	}
	snapshot, err := service.settings.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	if !snapshot.CancellationEnabled {
		return false, nil
	}
	current, err := service.store.GetBooking(ctx, id)
	if err != nil {
		return false, err
	}
	if !CanTransition(current.Status, EventCancelled) {
		return false, nil
	}
	ride, err := service.store.GetRide(ctx, current.RideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return true, nil
		}
		return false, err
	}
	return !service.nowFn().Add(snapshot.CancellationDeadline).After(ride.DepartsAt), nil
}

// Expire force-transitions a stale hold. System-initiated only: the
// reconciler is the single caller and the event carries no performer.
func (service *Service) Expire(ctx context.Context, bookingID string) (Booking, error) {
	var record Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		current, err := txStore.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		next, err := targetStatus(current.Status, EventExpired)
		if err != nil {
			return err
		}
		now := service.nowFn()
		if now.Before(current.HoldExpiresAt) {
			return fmt.Errorf("%w: hold active until %s", ErrInvalidTransition, current.HoldExpiresAt.Format(time.RFC3339))
		}
		current.Status = next
		releaseFlag, err := service.releaseSeats(ctx, txStore, &current)
		if err != nil {
			return err
		}
		if err := txStore.UpdateBooking(ctx, current); err != nil {
			return err
		}
		record = current
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    current.BookingID,
			Name:         EventExpired,
			MetadataJSON: releaseFlag,
			CreatedAt:    now,
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: "expire",
		BookingID: bookingID,
		Event:     EventExpired,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return record, nil
}

// Refund finalizes a gateway refund. Idempotent on duplicate webhook
// delivery; seats are not touched, they were settled by the transition
// that preceded the refund. Refunding a completed booking claws the
// settled payout back from the driver wallet; the status transition
// commits first, and a failed clawback surfaces as ErrSettlementFailure
// and is re-driven by the next delivery of the same webhook.
func (service *Service) Refund(ctx context.Context, bookingID string, providerRef string) (Booking, error) {
	record, operationError := service.refund(ctx, bookingID, providerRef)
	service.logOperation(ctx, OperationLog{
		Operation: "refund",
		BookingID: bookingID,
		Event:     EventRefunded,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return record, nil
}

func (service *Service) refund(ctx context.Context, bookingID string, providerRef string) (Booking, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return Booking{}, err
	}
	current, err := service.store.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if current.Status == BookingStatusRefunded {
		// Duplicate delivery. The clawback may still be owed if the
		// previous attempt failed after the transition committed; the
		// ledger's uniqueness absorbs the replay when it already landed.
		if current.SettledAt != nil {
			if err := service.reverseSettlement(ctx, current); err != nil {
				return Booking{}, err
			}
		}
		return current, nil
	}
	verdict, err := service.verifier.VerifyPayment(ctx, id, providerRef)
	if err != nil {
		return Booking{}, err
	}
	if verdict != PaymentVerified {
		return Booking{}, fmt.Errorf("%w: provider ref %q", ErrPaymentNotVerified, providerRef)
	}

	var record Booking
	txErr := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		locked, err := txStore.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status == BookingStatusRefunded {
			record = locked
			return nil
		}
		next, err := targetStatus(locked.Status, EventRefunded)
		if err != nil {
			return err
		}
		now := service.nowFn()
		locked.Status = next
		locked.PaymentStatus = PaymentStatusRefunded
		locked.RefundedAt = &now
		if err := txStore.UpdateBooking(ctx, locked); err != nil {
			return err
		}
		record = locked
		return txStore.AppendEvent(ctx, EventInput{
			BookingID:    locked.BookingID,
			Name:         EventRefunded,
			MetadataJSON: fmt.Sprintf(`{"provider_ref":%q}`, providerRef),
			CreatedAt:    now,
		})
	})
	if txErr != nil {
		return Booking{}, txErr
	}
	if record.SettledAt != nil {
		if err := service.reverseSettlement(ctx, record); err != nil {
			return Booking{}, err
		}
	}
	return record, nil
}

// Get returns one booking.
func (service *Service) Get(ctx context.Context, bookingID string) (Booking, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return Booking{}, err
	}
	return service.store.GetBooking(ctx, id)
}

// ListForRide returns all bookings against a ride.
func (service *Service) ListForRide(ctx context.Context, rideID string) ([]Booking, error) {
	id, err := normalizeID(rideID, ErrInvalidRideID)
	if err != nil {
		return nil, err
	}
	return service.store.ListBookingsForRide(ctx, id)
}

// ListForRider returns a rider's booking history, newest first.
func (service *Service) ListForRider(ctx context.Context, riderID string, limit int) ([]Booking, error) {
	id, err := normalizeID(riderID, ErrInvalidActorID)
	if err != nil {
		return nil, err
	}
	return service.store.ListBookingsForRider(ctx, id, limit)
}

// Events returns the booking's append-only audit trail.
func (service *Service) Events(ctx context.Context, bookingID string) ([]EventInput, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return nil, err
	}
	return service.store.ListEvents(ctx, id)
}

// releaseSeats hands the booking's seats back unless a prior transition
// already did. A vanished ride flags the event instead of failing the
// transition; the status write is still the source of truth.
func (service *Service) releaseSeats(ctx context.Context, txStore Store, record *Booking) (string, error) {
	if record.SeatsReleased {
		return `{"seats_released":false}`, nil
	}
	err := releaseLocked(ctx, txStore, record.RideID, record.SeatsRequested)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			return `{"seats_released":false,"seat_release_failed":true}`, nil
		}
		return "", err
	}
	record.SeatsReleased = true
	return `{"seats_released":true}`, nil
}

// lockBookingForActor locks a booking row and checks the acting driver
// owns it.
func (service *Service) lockBookingForActor(ctx context.Context, txStore Store, bookingID string, driverID string) (Booking, error) {
	id, err := normalizeID(bookingID, ErrInvalidBookingID)
	if err != nil {
		return Booking{}, err
	}
	actor, err := normalizeID(driverID, ErrInvalidActorID)
	if err != nil {
		return Booking{}, err
	}
	current, err := txStore.GetBookingForUpdate(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if current.DriverID != actor {
		return Booking{}, fmt.Errorf("%w: actor is not the booking's driver", ErrInvalidActorID)
	}
	return current, nil
}

func (service *Service) notify(ctx context.Context, userID string, title string, body string, data map[string]string) {
	if service.notifier == nil || userID == "" {
		return
	}
	// Fire-and-forget: delivery failures never surface to the caller.
	_ = service.notifier.Notify(ctx, userID, title, body, data)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = "error"
		} else {
			entry.Status = "ok"
		}
	}
	service.logger.LogOperation(ctx, entry)
}
