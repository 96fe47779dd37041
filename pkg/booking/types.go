package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RideStatus defines the ride lifecycle.
type RideStatus string

const (
	RideStatusDraft     RideStatus = "draft"
	RideStatusPublished RideStatus = "published"
	RideStatusCancelled RideStatus = "cancelled"
	RideStatusCompleted RideStatus = "completed"
)

// ParseRideStatus validates a stored ride status.
func ParseRideStatus(raw string) (RideStatus, error) {
	switch RideStatus(raw) {
	case RideStatusDraft, RideStatusPublished, RideStatusCancelled, RideStatusCompleted:
		return RideStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRideStatus, raw)
}

// String returns the wire value.
func (status RideStatus) String() string {
	return string(status)
}

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	BookingStatusRequested      BookingStatus = "requested"
	BookingStatusAccepted       BookingStatus = "accepted"
	BookingStatusPaymentPending BookingStatus = "payment_pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusCancelled      BookingStatus = "cancelled"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusExpired        BookingStatus = "expired"
	BookingStatusRejected       BookingStatus = "rejected"
	BookingStatusRefunded       BookingStatus = "refunded"
)

// ParseBookingStatus validates a stored booking status.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case BookingStatusRequested, BookingStatusAccepted, BookingStatusPaymentPending,
		BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted,
		BookingStatusExpired, BookingStatusRejected, BookingStatusRefunded:
		return BookingStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
}

// String returns the wire value.
func (status BookingStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transitions are legal.
// Completed is not terminal: a gateway refund can still move it to
// refunded.
func (status BookingStatus) IsTerminal() bool {
	switch status {
	case BookingStatusRejected, BookingStatusCancelled,
		BookingStatusExpired, BookingStatusRefunded:
		return true
	}
	return false
}

// Event enumerates audit-trail event names.
type Event string

const (
	EventCreated          Event = "created"
	EventAccepted         Event = "accepted"
	EventRejected         Event = "rejected"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventCancelled        Event = "cancelled"
	EventExpired          Event = "expired"
	EventCompleted        Event = "completed"
	EventRefunded         Event = "refunded"
	EventSettled          Event = "settled"
)

// String returns the wire value.
func (event Event) String() string {
	return string(event)
}

// PaymentMethod enumerates how a rider pays.
type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "cash"
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodUPI  PaymentMethod = "upi"
)

// ParsePaymentMethod validates a payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(raw) {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodUPI:
		return PaymentMethod(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
}

// String returns the wire value.
func (method PaymentMethod) String() string {
	return string(method)
}

// RequiresGateway reports whether the method settles through a payment gateway.
func (method PaymentMethod) RequiresGateway() bool {
	return method != PaymentMethodCash
}

// PaymentStatus tracks the rider-side payment state.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// String returns the wire value.
func (status PaymentStatus) String() string {
	return string(status)
}

// CommissionType selects how the platform cut is computed.
type CommissionType string

const (
	CommissionPercent CommissionType = "percent"
	CommissionFlat    CommissionType = "flat"
)

// ParseCommissionType validates a commission type.
func ParseCommissionType(raw string) (CommissionType, error) {
	switch CommissionType(raw) {
	case CommissionPercent, CommissionFlat:
		return CommissionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCommissionType, raw)
}

// String returns the wire value.
func (commissionType CommissionType) String() string {
	return string(commissionType)
}

// CommissionPolicy is the platform cut in effect when a booking is created.
// Value carries hundredths: 1500 means 15.00% for percent, 1500 cents for flat.
type CommissionPolicy struct {
	Type  CommissionType
	Value int64
}

// Quote is the monetary breakdown of a booking, all amounts in cents.
type Quote struct {
	SubtotalCents   int64
	CommissionCents int64
	TotalCents      int64
}

// Settings is a point-in-time snapshot of the runtime configuration the
// booking core depends on. Provider caches may serve values up to their
// TTL stale.
type Settings struct {
	HoldWindow           time.Duration
	CancellationDeadline time.Duration
	CancellationEnabled  bool
	CashPaymentEnabled   bool
	Commission           CommissionPolicy
}

// SettingsProvider exposes the cached runtime configuration.
type SettingsProvider interface {
	Snapshot(ctx context.Context) (Settings, error)
}

// Ride is a driver-published offer of transport.
type Ride struct {
	RideID            string
	DriverID          string
	CityID            string
	Status            RideStatus
	DepartsAt         time.Time
	PricePerSeatCents int64
	SeatsTotal        int
	SeatsAvailable    int
}

// Booking is a rider's claim on seats of a ride. Monetary fields are
// snapshots taken at creation and never recomputed.
type Booking struct {
	BookingID         string
	RideID            string
	RiderID           string
	DriverID          string
	CityID            string
	Status            BookingStatus
	SeatsRequested    int
	PricePerSeatCents int64
	SubtotalCents     int64
	CommissionType    CommissionType
	CommissionValue   int64
	CommissionCents   int64
	TotalCents        int64
	PaymentMethod     PaymentMethod
	PaymentStatus     PaymentStatus
	PaymentRef        string
	HoldExpiresAt     time.Time
	SeatsReleased     bool
	CancelReason      string
	AcceptedAt        *time.Time
	RejectedAt        *time.Time
	ConfirmedAt       *time.Time
	CancelledAt       *time.Time
	CompletedAt       *time.Time
	RefundedAt        *time.Time
	SettledAt         *time.Time
	CreatedAt         time.Time
}

// PayoutCents is the driver's settlement amount for this booking.
func (record Booking) PayoutCents() int64 {
	return record.SubtotalCents - record.CommissionCents
}

// EventInput is an append-only audit record for a state transition.
// A nil PerformerID marks a system-initiated transition.
type EventInput struct {
	BookingID    string
	Name         Event
	PerformerID  *string
	MetadataJSON string
	CreatedAt    time.Time
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (string, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return "", fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return normalized, nil
}

func normalizeID(raw string, invalid error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", invalid)
	}
	return trimmed, nil
}

// Store is the persistence contract used by the booking core.
// Implementations must make WithTx transactional and serialize
// ...ForUpdate reads with an exclusive row lock.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateRide(ctx context.Context, ride Ride) (Ride, error)
	GetRide(ctx context.Context, rideID string) (Ride, error)
	GetRideForUpdate(ctx context.Context, rideID string) (Ride, error)
	SetSeatsAvailable(ctx context.Context, rideID string, seats int) error
	UpdateRideStatus(ctx context.Context, rideID string, from, to RideStatus) error

	CreateBooking(ctx context.Context, record Booking) (Booking, error)
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	GetBookingForUpdate(ctx context.Context, bookingID string) (Booking, error)
	UpdateBooking(ctx context.Context, record Booking) error
	ListBookingsForRide(ctx context.Context, rideID string) ([]Booking, error)
	ListBookingsForRider(ctx context.Context, riderID string, limit int) ([]Booking, error)
	ListExpiredHolds(ctx context.Context, at time.Time, limit int) ([]Booking, error)
	ListUnsettledCompleted(ctx context.Context, limit int) ([]Booking, error)

	AppendEvent(ctx context.Context, event EventInput) error
	ListEvents(ctx context.Context, bookingID string) ([]EventInput, error)
}
