package httpapi

import (
	"time"

	"github.com/ridepoolhq/ridepool/pkg/booking"
	"github.com/ridepoolhq/ridepool/pkg/wallet"
)

type rideResponse struct {
	RideID            string `json:"ride_id"`
	DriverID          string `json:"driver_id"`
	CityID            string `json:"city_id"`
	Status            string `json:"status"`
	DepartsAt         string `json:"departs_at"`
	PricePerSeatCents int64  `json:"price_per_seat_cents"`
	SeatsTotal        int    `json:"seats_total"`
	SeatsAvailable    int    `json:"seats_available"`
}

type bookingResponse struct {
	BookingID         string  `json:"booking_id"`
	RideID            string  `json:"ride_id"`
	RiderID           string  `json:"rider_id"`
	DriverID          string  `json:"driver_id"`
	CityID            string  `json:"city_id"`
	Status            string  `json:"status"`
	SeatsRequested    int     `json:"seats_requested"`
	PricePerSeatCents int64   `json:"price_per_seat_cents"`
	SubtotalCents     int64   `json:"subtotal_cents"`
	CommissionType    string  `json:"commission_type"`
	CommissionValue   int64   `json:"commission_value"`
	CommissionCents   int64   `json:"commission_cents"`
	TotalCents        int64   `json:"total_cents"`
	PayoutCents       int64   `json:"payout_cents"`
	PaymentMethod     string  `json:"payment_method"`
	PaymentStatus     string  `json:"payment_status"`
	PaymentRef        string  `json:"payment_ref,omitempty"`
	HoldExpiresAt     string  `json:"hold_expires_at"`
	CancelReason      string  `json:"cancel_reason,omitempty"`
	AcceptedAt        *string `json:"accepted_at,omitempty"`
	RejectedAt        *string `json:"rejected_at,omitempty"`
	ConfirmedAt       *string `json:"confirmed_at,omitempty"`
	CancelledAt       *string `json:"cancelled_at,omitempty"`
	CompletedAt       *string `json:"completed_at,omitempty"`
	RefundedAt        *string `json:"refunded_at,omitempty"`
	SettledAt         *string `json:"settled_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

type eventResponse struct {
	BookingID   string  `json:"booking_id"`
	Name        string  `json:"name"`
	PerformerID *string `json:"performer_id,omitempty"`
	Metadata    string  `json:"metadata"`
	CreatedAt   string  `json:"created_at"`
}

type walletResponse struct {
	WalletID               string `json:"wallet_id"`
	DriverID               string `json:"driver_id"`
	BalanceCents           int64  `json:"balance_cents"`
	LifetimeEarnedCents    int64  `json:"lifetime_earned_cents"`
	LifetimeWithdrawnCents int64  `json:"lifetime_withdrawn_cents"`
	CreatedAt              string `json:"created_at"`
}

type transactionResponse struct {
	TransactionID string  `json:"transaction_id"`
	WalletID      string  `json:"wallet_id"`
	BookingID     *string `json:"booking_id,omitempty"`
	Type          string  `json:"type"`
	Direction     string  `json:"direction"`
	AmountCents   int64   `json:"amount_cents"`
	Description   string  `json:"description,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func rideView(ride booking.Ride) rideResponse {
	return rideResponse{
		RideID:            ride.RideID,
		DriverID:          ride.DriverID,
		CityID:            ride.CityID,
		Status:            ride.Status.String(),
		DepartsAt:         formatTime(ride.DepartsAt),
		PricePerSeatCents: ride.PricePerSeatCents,
		SeatsTotal:        ride.SeatsTotal,
		SeatsAvailable:    ride.SeatsAvailable,
	}
}

func bookingView(record booking.Booking) bookingResponse {
	return bookingResponse{
		BookingID:         record.BookingID,
		RideID:            record.RideID,
		RiderID:           record.RiderID,
		DriverID:          record.DriverID,
		CityID:            record.CityID,
		Status:            record.Status.String(),
		SeatsRequested:    record.SeatsRequested,
		PricePerSeatCents: record.PricePerSeatCents,
		SubtotalCents:     record.SubtotalCents,
		CommissionType:    record.CommissionType.String(),
		CommissionValue:   record.CommissionValue,
		CommissionCents:   record.CommissionCents,
		TotalCents:        record.TotalCents,
		PayoutCents:       record.PayoutCents(),
		PaymentMethod:     record.PaymentMethod.String(),
		PaymentStatus:     record.PaymentStatus.String(),
		PaymentRef:        record.PaymentRef,
		HoldExpiresAt:     formatTime(record.HoldExpiresAt),
		CancelReason:      record.CancelReason,
		AcceptedAt:        formatTimePtr(record.AcceptedAt),
		RejectedAt:        formatTimePtr(record.RejectedAt),
		ConfirmedAt:       formatTimePtr(record.ConfirmedAt),
		CancelledAt:       formatTimePtr(record.CancelledAt),
		CompletedAt:       formatTimePtr(record.CompletedAt),
		RefundedAt:        formatTimePtr(record.RefundedAt),
		SettledAt:         formatTimePtr(record.SettledAt),
		CreatedAt:         formatTime(record.CreatedAt),
	}
}

func bookingViews(records []booking.Booking) []bookingResponse {
	views := make([]bookingResponse, 0, len(records))
	for _, record := range records {
		views = append(views, bookingView(record))
	}
	return views
}

func eventViews(events []booking.EventInput) []eventResponse {
	views := make([]eventResponse, 0, len(events))
	for _, event := range events {
		views = append(views, eventResponse{
			BookingID:   event.BookingID,
			Name:        event.Name.String(),
			PerformerID: event.PerformerID,
			Metadata:    event.MetadataJSON,
			CreatedAt:   formatTime(event.CreatedAt),
		})
	}
	return views
}

func walletView(record wallet.Wallet) walletResponse {
	return walletResponse{
		WalletID:               record.WalletID,
		DriverID:               record.DriverID,
		BalanceCents:           record.BalanceCents,
		LifetimeEarnedCents:    record.LifetimeEarnedCents,
		LifetimeWithdrawnCents: record.LifetimeWithdrawnCents,
		CreatedAt:              formatTime(record.CreatedAt),
	}
}

func transactionViews(transactions []wallet.Transaction) []transactionResponse {
	views := make([]transactionResponse, 0, len(transactions))
	for _, transaction := range transactions {
		views = append(views, transactionResponse{
			TransactionID: transaction.TransactionID,
			WalletID:      transaction.WalletID,
			BookingID:     transaction.BookingID,
			Type:          transaction.Type.String(),
			Direction:     transaction.Direction.String(),
			AmountCents:   transaction.AmountCents,
			Description:   transaction.Description,
			CreatedAt:     formatTime(transaction.CreatedAt),
		})
	}
	return views
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func formatTimePtr(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := formatTime(*value)
	return &formatted
}
