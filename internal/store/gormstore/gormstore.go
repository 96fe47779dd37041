package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/ridepoolhq/ridepool/pkg/booking"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	errorOperationStore     = "store"
	errorSubjectRide        = "ride"
	errorSubjectBooking     = "booking"
	errorSubjectEvent       = "event"
	errorSubjectCronRun     = "cron_run"
	errorCodeCreate         = "create"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
	errorCodeUpdateSeats    = "update_seats"
	defaultRiderListLimit   = 50
	defaultUnsettledLimit   = 100
	defaultExpiredHoldLimit = 200
)

// Store implements booking.Store and booking.CronRunRecorder using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateRide(ctx context.Context, ride booking.Ride) (booking.Ride, error) {
	model := Ride{
		RideID:            ride.RideID,
		DriverID:          ride.DriverID,
		CityID:            ride.CityID,
		Status:            ride.Status.String(),
		DepartsAt:         ride.DepartsAt,
		PricePerSeatCents: ride.PricePerSeatCents,
		SeatsTotal:        ride.SeatsTotal,
		SeatsAvailable:    ride.SeatsAvailable,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return booking.Ride{}, wrapStoreError(errorSubjectRide, errorCodeCreate, err)
	}
	return mapRide(model)
}

func (store *Store) GetRide(ctx context.Context, rideID string) (booking.Ride, error) {
	var model Ride
	err := store.db.WithContext(ctx).
		Where("ride_id = ?", rideID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Ride{}, wrapStoreError(errorSubjectRide, errorCodeGet, booking.ErrRideNotFound)
		}
		return booking.Ride{}, wrapStoreError(errorSubjectRide, errorCodeGet, err)
	}
	return mapRide(model)
}

func (store *Store) GetRideForUpdate(ctx context.Context, rideID string) (booking.Ride, error) {
	var model Ride
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("ride_id = ?", rideID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Ride{}, wrapStoreError(errorSubjectRide, errorCodeGet, booking.ErrRideNotFound)
		}
		return booking.Ride{}, wrapStoreError(errorSubjectRide, errorCodeGet, err)
	}
	return mapRide(model)
}

func (store *Store) SetSeatsAvailable(ctx context.Context, rideID string, seats int) error {
	result := store.db.WithContext(ctx).
		Model(&Ride{}).
		Where("ride_id = ? AND ? BETWEEN 0 AND seats_total", rideID, seats).
		Update("seats_available", seats)
	if result.Error != nil {
		return wrapStoreError(errorSubjectRide, errorCodeUpdateSeats, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRide, errorCodeUpdateSeats, booking.ErrRideNotFound)
	}
	return nil
}

func (store *Store) UpdateRideStatus(ctx context.Context, rideID string, from, to booking.RideStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Ride{}).
		Where("ride_id = ? AND status = ?", rideID, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectRide, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRide, errorCodeUpdateStatus, booking.ErrInvalidTransition)
	}
	return nil
}

func (store *Store) CreateBooking(ctx context.Context, record booking.Booking) (booking.Booking, error) {
	model := bookingModel(record)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return mapBooking(model)
}

func (store *Store) GetBooking(ctx context.Context, bookingID string) (booking.Booking, error) {
	return store.getBooking(ctx, bookingID, false)
}

func (store *Store) GetBookingForUpdate(ctx context.Context, bookingID string) (booking.Booking, error) {
	return store.getBooking(ctx, bookingID, true)
}

func (store *Store) getBooking(ctx context.Context, bookingID string, forUpdate bool) (booking.Booking, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Booking
	err := query.Where("booking_id = ?", bookingID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return mapBooking(model)
}

func (store *Store) UpdateBooking(ctx context.Context, record booking.Booking) error {
	model := bookingModel(record)
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", record.BookingID).
		Select("status", "payment_status", "payment_ref", "seats_released", "cancel_reason",
			"accepted_at", "rejected_at", "confirmed_at", "cancelled_at",
			"completed_at", "refunded_at", "settled_at").
		Updates(&model)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, booking.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) ListBookingsForRide(ctx context.Context, rideID string) ([]booking.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("ride_id = ?", rideID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) ListBookingsForRider(ctx context.Context, riderID string, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		limit = defaultRiderListLimit
	}
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("rider_id = ?", riderID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) ListExpiredHolds(ctx context.Context, at time.Time, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		limit = defaultExpiredHoldLimit
	}
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status IN ? AND hold_expires_at <= ?",
			[]string{booking.BookingStatusRequested.String(), booking.BookingStatusPaymentPending.String()}, at).
		Order("hold_expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) ListUnsettledCompleted(ctx context.Context, limit int) ([]booking.Booking, error) {
	if limit <= 0 {
		limit = defaultUnsettledLimit
	}
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status = ? AND settled_at IS NULL", booking.BookingStatusCompleted.String()).
		Order("completed_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) AppendEvent(ctx context.Context, event booking.EventInput) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := BookingEvent{
		BookingID:   event.BookingID,
		Name:        event.Name.String(),
		PerformerID: event.PerformerID,
		Metadata:    datatypesJSON(event.MetadataJSON),
		CreatedAt:   createdAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEvents(ctx context.Context, bookingID string) ([]booking.EventInput, error) {
	var rows []BookingEvent
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]booking.EventInput, 0, len(rows))
	for _, row := range rows {
		events = append(events, booking.EventInput{
			BookingID:    row.BookingID,
			Name:         booking.Event(row.Name),
			PerformerID:  row.PerformerID,
			MetadataJSON: string(row.Metadata),
			CreatedAt:    row.CreatedAt,
		})
	}
	return events, nil
}

// RecordCronRun implements booking.CronRunRecorder.
func (store *Store) RecordCronRun(ctx context.Context, jobName string, status string, message string) error {
	model := CronRun{JobName: jobName, Status: status, Message: message, CreatedAt: time.Now().UTC()}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectCronRun, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func bookingModel(record booking.Booking) Booking {
	return Booking{
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
		PaymentMethod:     record.PaymentMethod.String(),
		PaymentStatus:     record.PaymentStatus.String(),
		PaymentRef:        record.PaymentRef,
		HoldExpiresAt:     record.HoldExpiresAt,
		SeatsReleased:     record.SeatsReleased,
		CancelReason:      record.CancelReason,
		AcceptedAt:        record.AcceptedAt,
		RejectedAt:        record.RejectedAt,
		ConfirmedAt:       record.ConfirmedAt,
		CancelledAt:       record.CancelledAt,
		CompletedAt:       record.CompletedAt,
		RefundedAt:        record.RefundedAt,
		SettledAt:         record.SettledAt,
		CreatedAt:         record.CreatedAt,
	}
}

func mapRide(model Ride) (booking.Ride, error) {
	status, err := booking.ParseRideStatus(model.Status)
	if err != nil {
		return booking.Ride{}, wrapStoreError(errorSubjectRide, errorCodeInvalid, err)
	}
	return booking.Ride{
		RideID:            model.RideID,
		DriverID:          model.DriverID,
		CityID:            model.CityID,
		Status:            status,
		DepartsAt:         model.DepartsAt,
		PricePerSeatCents: model.PricePerSeatCents,
		SeatsTotal:        model.SeatsTotal,
		SeatsAvailable:    model.SeatsAvailable,
	}, nil
}

func mapBookings(rows []Booking) ([]booking.Booking, error) {
	records := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		record, err := mapBooking(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func mapBooking(model Booking) (booking.Booking, error) {
	status, err := booking.ParseBookingStatus(model.Status)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	commissionType, err := booking.ParseCommissionType(model.CommissionType)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	paymentMethod, err := booking.ParsePaymentMethod(model.PaymentMethod)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking.Booking{
		BookingID:         model.BookingID,
		RideID:            model.RideID,
		RiderID:           model.RiderID,
		DriverID:          model.DriverID,
		CityID:            model.CityID,
		Status:            status,
		SeatsRequested:    model.SeatsRequested,
		PricePerSeatCents: model.PricePerSeatCents,
		SubtotalCents:     model.SubtotalCents,
		CommissionType:    commissionType,
		CommissionValue:   model.CommissionValue,
		CommissionCents:   model.CommissionCents,
		TotalCents:        model.TotalCents,
		PaymentMethod:     paymentMethod,
		PaymentStatus:     booking.PaymentStatus(model.PaymentStatus),
		PaymentRef:        model.PaymentRef,
		HoldExpiresAt:     model.HoldExpiresAt,
		SeatsReleased:     model.SeatsReleased,
		CancelReason:      model.CancelReason,
		AcceptedAt:        model.AcceptedAt,
		RejectedAt:        model.RejectedAt,
		ConfirmedAt:       model.ConfirmedAt,
		CancelledAt:       model.CancelledAt,
		CompletedAt:       model.CompletedAt,
		RefundedAt:        model.RefundedAt,
		SettledAt:         model.SettledAt,
		CreatedAt:         model.CreatedAt,
	}, nil
}
