package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ride mirrors the rides table.
type Ride struct {
	RideID            string    `gorm:"type:uuid;primaryKey"`
	DriverID          string    `gorm:"not null;index"`
	CityID            string    `gorm:"index"`
	Status            string    `gorm:"not null;index"`
	DepartsAt         time.Time `gorm:"not null"`
	PricePerSeatCents int64     `gorm:"not null"`
	SeatsTotal        int       `gorm:"not null"`
	SeatsAvailable    int       `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (Ride) TableName() string { return "rides" }

func (ride *Ride) BeforeCreate(tx *gorm.DB) error {
	if ride.RideID == "" {
		ride.RideID = uuid.NewString()
	}
	return nil
}

// Booking mirrors the bookings table. Monetary columns are creation-time
// snapshots and never updated after insert.
type Booking struct {
	BookingID         string     `gorm:"type:uuid;primaryKey"`
	RideID            string     `gorm:"type:uuid;not null;index"`
	RiderID           string     `gorm:"not null;index"`
	DriverID          string     `gorm:"not null;index"`
	CityID            string     `gorm:""`
	Status            string     `gorm:"not null;index:idx_bookings_status_hold,priority:1"`
	SeatsRequested    int        `gorm:"not null"`
	PricePerSeatCents int64      `gorm:"not null"`
	SubtotalCents     int64      `gorm:"not null"`
	CommissionType    string     `gorm:"not null"`
	CommissionValue   int64      `gorm:"not null"`
	CommissionCents   int64      `gorm:"not null"`
	TotalCents        int64      `gorm:"not null"`
	PaymentMethod     string     `gorm:"not null"`
	PaymentStatus     string     `gorm:"not null"`
	PaymentRef        string     `gorm:""`
	HoldExpiresAt     time.Time  `gorm:"not null;index:idx_bookings_status_hold,priority:2"`
	SeatsReleased     bool       `gorm:"not null;default:false"`
	CancelReason      string     `gorm:""`
	AcceptedAt        *time.Time `gorm:""`
	RejectedAt        *time.Time `gorm:""`
	ConfirmedAt       *time.Time `gorm:""`
	CancelledAt       *time.Time `gorm:""`
	CompletedAt       *time.Time `gorm:""`
	RefundedAt        *time.Time `gorm:""`
	SettledAt         *time.Time `gorm:"index"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// BookingEvent mirrors the booking_events table. Write-once.
type BookingEvent struct {
	EventID     string         `gorm:"type:uuid;primaryKey"`
	BookingID   string         `gorm:"type:uuid;not null;index:idx_booking_events_booking_created,priority:1"`
	Name        string         `gorm:"not null"`
	PerformerID *string        `gorm:""`
	Metadata    datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_booking_events_booking_created,priority:2"`
}

func (BookingEvent) TableName() string { return "booking_events" }

func (event *BookingEvent) BeforeCreate(tx *gorm.DB) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return nil
}

// DriverWallet mirrors the driver_wallets table.
type DriverWallet struct {
	WalletID               string    `gorm:"type:uuid;primaryKey"`
	DriverID               string    `gorm:"not null;uniqueIndex"`
	BalanceCents           int64     `gorm:"not null;default:0"`
	LifetimeEarnedCents    int64     `gorm:"not null;default:0"`
	LifetimeWithdrawnCents int64     `gorm:"not null;default:0"`
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
}

func (DriverWallet) TableName() string { return "driver_wallets" }

func (wallet *DriverWallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.WalletID == "" {
		wallet.WalletID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the wallet_transactions table. Append-only;
// the (booking_id, type) uniqueness is what makes settlement re-drives
// double-pay-safe.
type WalletTransaction struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	WalletID      string    `gorm:"type:uuid;not null;index"`
	BookingID     *string   `gorm:"index:uniq_wallet_tx_booking_type,unique,priority:1"`
	Type          string    `gorm:"not null;index:uniq_wallet_tx_booking_type,unique,priority:2"`
	Direction     string    `gorm:"not null"`
	AmountCents   int64     `gorm:"not null"`
	Description   string    `gorm:""`
	CreatedAt     time.Time `gorm:"not null"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// CronRun mirrors the cron_runs table.
type CronRun struct {
	RunID     string    `gorm:"type:uuid;primaryKey"`
	JobName   string    `gorm:"not null;index"`
	Status    string    `gorm:"not null"`
	Message   string    `gorm:""`
	CreatedAt time.Time `gorm:"not null"`
}

func (CronRun) TableName() string { return "cron_runs" }

func (run *CronRun) BeforeCreate(tx *gorm.DB) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	return nil
}

// AppSetting mirrors the app_settings table backing the settings provider.
type AppSetting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AppSetting) TableName() string { return "app_settings" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Ride{},
		&Booking{},
		&BookingEvent{},
		&DriverWallet{},
		&WalletTransaction{},
		&CronRun{},
		&AppSetting{},
	}
}
