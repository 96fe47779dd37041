package settings

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ridepoolhq/ridepool/internal/store/gormstore"
	"github.com/ridepoolhq/ridepool/pkg/booking"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys stored in app_settings.
const (
	KeyHoldWindowMinutes         = "booking_hold_window_minutes"
	KeyCancellationDeadlineHours = "booking_cancellation_deadline_hours"
	KeyCancellationEnabled       = "booking_cancellation_enabled"
	KeyCashPaymentEnabled        = "cash_payment_enabled"
	KeyCommissionType            = "commission_type"
	KeyCommissionValue           = "commission_value"
)

const (
	defaultHoldWindowMinutes         = 30
	defaultCancellationDeadlineHours = 3
	defaultCommissionValue           = 1500 // 15.00%
	defaultCacheTTL                  = 30 * time.Second
)

// Provider is a read-through cached settings accessor over the
// app_settings table. Snapshots may be up to TTL stale; callers
// snapshot once per operation, so a booking's policy never shifts
// mid-transition.
type Provider struct {
	db  *gorm.DB
	ttl time.Duration

	mu        sync.Mutex
	cached    booking.Settings
	fetchedAt time.Time
}

// NewProvider wires a Provider with the given cache TTL (<= 0 uses the
// default).
func NewProvider(db *gorm.DB, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Provider{db: db, ttl: ttl}
}

// Snapshot returns the current settings, served from cache inside the TTL.
func (provider *Provider) Snapshot(ctx context.Context) (booking.Settings, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	if !provider.fetchedAt.IsZero() && time.Since(provider.fetchedAt) < provider.ttl {
		return provider.cached, nil
	}
	snapshot, err := provider.load(ctx)
	if err != nil {
		return booking.Settings{}, err
	}
	provider.cached = snapshot
	provider.fetchedAt = time.Now()
	return snapshot, nil
}

// Invalidate drops the cache so the next Snapshot re-reads the table.
func (provider *Provider) Invalidate() {
	provider.mu.Lock()
	provider.fetchedAt = time.Time{}
	provider.mu.Unlock()
}

// Set upserts one setting and invalidates the cache.
func (provider *Provider) Set(ctx context.Context, key string, value string) error {
	err := provider.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&gormstore.AppSetting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}).Error
	if err != nil {
		return err
	}
	provider.Invalidate()
	return nil
}

func (provider *Provider) load(ctx context.Context) (booking.Settings, error) {
	var rows []gormstore.AppSetting
	if err := provider.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return booking.Settings{}, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}

	snapshot := booking.Settings{
		HoldWindow:           time.Duration(intOr(values, KeyHoldWindowMinutes, defaultHoldWindowMinutes)) * time.Minute,
		CancellationDeadline: time.Duration(intOr(values, KeyCancellationDeadlineHours, defaultCancellationDeadlineHours)) * time.Hour,
		CancellationEnabled:  boolOr(values, KeyCancellationEnabled, true),
		CashPaymentEnabled:   boolOr(values, KeyCashPaymentEnabled, true),
		Commission: booking.CommissionPolicy{
			Type:  booking.CommissionPercent,
			Value: intOr(values, KeyCommissionValue, defaultCommissionValue),
		},
	}
	if raw, ok := values[KeyCommissionType]; ok {
		commissionType, err := booking.ParseCommissionType(raw)
		if err != nil {
			return booking.Settings{}, err
		}
		snapshot.Commission.Type = commissionType
	}
	return snapshot, nil
}

func intOr(values map[string]string, key string, fallback int64) int64 {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func boolOr(values map[string]string, key string, fallback bool) bool {
	raw, ok := values[key]
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
