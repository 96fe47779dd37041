package wallet

import (
	"context"
	"fmt"
	"time"
)

// Service contains the driver settlement ledger logic over a Store.
// Balance mutations hold the wallet row lock only for the
// read-modify-write; no external I/O happens under the lock.
type Service struct {
	store Store
	nowFn func() time.Time
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Balance returns the driver's wallet, creating it lazily.
func (service *Service) Balance(ctx context.Context, driverID string) (Wallet, error) {
	id, err := normalizeDriverID(driverID)
	if err != nil {
		return Wallet{}, err
	}
	var record Wallet
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err = txStore.GetOrCreateWalletForUpdate(ctx, id)
		return err
	})
	return record, err
}

// History lists the newest ledger movements for a driver.
func (service *Service) History(ctx context.Context, driverID string, limit int) ([]Transaction, error) {
	id, err := normalizeDriverID(driverID)
	if err != nil {
		return nil, err
	}
	record, err := service.store.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, record.WalletID, limit)
}

// PostEarning credits a booking payout: one earning transaction plus an
// atomic balance/lifetime_earned bump under the wallet row lock. A
// second post for the same booking fails with ErrDuplicateTransaction.
func (service *Service) PostEarning(ctx context.Context, driverID string, bookingID string, amountCents int64, description string) error {
	if amountCents < 0 {
		return fmt.Errorf("%w: negative earning", ErrInvalidAmount)
	}
	id, err := normalizeDriverID(driverID)
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err := txStore.GetOrCreateWalletForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := txStore.InsertTransaction(ctx, Transaction{
			WalletID:    record.WalletID,
			BookingID:   &bookingID,
			Type:        TransactionEarning,
			Direction:   DirectionCredit,
			AmountCents: amountCents,
			Description: description,
			CreatedAt:   service.nowFn(),
		}); err != nil {
			return err
		}
		return txStore.UpdateBalances(ctx, record.WalletID,
			record.BalanceCents+amountCents,
			record.LifetimeEarnedCents+amountCents,
			record.LifetimeWithdrawnCents)
	})
}

// PostRefund debits an already-settled payout back after a gateway
// refund. The settlement path never drives a balance negative: a
// shortfall fails loudly for operator follow-up.
func (service *Service) PostRefund(ctx context.Context, driverID string, bookingID string, amountCents int64, description string) error {
	if amountCents < 0 {
		return fmt.Errorf("%w: negative refund", ErrInvalidAmount)
	}
	id, err := normalizeDriverID(driverID)
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err := txStore.GetOrCreateWalletForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if record.BalanceCents < amountCents {
			return fmt.Errorf("%w: balance %d, refund %d", ErrInsufficientBalance, record.BalanceCents, amountCents)
		}
		if err := txStore.InsertTransaction(ctx, Transaction{
			WalletID:    record.WalletID,
			BookingID:   &bookingID,
			Type:        TransactionRefund,
			Direction:   DirectionDebit,
			AmountCents: amountCents,
			Description: description,
			CreatedAt:   service.nowFn(),
		}); err != nil {
			return err
		}
		return txStore.UpdateBalances(ctx, record.WalletID,
			record.BalanceCents-amountCents,
			record.LifetimeEarnedCents,
			record.LifetimeWithdrawnCents)
	})
}

// Adjust applies an explicit admin correction. Signed: a negative
// amount debits and is the only path allowed to take a balance below
// zero.
func (service *Service) Adjust(ctx context.Context, driverID string, amountCents int64, description string) error {
	if amountCents == 0 {
		return fmt.Errorf("%w: zero adjustment", ErrInvalidAmount)
	}
	id, err := normalizeDriverID(driverID)
	if err != nil {
		return err
	}
	direction := DirectionCredit
	magnitude := amountCents
	if amountCents < 0 {
		direction = DirectionDebit
		magnitude = -amountCents
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err := txStore.GetOrCreateWalletForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := txStore.InsertTransaction(ctx, Transaction{
			WalletID:    record.WalletID,
			Type:        TransactionAdjustment,
			Direction:   direction,
			AmountCents: magnitude,
			Description: description,
			CreatedAt:   service.nowFn(),
		}); err != nil {
			return err
		}
		return txStore.UpdateBalances(ctx, record.WalletID,
			record.BalanceCents+amountCents,
			record.LifetimeEarnedCents,
			record.LifetimeWithdrawnCents)
	})
}

// RequestPayout debits a withdrawal if the balance covers it.
func (service *Service) RequestPayout(ctx context.Context, driverID string, amountCents int64, description string) error {
	if amountCents <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	id, err := normalizeDriverID(driverID)
	if err != nil {
		return err
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err := txStore.GetOrCreateWalletForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if record.BalanceCents < amountCents {
			return fmt.Errorf("%w: balance %d, payout %d", ErrInsufficientBalance, record.BalanceCents, amountCents)
		}
		if err := txStore.InsertTransaction(ctx, Transaction{
			WalletID:    record.WalletID,
			Type:        TransactionPayout,
			Direction:   DirectionDebit,
			AmountCents: amountCents,
			Description: description,
			CreatedAt:   service.nowFn(),
		}); err != nil {
			return err
		}
		return txStore.UpdateBalances(ctx, record.WalletID,
			record.BalanceCents-amountCents,
			record.LifetimeEarnedCents,
			record.LifetimeWithdrawnCents+amountCents)
	})
}
