package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TransactionType enumerates ledger movement kinds.
type TransactionType string

const (
	TransactionEarning    TransactionType = "earning"
	TransactionCommission TransactionType = "commission"
	TransactionRefund     TransactionType = "refund"
	TransactionAdjustment TransactionType = "adjustment"
	TransactionPayout     TransactionType = "payout"
)

// ParseTransactionType validates a stored transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionEarning, TransactionCommission, TransactionRefund,
		TransactionAdjustment, TransactionPayout:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the wire value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// Direction marks which way a movement goes.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// String returns the wire value.
func (direction Direction) String() string {
	return string(direction)
}

// Wallet is a driver's settlement account.
type Wallet struct {
	WalletID               string
	DriverID               string
	BalanceCents           int64
	LifetimeEarnedCents    int64
	LifetimeWithdrawnCents int64
	CreatedAt              time.Time
}

// Transaction is one append-only ledger movement. Never mutated.
type Transaction struct {
	TransactionID string
	WalletID      string
	BookingID     *string
	Type          TransactionType
	Direction     Direction
	AmountCents   int64
	Description   string
	CreatedAt     time.Time
}

// Store is the persistence contract used by the wallet service.
// GetOrCreateWalletForUpdate must take an exclusive row lock so
// concurrent settlements for the same driver serialize.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetWallet(ctx context.Context, driverID string) (Wallet, error)
	GetOrCreateWalletForUpdate(ctx context.Context, driverID string) (Wallet, error)
	InsertTransaction(ctx context.Context, transaction Transaction) error
	UpdateBalances(ctx context.Context, walletID string, balanceCents, lifetimeEarnedCents, lifetimeWithdrawnCents int64) error
	ListTransactions(ctx context.Context, walletID string, limit int) ([]Transaction, error)
}

func normalizeDriverID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidDriverID)
	}
	return trimmed, nil
}
