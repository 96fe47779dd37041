package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ridepoolhq/ridepool/pkg/wallet"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintWalletTxBookingType = "uniq_wallet_tx_booking_type"
	pgUniqueViolationCode         = "23505"
	sqliteConstraintCode          = 19
	errorSubjectWallet            = "wallet"
	errorSubjectTransaction       = "transaction"
	errorCodeDuplicate            = "duplicate"
	errorCodeBalances             = "balances"
	defaultHistoryLimit           = 50
)

// WalletStore implements wallet.Store over the same gorm.DB as Store.
type WalletStore struct {
	db *gorm.DB
}

// NewWalletStore returns a WalletStore backed by gorm.DB.
func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *WalletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &WalletStore{db: transaction})
	})
}

func (store *WalletStore) GetWallet(ctx context.Context, driverID string) (wallet.Wallet, error) {
	var model DriverWallet
	err := store.db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
		}
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(model), nil
}

func (store *WalletStore) GetOrCreateWalletForUpdate(ctx context.Context, driverID string) (wallet.Wallet, error) {
	var model DriverWallet
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("driver_id = ?", driverID).
		Take(&model).Error
	if err == nil {
		return mapWallet(model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}

	model = DriverWallet{DriverID: driverID}
	createErr := store.db.WithContext(ctx).Create(&model).Error
	if createErr != nil {
		// Lost a create race: re-read under the lock.
		if isUniqueViolation(createErr, "") {
			reread := store.db.WithContext(ctx).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("driver_id = ?", driverID).
				Take(&model).Error
			if reread != nil {
				return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, reread)
			}
			return mapWallet(model), nil
		}
		return wallet.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, createErr)
	}
	return mapWallet(model), nil
}

func (store *WalletStore) InsertTransaction(ctx context.Context, transaction wallet.Transaction) error {
	createdAt := transaction.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := WalletTransaction{
		WalletID:    transaction.WalletID,
		BookingID:   transaction.BookingID,
		Type:        transaction.Type.String(),
		Direction:   transaction.Direction.String(),
		AmountCents: transaction.AmountCents,
		Description: transaction.Description,
		CreatedAt:   createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintWalletTxBookingType) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, wallet.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *WalletStore) UpdateBalances(ctx context.Context, walletID string, balanceCents, lifetimeEarnedCents, lifetimeWithdrawnCents int64) error {
	result := store.db.WithContext(ctx).
		Model(&DriverWallet{}).
		Where("wallet_id = ?", walletID).
		Updates(map[string]interface{}{
			"balance_cents":            balanceCents,
			"lifetime_earned_cents":    lifetimeEarnedCents,
			"lifetime_withdrawn_cents": lifetimeWithdrawnCents,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeBalances, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeBalances, wallet.ErrWalletNotFound)
	}
	return nil
}

func (store *WalletStore) ListTransactions(ctx context.Context, walletID string, limit int) ([]wallet.Transaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	var rows []WalletTransaction
	err := store.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transactionType, err := wallet.ParseTransactionType(row.Type)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, wallet.Transaction{
			TransactionID: row.TransactionID,
			WalletID:      row.WalletID,
			BookingID:     row.BookingID,
			Type:          transactionType,
			Direction:     wallet.Direction(row.Direction),
			AmountCents:   row.AmountCents,
			Description:   row.Description,
			CreatedAt:     row.CreatedAt,
		})
	}
	return transactions, nil
}

func mapWallet(model DriverWallet) wallet.Wallet {
	return wallet.Wallet{
		WalletID:               model.WalletID,
		DriverID:               model.DriverID,
		BalanceCents:           model.BalanceCents,
		LifetimeEarnedCents:    model.LifetimeEarnedCents,
		LifetimeWithdrawnCents: model.LifetimeWithdrawnCents,
		CreatedAt:              model.CreatedAt,
	}
}

// isUniqueViolation classifies unique-constraint failures across the
// supported drivers. An empty constraint matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
