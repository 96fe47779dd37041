package wallet

import "errors"

// Domain-level error values returned by the wallet service.
var (
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrInsufficientBalance    = errors.New("insufficient wallet balance")
	ErrDuplicateTransaction   = errors.New("duplicate wallet transaction")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrInvalidDriverID        = errors.New("invalid driver id")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidServiceConfig   = errors.New("invalid wallet service config")
)
