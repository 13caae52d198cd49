// internal/wallet/errors.go
package wallet

import "errors"

var (
	// ErrValidation wraps address/amount/currency rejections made before
	// any external call.
	ErrValidation = errors.New("wallet: validation failed")

	ErrWalletNotFound = errors.New("wallet: wallet not found")
	ErrWalletExists   = errors.New("wallet: wallet already exists for this user")
	ErrWalletInactive = errors.New("wallet: wallet is deactivated")

	// ErrInsufficientFunds means the freshly observed on-chain balance is
	// below the requested transfer amount. Business-rule rejection, not
	// retried.
	ErrInsufficientFunds = errors.New("wallet: insufficient balance")

	// ErrInsufficientDeposits means completed KES deposits inside the
	// trailing 24h window do not cover the requested swap.
	ErrInsufficientDeposits = errors.New("wallet: insufficient MPESA deposits for swap")

	// ErrTransferPending means the transfer was submitted but the node did
	// not answer before the deadline. It may still mine; the ledger row
	// stays pending with the hash attached, and the caller should poll the
	// returned reference instead of retrying.
	ErrTransferPending = errors.New("wallet: transfer submitted, confirmation pending")
)
