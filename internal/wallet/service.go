// internal/wallet/service.go
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/safarypto/safarypto/internal/chain"
	"github.com/safarypto/safarypto/internal/db"
	"github.com/safarypto/safarypto/internal/ledger"
	"github.com/safarypto/safarypto/internal/logging"
	"github.com/safarypto/safarypto/internal/rates"
)

// swapWindow bounds the deposit sum a swap may draw on. A heuristic guard
// against repeat swaps, not a ledger-backed reservation: nothing marks a
// deposit as consumed, so the window is the only thing stopping the same
// deposits funding two swaps.
const swapWindow = 24 * time.Hour

// ChainClient is the slice of the blockchain client the wallet service
// needs.
type ChainClient interface {
	CreateAccount() (address string, privateKey string, err error)
	Send(ctx context.Context, privateKeyHex, toAddress string, amount decimal.Decimal, currency db.Currency) (string, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	GetTokenBalance(ctx context.Context, address string) (decimal.Decimal, error)
	ValidateAddress(address string) bool
}

// KeyKeeper guards signing material at rest.
type KeyKeeper interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Service owns wallet provisioning, the cached balance, custodial transfers,
// and deposit-to-crypto swaps. The cached balance is mutated here and
// nowhere else.
type Service struct {
	gdb    *gorm.DB
	ledger *ledger.Ledger
	chain  ChainClient
	keeper KeyKeeper
	rates  *rates.Table
}

func NewService(gdb *gorm.DB, l *ledger.Ledger, chain ChainClient, keeper KeyKeeper, table *rates.Table) *Service {
	return &Service{gdb: gdb, ledger: l, chain: chain, keeper: keeper, rates: table}
}

// CreateWallet provisions the user's custodial wallet: one per user, the
// signing key encrypted before it touches storage.
func (s *Service) CreateWallet(ctx context.Context, userID int64) (*db.Wallet, error) {
	var wallet *db.Wallet

	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user db.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				user = db.User{ID: userID}
				if err := tx.Create(&user).Error; err != nil {
					return fmt.Errorf("wallet: failed to create user: %w", err)
				}
			} else {
				return fmt.Errorf("wallet: error while searching for user: %w", err)
			}
		}

		var existing db.Wallet
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		if err == nil {
			return ErrWalletExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("wallet: wallet lookup failed: %w", err)
		}

		address, privateKey, err := s.chain.CreateAccount()
		if err != nil {
			return fmt.Errorf("wallet: failed to create account: %w", err)
		}

		encrypted, err := s.keeper.Encrypt(privateKey)
		if err != nil {
			return fmt.Errorf("wallet: failed to encrypt private key: %w", err)
		}

		wallet = &db.Wallet{
			UserID:              userID,
			Address:             address,
			PrivateKeyEncrypted: encrypted,
			Balance:             decimal.Zero,
			Currency:            db.CurrencyETH,
			IsActive:            true,
			LastSyncedAt:        time.Now(),
		}
		if err := tx.Create(wallet).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrWalletExists
			}
			return fmt.Errorf("wallet: failed to save wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("wallet created", zap.Int64("userID", userID), zap.String("address", wallet.Address))
	return wallet, nil
}

func (s *Service) WalletByUserID(ctx context.Context, userID int64) (*db.Wallet, error) {
	var wallet db.Wallet
	if err := s.gdb.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet: lookup failed: %w", err)
	}
	return &wallet, nil
}

// Deactivate retires a wallet. Wallets are never deleted.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	res := s.gdb.WithContext(ctx).
		Model(&db.Wallet{}).
		Where("user_id = ? AND is_active", userID).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("wallet: deactivation failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}

type Balance struct {
	Balance    decimal.Decimal `json:"balance"`
	Currency   db.Currency     `json:"currency"`
	Address    string          `json:"address"`
	LastSynced time.Time       `json:"lastSynced"`
}

// GetBalance refreshes the cached balance from the chain and persists it
// with a new sync timestamp. Read-through: the cache is only ever "as of
// last sync".
func (s *Service) GetBalance(ctx context.Context, userID int64) (*Balance, error) {
	wallet, err := s.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	observed, err := s.observedBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}

	syncedAt := time.Now()
	if err := s.updateBalance(ctx, wallet.ID, observed, syncedAt); err != nil {
		return nil, err
	}

	return &Balance{
		Balance:    observed,
		Currency:   wallet.Currency,
		Address:    wallet.Address,
		LastSynced: syncedAt,
	}, nil
}

type TransferResult struct {
	Reference string          `json:"reference"`
	TxHash    string          `json:"txHash"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  db.Currency     `json:"currency"`
}

// Transfer moves value from the custodial wallet to an external address.
// The spend decision uses a fresh chain read, never the cache; the signing
// key exists in plaintext only between decrypt and send. The ledger row is
// created pending before submission so a timed-out-but-mined transfer can
// never debit the chain without a record; on timeout the row stays pending
// and the caller gets ErrTransferPending alongside the partial result.
func (s *Service) Transfer(ctx context.Context, userID int64, toAddress string, amount decimal.Decimal, currency db.Currency) (*TransferResult, error) {
	if !s.chain.ValidateAddress(toAddress) {
		return nil, fmt.Errorf("%w: invalid recipient address: %s", ErrValidation, toAddress)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: transfer amount must be positive", ErrValidation)
	}
	if currency != db.CurrencyETH && currency != db.CurrencyUSDT {
		return nil, fmt.Errorf("%w: unsupported transfer currency: %s", ErrValidation, currency)
	}

	wallet, err := s.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, ErrWalletInactive
	}

	observed, err := s.observedBalanceFor(ctx, wallet, currency)
	if err != nil {
		return nil, err
	}
	if observed.LessThan(amount) {
		logging.Warn("transfer rejected, insufficient balance",
			zap.Int64("userID", userID),
			zap.String("observed", observed.String()),
			zap.String("requested", amount.String()))
		return nil, ErrInsufficientFunds
	}

	privateKey, err := s.keeper.Decrypt(wallet.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("wallet: failed to decrypt private key: %w", err)
	}

	reference := ledger.GenerateReference()
	entry := &db.Transaction{
		UserID:      userID,
		Kind:        db.KindCryptoTransfer,
		Amount:      amount,
		Currency:    currency,
		Status:      db.StatusPending,
		Reference:   reference,
		FromAddress: wallet.Address,
		ToAddress:   toAddress,
		Description: fmt.Sprintf("%s transfer to %s", currency, toAddress),
	}
	if err := s.ledger.Create(ctx, entry); err != nil {
		// No row, no submission: value must never move unaudited.
		return nil, fmt.Errorf("wallet: failed to record pending transfer: %w", err)
	}

	txHash, err := s.chain.Send(ctx, privateKey, toAddress, amount, currency)
	if err != nil {
		if errors.Is(err, chain.ErrSubmissionTimeout) {
			// The transaction may still mine. Keep the row pending with the
			// hash attached and tell the caller to poll, not retry.
			if txHash != "" {
				if aerr := s.ledger.AttachChainHash(ctx, entry.ID, txHash); aerr != nil {
					logging.Error("failed to attach hash to pending transfer",
						zap.String("reference", reference), zap.Error(aerr))
				}
			}
			logging.Warn("transfer outcome unknown after submission timeout",
				zap.Int64("userID", userID),
				zap.String("reference", reference),
				zap.String("txHash", txHash))
			return &TransferResult{Reference: reference, TxHash: txHash, Amount: amount, Currency: currency},
				ErrTransferPending
		}

		reason := err.Error()
		if _, terr := s.ledger.Transition(ctx, entry.ID,
			[]db.TxStatus{db.StatusPending}, db.StatusFailed,
			ledger.Patch{Metadata: datatypes.JSONMap{db.MetaFailureReason: reason}}); terr != nil {
			logging.Error("failed to mark rejected transfer failed",
				zap.String("reference", reference), zap.Error(terr))
		}
		return nil, fmt.Errorf("wallet: failed to send transaction: %w", err)
	}

	hashPatch := txHash
	if _, err := s.ledger.Transition(ctx, entry.ID,
		[]db.TxStatus{db.StatusPending}, db.StatusCompleted,
		ledger.Patch{ChainHash: &hashPatch}); err != nil {
		// The transfer is on-chain; the stuck pending row is an audit
		// problem, not a reason to report failure to the caller.
		logging.Error("failed to complete transfer record",
			zap.String("txHash", txHash), zap.Error(err))
	}

	if err := s.updateBalance(ctx, wallet.ID, observed.Sub(amount), time.Now()); err != nil {
		// Best effort; the next GetBalance reconciles truth.
		logging.Warn("failed to update cached balance after transfer", zap.Error(err))
	}

	logging.Info("transfer completed",
		zap.Int64("userID", userID),
		zap.String("txHash", txHash),
		zap.String("amount", amount.String()))
	return &TransferResult{Reference: reference, TxHash: txHash, Amount: amount, Currency: currency}, nil
}

type SwapResult struct {
	Reference      string          `json:"reference"`
	KesAmount      decimal.Decimal `json:"kesAmount"`
	CreditedAmount decimal.Decimal `json:"creditedAmount"`
	Currency       db.Currency     `json:"currency"`
	Rate           decimal.Decimal `json:"exchangeRate"`
}

// Swap converts confirmed KES deposits into crypto credit at the fixed rate.
// Eligibility is the sum of completed deposits inside the trailing window.
func (s *Service) Swap(ctx context.Context, userID int64, kesAmount decimal.Decimal, currency db.Currency) (*SwapResult, error) {
	if !kesAmount.IsPositive() {
		return nil, fmt.Errorf("%w: swap amount must be positive", ErrValidation)
	}

	rate, err := s.rates.Rate(currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	wallet, err := s.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, ErrWalletInactive
	}

	deposited, err := s.ledger.SumCompletedDeposits(ctx, userID, db.CurrencyKES, time.Now().Add(-swapWindow))
	if err != nil {
		return nil, err
	}
	if deposited.LessThan(kesAmount) {
		logging.Warn("swap rejected, insufficient deposits",
			zap.Int64("userID", userID),
			zap.String("deposited", deposited.String()),
			zap.String("requested", kesAmount.String()))
		return nil, ErrInsufficientDeposits
	}

	cryptoAmount, err := s.rates.KesToCrypto(kesAmount, currency)
	if err != nil {
		return nil, err
	}

	reference := ledger.GenerateReference()
	entry := &db.Transaction{
		UserID:      userID,
		Kind:        db.KindSwap,
		Amount:      cryptoAmount,
		Currency:    currency,
		Status:      db.StatusCompleted,
		Reference:   reference,
		Description: fmt.Sprintf("Swap %s KES to %s %s", kesAmount, cryptoAmount, currency),
		Metadata: datatypes.JSONMap{
			db.MetaKesAmount:    kesAmount.String(),
			db.MetaCryptoAmount: cryptoAmount.String(),
			db.MetaExchangeRate: rate.String(),
		},
	}
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, err
	}

	if err := s.updateBalance(ctx, wallet.ID, wallet.Balance.Add(cryptoAmount), time.Now()); err != nil {
		logging.Warn("failed to credit cached balance after swap", zap.Error(err))
	}

	logging.Info("swap completed",
		zap.Int64("userID", userID),
		zap.String("kesAmount", kesAmount.String()),
		zap.String("creditedAmount", cryptoAmount.String()),
		zap.String("currency", string(currency)))
	return &SwapResult{
		Reference:      reference,
		KesAmount:      kesAmount,
		CreditedAmount: cryptoAmount,
		Currency:       currency,
		Rate:           rate,
	}, nil
}

// TransactionStatus resolves a transaction by reference, hash, gateway
// receipt, or ledger id.
func (s *Service) TransactionStatus(ctx context.Context, key string) (*db.Transaction, error) {
	return s.ledger.FindByAny(ctx, key)
}

func (s *Service) History(ctx context.Context, userID int64, limit int) ([]db.Transaction, error) {
	return s.ledger.ListByUser(ctx, userID, limit)
}

func (s *Service) observedBalance(ctx context.Context, wallet *db.Wallet) (decimal.Decimal, error) {
	return s.observedBalanceFor(ctx, wallet, wallet.Currency)
}

func (s *Service) observedBalanceFor(ctx context.Context, wallet *db.Wallet, currency db.Currency) (decimal.Decimal, error) {
	if currency == db.CurrencyETH {
		return s.chain.GetBalance(ctx, wallet.Address)
	}
	return s.chain.GetTokenBalance(ctx, wallet.Address)
}

func (s *Service) updateBalance(ctx context.Context, walletID int64, balance decimal.Decimal, syncedAt time.Time) error {
	err := s.gdb.WithContext(ctx).
		Model(&db.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"balance":        balance,
			"last_synced_at": syncedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("wallet: balance update failed: %w", err)
	}
	return nil
}
