// internal/db/models.go
package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TxKind string

const (
	KindMpesaDeposit   TxKind = "mpesa_deposit"
	KindMpesaPayout    TxKind = "mpesa_payout"
	KindCryptoTransfer TxKind = "crypto_transfer"
	KindCryptoReceive  TxKind = "crypto_receive"
	KindSwap           TxKind = "swap_mpesa_crypto"
)

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
	StatusCancelled TxStatus = "cancelled"
)

// Terminal reports whether no further transitions may leave the status.
func (s TxStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Currency string

const (
	CurrencyKES  Currency = "KES"
	CurrencyETH  Currency = "ETH"
	CurrencyUSDT Currency = "USDT"
)

type User struct {
	ID          int64  `gorm:"primaryKey"`
	Phone       string `gorm:"uniqueIndex"`
	MpesaNumber string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Wallet struct {
	ID                  int64  `gorm:"primaryKey"`
	UserID              int64  `gorm:"uniqueIndex"`
	Address             string `gorm:"uniqueIndex"`
	PrivateKeyEncrypted string
	Balance             decimal.Decimal `gorm:"type:numeric(32,18);default:0"`
	Currency            Currency        `gorm:"type:varchar(8);default:'ETH'"`
	IsActive            bool            `gorm:"default:true"`
	LastSyncedAt        time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Metadata keys recognized per transaction kind. Gateway callbacks carry
// their own item names; reconciliation normalizes them to these keys so a
// row never holds two spellings of the same fact.
//
//	mpesa_deposit:      checkoutRequestID, merchantRequestID, amount,
//	                    mpesaReceiptNumber, phoneNumber, transactionDate,
//	                    failureReason
//	mpesa_payout:       conversationID, originatorConversationID, amount,
//	                    mpesaReceiptNumber, phoneNumber, transactionDate,
//	                    failureReason
//	swap_mpesa_crypto:  kesAmount, cryptoAmount, exchangeRate
const (
	MetaCheckoutRequestID = "checkoutRequestID"
	MetaMerchantRequestID = "merchantRequestID"
	MetaConversationID    = "conversationID"
	MetaOriginatorID      = "originatorConversationID"
	MetaAmount            = "amount"
	MetaMpesaReceipt      = "mpesaReceiptNumber"
	MetaPhoneNumber       = "phoneNumber"
	MetaTransactionDate   = "transactionDate"
	MetaFailureReason     = "failureReason"
	MetaKesAmount         = "kesAmount"
	MetaCryptoAmount      = "cryptoAmount"
	MetaExchangeRate      = "exchangeRate"
)

type Transaction struct {
	ID           int64           `gorm:"primaryKey"`
	UserID       int64           `gorm:"index:idx_transactions_user_created"`
	Kind         TxKind          `gorm:"type:varchar(32)"`
	Amount       decimal.Decimal `gorm:"type:numeric(32,18)"`
	Currency     Currency        `gorm:"type:varchar(8)"`
	Status       TxStatus        `gorm:"type:varchar(16);index;default:'pending'"`
	Reference    string          `gorm:"uniqueIndex"`
	MpesaReceipt string          `gorm:"index"`
	ChainHash    string          `gorm:"index"`
	FromAddress  string
	ToAddress    string
	Description  string
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CompletedAt  *time.Time
	CreatedAt    time.Time `gorm:"index:idx_transactions_user_created"`
	UpdatedAt    time.Time
}
