// internal/rates/rates.go
package rates

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/safarypto/safarypto/internal/db"
)

// Table holds the fixed KES<->crypto conversion rates. One canonical table;
// rates are configuration, not market data.
type Table struct {
	kesToCrypto map[db.Currency]decimal.Decimal
	cryptoToKes map[db.Currency]decimal.Decimal
}

func DefaultTable() *Table {
	return &Table{
		kesToCrypto: map[db.Currency]decimal.Decimal{
			db.CurrencyETH:  decimal.RequireFromString("0.000025"),
			db.CurrencyUSDT: decimal.RequireFromString("0.0095"),
		},
		cryptoToKes: map[db.Currency]decimal.Decimal{
			db.CurrencyETH:  decimal.NewFromInt(40000),
			db.CurrencyUSDT: decimal.NewFromInt(105),
		},
	}
}

// Rate returns the KES->crypto rate for the currency.
func (t *Table) Rate(currency db.Currency) (decimal.Decimal, error) {
	rate, ok := t.kesToCrypto[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: unsupported currency: %s", currency)
	}
	return rate, nil
}

// KesToCrypto converts a KES amount into the target currency, rounded to
// eight decimal places.
func (t *Table) KesToCrypto(kesAmount decimal.Decimal, currency db.Currency) (decimal.Decimal, error) {
	rate, err := t.Rate(currency)
	if err != nil {
		return decimal.Zero, err
	}
	return kesAmount.Mul(rate).Round(8), nil
}

// CryptoToKes converts a crypto amount into whole shillings, rounded down.
func (t *Table) CryptoToKes(cryptoAmount decimal.Decimal, currency db.Currency) (decimal.Decimal, error) {
	rate, ok := t.cryptoToKes[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("rates: unsupported currency: %s", currency)
	}
	return cryptoAmount.Mul(rate).Floor(), nil
}
