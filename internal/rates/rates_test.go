// internal/rates/rates_test.go
package rates

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safarypto/safarypto/internal/db"
)

func TestKesToCryptoETH(t *testing.T) {
	table := DefaultTable()

	got, err := table.KesToCrypto(decimal.NewFromInt(1000), db.CurrencyETH)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.025")), "got %s", got)
}

func TestKesToCryptoUSDT(t *testing.T) {
	table := DefaultTable()

	got, err := table.KesToCrypto(decimal.NewFromInt(1000), db.CurrencyUSDT)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("9.5")), "got %s", got)
}

func TestKesToCryptoRoundsToEightPlaces(t *testing.T) {
	table := DefaultTable()

	got, err := table.KesToCrypto(decimal.RequireFromString("333.333333"), db.CurrencyETH)
	require.NoError(t, err)
	assert.Equal(t, "0.00833333", got.String())
}

func TestCryptoToKesFloorsToWholeShillings(t *testing.T) {
	table := DefaultTable()

	got, err := table.CryptoToKes(decimal.RequireFromString("0.0257"), db.CurrencyETH)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(1028)), "got %s", got)
}

func TestUnsupportedCurrency(t *testing.T) {
	table := DefaultTable()

	_, err := table.KesToCrypto(decimal.NewFromInt(100), db.Currency("DOGE"))
	assert.Error(t, err)

	_, err = table.CryptoToKes(decimal.NewFromInt(1), db.CurrencyKES)
	assert.Error(t, err)
}

func TestRate(t *testing.T) {
	table := DefaultTable()

	rate, err := table.Rate(db.CurrencyETH)
	require.NoError(t, err)
	assert.Equal(t, "0.000025", rate.String())

	_, err = table.Rate(db.CurrencyKES)
	assert.Error(t, err)
}
