// internal/mpesa/phone_test.go
package mpesa

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":    "254712345678",
		"+254712345678": "254712345678",
		"254712345678":  "254712345678",
		"712345678":     "254712345678",
		" 0712345678 ":  "254712345678",
		"0110123456":    "254110123456",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatPhone(in), "input %q", in)
	}
}

func TestValidatePhone(t *testing.T) {
	assert.NoError(t, ValidatePhone("254712345678"))
	assert.NoError(t, ValidatePhone("254110123456"))

	for _, bad := range []string{"0712345678", "254912345678", "25471234567", "2547123456789", "notaphone"} {
		assert.ErrorIs(t, ValidatePhone(bad), ErrValidation, "input %q", bad)
	}
}

func TestValidateAmount(t *testing.T) {
	got, err := ValidateAmount(decimal.RequireFromString("100.75"))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(100)))

	got, err = ValidateAmount(decimal.NewFromInt(150000))
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(150000)))

	_, err = ValidateAmount(decimal.RequireFromString("0.5"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ValidateAmount(decimal.NewFromInt(150001))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCharges(t *testing.T) {
	cases := []struct {
		amount string
		want   string
	}{
		{"500", "0"},
		{"1000", "0"},
		{"1001", "27.5"},
		{"50000", "27.5"},
		{"99999", "52.5"},
		{"150000", "72.5"},
	}
	for _, tc := range cases {
		got, err := Charges(decimal.RequireFromString(tc.amount))
		require.NoError(t, err, "amount %s", tc.amount)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "amount %s: got %s", tc.amount, got)
	}

	_, err := Charges(decimal.NewFromInt(150001))
	assert.Error(t, err)
}

func TestPasswordDerivation(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 15, 9, 5, 30, 0, time.UTC))
	assert.Equal(t, "20240315090530", ts)

	password := Password("174379", "passkey", ts)
	decoded, err := base64.StdEncoding.DecodeString(password)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20240315090530", string(decoded))
}
