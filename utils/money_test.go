package utils

import (
	"regexp"
	"testing"

	"rental-payments/internal/status"
	"rental-payments/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestGenerateTransactionID(t *testing.T) {
	pattern := regexp.MustCompile(`^HOLD_\d{13}_[0-9A-F]{8}$`)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := GenerateTransactionID("HOLD")
		assert.Regexp(t, pattern, id)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"positive", "250.00", false},
		{"ceiling", "1000000", false},
		{"zero", "0", true},
		{"negative", "-5", true},
		{"over ceiling", "1000000.01", true},
		{"three decimals", "10.005", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.ErrorIs(t, err, status.ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateAmountWithin(t *testing.T) {
	ceiling := decimal.NewFromInt(500)
	assert.NoError(t, ValidateAmountWithin(decimal.NewFromInt(500), ceiling))
	assert.ErrorIs(t, ValidateAmountWithin(decimal.NewFromInt(501), ceiling), status.ErrInvalidAmount)
}

func TestValidateCurrency(t *testing.T) {
	assert.NoError(t, ValidateCurrency("ZMW"))
	assert.NoError(t, ValidateCurrency("USD"))
	for _, bad := range []string{"", "zmw", "ZM", "ZMWX", "Z1W"} {
		assert.ErrorIs(t, ValidateCurrency(bad), status.ErrInvalidCurrency, bad)
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "K1,250.50", FormatAmount(decimal.RequireFromString("1250.5"), "ZMW"))
	assert.Equal(t, "K0.99", FormatAmount(decimal.RequireFromString("0.99"), "ZMW"))
	assert.Equal(t, "$1,000,000.00", FormatAmount(decimal.NewFromInt(1_000_000), "USD"))
	assert.Equal(t, "KES 12.00", FormatAmount(decimal.NewFromInt(12), "KES"))
}

func TestCalculateServiceFee(t *testing.T) {
	amount := decimal.NewFromInt(1000)

	tests := []struct {
		provider models.Provider
		want     string
	}{
		{models.ProviderStripe, "29"},
		{models.ProviderDPO, "32"},
		{models.ProviderAirtelMoney, "15"},
		{models.ProviderMTNMoMo, "15"},
		{models.ProviderZamtelKwacha, "10"},
		{models.Provider("paypal"), "0"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			got := CalculateServiceFee(amount, tt.provider)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestCalculateServiceFee_RoundsToCents(t *testing.T) {
	// 33.33 * 0.029 = 0.96657
	got := CalculateServiceFee(decimal.RequireFromString("33.33"), models.ProviderStripe)
	assert.Equal(t, "0.97", got.StringFixed(2))
}
