package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(25000), MinorUnits(decimal.NewFromInt(250)))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.99")))
	assert.True(t, FromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")))
}

func TestPhoneForms(t *testing.T) {
	assert.Equal(t, "260977123456", MSISDN("+260977123456"))
	assert.Equal(t, "977123456", NationalNumber("+260977123456", "260"))
}
