package usecases

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPlatformFee(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		fee    string
		net    string
	}{
		{"round amount", "100.00", "1.00", "99.00"},
		{"unit amount", "1.00", "0.01", "0.99"},
		{"small amount", "10.00", "0.10", "9.90"},
		{"fee rounds half up", "50.50", "0.51", "49.99"},
		{"fee rounds down", "120.40", "1.20", "119.20"},
		{"sub-cent amount", "0.40", "0.00", "0.40"},
		{"large amount", "12345.67", "123.46", "12222.21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)

			breakdown := ApplyPlatformFee(amount)
			require.Equal(t, tt.fee, breakdown.Fee.StringFixed(2))
			require.Equal(t, tt.net, breakdown.NetAmount.StringFixed(2))

			// Fee and net amount always reassemble into the original amount.
			require.True(t, breakdown.Fee.Add(breakdown.NetAmount).Equal(amount),
				"fee %s + net %s != amount %s", breakdown.Fee, breakdown.NetAmount, amount)
		})
	}
}

func TestPlatformFeeRate(t *testing.T) {
	require.True(t, PlatformFeeRate.Equal(decimal.RequireFromString("0.01")))
}
