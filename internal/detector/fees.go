package detector

import (
	"github.com/shopspring/decimal"

	"github.com/Francis-builds/polymarket-hourly-bot/pkg/types"
)

var (
	feeTwo = decimal.NewFromInt(2)
	feeOne = decimal.NewFromInt(1)
)

// FeeRate returns the per-side taker fee rate at price p.
//
// The 15-minute markets charge 2·(p·(1−p))³ — symmetric about p=0.5, peaking
// there at 0.03125, vanishing toward the extremes. The longer windows are
// fee-free.
func FeeRate(tf types.Timeframe, p decimal.Decimal) decimal.Decimal {
	if !tf.HasFees() {
		return decimal.Zero
	}
	q := p.Mul(feeOne.Sub(p))
	return feeTwo.Mul(q.Mul(q).Mul(q))
}
