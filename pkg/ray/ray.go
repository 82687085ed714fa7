// Package ray converts Aave's RAY fixed-point rate encoding into
// human-readable annual percentage yields.
package ray

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// SecondsPerYear is the compounding period count Aave assumes.
	SecondsPerYear = 31536000

	// maxPlausibleAPY is the sanity ceiling in percent. Compounded results
	// above it indicate an encoding the compounding formula was never meant
	// for, so the linear rate is reported instead.
	maxPlausibleAPY = 10000
)

// rayScale is 10^27, the RAY unit (100% == 10^27).
var rayScale = decimal.New(1, 27)

// ToAPY converts a RAY-encoded per-second compounding rate into the
// equivalent annually-compounded yield in percent, rounded to five
// decimals. A zero input yields exactly 0. Non-finite, negative or
// implausibly large compounded results fall back to the uncompounded
// linear rate.
func ToAPY(rate *big.Int) float64 {
	if rate == nil || rate.Sign() == 0 {
		return 0
	}

	// RAY values exceed float64 integer precision; normalize exactly first.
	annualRate := decimal.NewFromBigInt(rate, 0).Div(rayScale).InexactFloat64()
	ratePerSecond := annualRate / SecondsPerYear

	apy := (math.Pow(1+ratePerSecond, SecondsPerYear) - 1) * 100
	if math.IsInf(apy, 0) || math.IsNaN(apy) || apy < 0 || apy > maxPlausibleAPY {
		return Round5(annualRate * 100)
	}
	return Round5(apy)
}

// Round5 rounds to five decimal places, the precision used everywhere
// rates and deltas are reported.
func Round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
