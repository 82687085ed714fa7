package models

import "strings"

// Instrument is one tracked Aave reserve: display symbol plus the
// underlying asset address on mainnet. Reference data, never mutated.
type Instrument struct {
	Symbol  string
	Address string
}

// Instruments is the fixed set of tracked reserves.
var Instruments = []Instrument{
	{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
	{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
	{Symbol: "USDe", Address: "0x4c9EDD5852cd905f086C759E8383e09bff1E68B3"},
	{Symbol: "crvUSD", Address: "0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E"},
}

// AavePoolAddress is the Aave v3 mainnet pool emitting ReserveDataUpdated.
const AavePoolAddress = "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"

// InstrumentByAddress resolves an on-chain asset address to its tracked
// instrument. Matching is case-insensitive; unknown addresses return false.
func InstrumentByAddress(address string) (Instrument, bool) {
	for _, inst := range Instruments {
		if strings.EqualFold(inst.Address, address) {
			return inst, true
		}
	}
	return Instrument{}, false
}

// InstrumentBySymbol resolves a token symbol (exact match) to its instrument.
func InstrumentBySymbol(symbol string) (Instrument, bool) {
	for _, inst := range Instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return Instrument{}, false
}

// Symbols returns the tracked token symbols in table order.
func Symbols() []string {
	syms := make([]string, len(Instruments))
	for i, inst := range Instruments {
		syms[i] = inst.Symbol
	}
	return syms
}

// RateSnapshot is the latest known annualized rates for one instrument.
// Timestamp is unix milliseconds.
type RateSnapshot struct {
	Supply    float64 `json:"supply"`
	Borrow    float64 `json:"borrow"`
	Timestamp int64   `json:"timestamp"`
}

// APYUpdate is a meaningful rate change published on the updates channel
// and fanned out to subscribed clients. Deltas are new minus old, rounded
// to five decimals.
type APYUpdate struct {
	Token       string  `json:"token"`
	Supply      float64 `json:"supply"`
	Borrow      float64 `json:"borrow"`
	SupplyDelta float64 `json:"supplyDelta"`
	BorrowDelta float64 `json:"borrowDelta"`
	Timestamp   int64   `json:"timestamp"`
}

// HistoryPoint is one immutable entry in an instrument's time-ordered
// history sequence.
type HistoryPoint struct {
	Supply    float64 `json:"supply"`
	Borrow    float64 `json:"borrow"`
	Timestamp int64   `json:"timestamp"`
}

// HistoryRetentionDays bounds how far back per-instrument history is kept.
const HistoryRetentionDays = 7
