package dto

import "github.com/shopspring/decimal"

// TokenDecimals is the USDC precision of every amount on the wire.
const TokenDecimals = 6

// Amount pairs the smallest-unit integer with its decimal rendering.
type Amount struct {
	Units   int64  `json:"units"`
	Display string `json:"display"`
}

func NewAmount(units int64) Amount {
	return Amount{
		Units:   units,
		Display: decimal.New(units, -TokenDecimals).StringFixed(TokenDecimals),
	}
}
