// Package lighter implements the slice of the zkLighter wire schema the
// probe needs: stream URLs and channel names, subscribe/sendtx envelopes,
// order book snapshots, order rejections, and account trade updates.
package lighter

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Transaction types accepted by the jsonapi/sendtx endpoint.
const (
	TxTypeCreateOrder     = 14
	TxTypeCancelAllOrders = 16
)

// Order types for L2CreateOrder transactions.
const (
	OrderTypeLimit  = 0
	OrderTypeMarket = 1
)

// Time-in-force values for L2CreateOrder transactions.
const (
	TifImmediateOrCancel = 0
	TifGoodTillTime      = 1
	TifPostOnly          = 2
)

// DefaultIOCExpiry is the order_expiry value for IOC orders, which the
// exchange expires immediately regardless.
const DefaultIOCExpiry = 0

// CancelAllTifImmediate cancels resting orders without a scheduled time.
const CancelAllTifImmediate = 0

// StreamURL derives the websocket endpoint from the REST base URL.
func StreamURL(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/stream"
}

// OrderBookChannel names the public depth channel for one market.
func OrderBookChannel(marketIndex int64) string {
	return fmt.Sprintf("order_book/%d", marketIndex)
}

// AccountChannel names the private all-events channel for one account.
func AccountChannel(accountIndex int64) string {
	return fmt.Sprintf("account_all/%d", accountIndex)
}

// ScaleToUnits converts a human quantity to integer exchange units by
// shifting the given number of decimals and truncating, matching how the
// venue encodes prices (2 decimals on ETH) and sizes (4 decimals).
func ScaleToUnits(v decimal.Decimal, decimals int32) int64 {
	return v.Shift(decimals).IntPart()
}

// UnitsToDecimal is the inverse of ScaleToUnits.
func UnitsToDecimal(units int64, decimals int32) decimal.Decimal {
	return decimal.NewFromInt(units).Shift(-decimals)
}

// WorstPrice applies slippage to a reference price and scales it to
// integer units. Buys pad the ask upward, sells pad the bid downward.
func WorstPrice(ref decimal.Decimal, slippage decimal.Decimal, isAsk bool, priceDecimals int32) int64 {
	factor := decimal.NewFromInt(1).Add(slippage)
	if isAsk {
		factor = decimal.NewFromInt(1).Sub(slippage)
	}
	return ScaleToUnits(ref.Mul(factor), priceDecimals)
}
