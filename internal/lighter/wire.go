package lighter

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Message types observed on the stream endpoint.
const (
	MsgConnected           = "connected"
	MsgPing                = "ping"
	MsgPong                = "pong"
	MsgSubscribedOrderBook = "subscribed/order_book"
	MsgUpdateOrderBook     = "update/order_book"
	MsgSubscribedAccount   = "subscribed/account_all"
	MsgUpdateAccount       = "update/account_all"
	MsgSendTx              = "jsonapi/sendtx"
)

// PongPayload is the reply to a server ping frame.
var PongPayload = []byte(`{"type":"pong"}`)

// Envelope is the common header every stream message carries.
type Envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// MessageType sniffs the type field without decoding the full body.
// Unparseable frames report an empty type; callers treat those as noise.
func MessageType(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Type
}

// IsPing reports whether raw is a server keepalive frame.
func IsPing(raw []byte) bool {
	return MessageType(raw) == MsgPing
}

// Subscribe builds a channel subscription request.
func Subscribe(channel string) ([]byte, error) {
	return json.Marshal(Envelope{Type: "subscribe", Channel: channel})
}

// PriceLevel is one side entry of an order book snapshot. The venue sends
// prices and sizes as decimal strings.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookSnapshot is the depth attached to a subscribed/order_book ack.
type BookSnapshot struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

type bookAck struct {
	Envelope
	OrderBook BookSnapshot `json:"order_book"`
}

// ParseBookSnapshot extracts the depth snapshot from a subscription ack.
func ParseBookSnapshot(raw []byte) (BookSnapshot, error) {
	var ack bookAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return BookSnapshot{}, fmt.Errorf("decode order_book ack: %w", err)
	}
	if ack.Type != MsgSubscribedOrderBook && ack.Type != MsgUpdateOrderBook {
		return BookSnapshot{}, fmt.Errorf("unexpected message type %q", ack.Type)
	}
	return ack.OrderBook, nil
}

// BestBidAsk scans a snapshot for the highest bid and lowest ask. The
// venue does not guarantee level ordering, so both sides are scanned in
// full. A missing side yields decimal zero.
func (s BookSnapshot) BestBidAsk() (bid, ask decimal.Decimal, err error) {
	for _, lvl := range s.Bids {
		p, perr := decimal.NewFromString(lvl.Price)
		if perr != nil {
			return bid, ask, fmt.Errorf("bid price %q: %w", lvl.Price, perr)
		}
		if p.GreaterThan(bid) {
			bid = p
		}
	}
	for _, lvl := range s.Asks {
		p, perr := decimal.NewFromString(lvl.Price)
		if perr != nil {
			return bid, ask, fmt.Errorf("ask price %q: %w", lvl.Price, perr)
		}
		if ask.IsZero() || p.LessThan(ask) {
			ask = p
		}
	}
	return bid, ask, nil
}

// SendTxData is the body of a jsonapi/sendtx request.
type SendTxData struct {
	ID     string          `json:"id"`
	TxType uint8           `json:"tx_type"`
	TxInfo json.RawMessage `json:"tx_info"`
}

// SendTx is the full order submission envelope.
type SendTx struct {
	Type string     `json:"type"`
	Data SendTxData `json:"data"`
}

// NewSendTx wraps a signed transaction body for submission.
func NewSendTx(requestID string, txType uint8, txInfo json.RawMessage) ([]byte, error) {
	return json.Marshal(SendTx{
		Type: MsgSendTx,
		Data: SendTxData{ID: requestID, TxType: txType, TxInfo: txInfo},
	})
}

type txResponse struct {
	Type  string          `json:"type"`
	Error json.RawMessage `json:"error"`
	Data  struct {
		ID    string          `json:"id"`
		Error json.RawMessage `json:"error"`
	} `json:"data"`
}

// ResponseID extracts the request id echoed back on a sendtx response,
// empty when absent.
func ResponseID(raw []byte) string {
	var resp txResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	return resp.Data.ID
}

// RejectionReason reports the exchange-level error attached to a sendtx
// response. The venue places it either at the top level or under data.
func RejectionReason(raw []byte) (string, bool) {
	var resp txResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", false
	}
	if reason, ok := rawToReason(resp.Error); ok {
		return reason, true
	}
	return rawToReason(resp.Data.Error)
}

func rawToReason(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}
	return string(raw), true
}

// Trade is one execution record inside an account_all update. The
// correlation field is optional on the wire; a nil ClientOrderIndex means
// the venue omitted it and only account/market matching is possible.
type Trade struct {
	TradeID          int64  `json:"trade_id"`
	MarketID         *int64 `json:"market_id"`
	MarketIndex      *int64 `json:"market_index"`
	ClientOrderIndex *int64 `json:"client_order_index"`
	AskAccountID     *int64 `json:"ask_account_id"`
	BidAccountID     *int64 `json:"bid_account_id"`
	IsMakerAsk       bool   `json:"is_maker_ask"`
	Size             string `json:"size"`
	Price            string `json:"price"`
}

// Market resolves whichever market key the venue populated, -1 when both
// are absent.
func (t Trade) Market() int64 {
	if t.MarketID != nil {
		return *t.MarketID
	}
	if t.MarketIndex != nil {
		return *t.MarketIndex
	}
	return -1
}

// InvolvesAccount reports whether the account appears on either side of
// the trade.
func (t Trade) InvolvesAccount(accountIndex int64) bool {
	if t.AskAccountID != nil && *t.AskAccountID == accountIndex {
		return true
	}
	return t.BidAccountID != nil && *t.BidAccountID == accountIndex
}

type accountUpdate struct {
	Type   string                     `json:"type"`
	Trades map[string]json.RawMessage `json:"trades"`
}

// ExtractTrades pulls execution records out of an account_all update.
// The trades field arrives as a map keyed by market id, but single-market
// payloads have been observed as a bare array, so both shapes decode.
// Non-account messages and frames without trades yield an empty slice.
func ExtractTrades(raw []byte) []Trade {
	var upd accountUpdate
	if err := json.Unmarshal(raw, &upd); err == nil && len(upd.Trades) > 0 {
		var out []Trade
		for _, bucket := range upd.Trades {
			var trades []Trade
			if err := json.Unmarshal(bucket, &trades); err == nil {
				out = append(out, trades...)
			}
		}
		return out
	}

	var flat struct {
		Trades []Trade `json:"trades"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat.Trades
	}
	return nil
}
