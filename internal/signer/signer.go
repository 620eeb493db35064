// Package signer turns trade intents into signed zkLighter transaction
// bodies. Keys never leave this package; callers get opaque tx JSON plus
// the identifiers needed for correlation.
package signer

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/coveloop/lighterprobe/internal/lighter"
)

// orderLifetime bounds how long an unsettled order stays valid. IOC
// orders expire immediately anyway, the venue still requires a bound.
const orderLifetime = 10 * time.Minute

// Signer holds one API key and mints signed transactions with
// monotonically increasing nonces.
type Signer struct {
	key          *ecdsa.PrivateKey
	accountIndex int64
	apiKeyIndex  uint8
	nonce        int64
}

// New parses a hex private key. The nonce counter is seeded from the
// wall clock so restarts never reuse a value.
func New(privateKeyHex string, accountIndex int64, apiKeyIndex uint8) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		key:          key,
		accountIndex: accountIndex,
		apiKeyIndex:  apiKeyIndex,
		nonce:        time.Now().UnixMilli(),
	}, nil
}

// Address returns the hex address derived from the signing key.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// AccountIndex returns the account this signer operates for.
func (s *Signer) AccountIndex() int64 {
	return s.accountIndex
}

func (s *Signer) nextNonce() int64 {
	s.nonce++
	return s.nonce
}

// OrderRequest carries the already-scaled integer parameters of one
// order transaction.
type OrderRequest struct {
	MarketIndex      int64
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	IsAsk            bool
}

// createOrderTx mirrors the venue's L2CreateOrder body. Field names
// follow the wire schema, not Go convention.
type createOrderTx struct {
	AccountIndex     int64  `json:"AccountIndex"`
	ApiKeyIndex      uint8  `json:"ApiKeyIndex"`
	MarketIndex      int64  `json:"MarketIndex"`
	ClientOrderIndex int64  `json:"ClientOrderIndex"`
	BaseAmount       int64  `json:"BaseAmount"`
	Price            int64  `json:"Price"`
	IsAsk            uint8  `json:"IsAsk"`
	Type             uint8  `json:"Type"`
	TimeInForce      uint8  `json:"TimeInForce"`
	ReduceOnly       uint8  `json:"ReduceOnly"`
	TriggerPrice     int64  `json:"TriggerPrice"`
	OrderExpiry      int64  `json:"OrderExpiry"`
	ExpiredAt        int64  `json:"ExpiredAt"`
	Nonce            int64  `json:"Nonce"`
	Sig              string `json:"Sig,omitempty"`
}

// SignCreateOrder builds and signs a market IOC order. It returns the
// tx body ready for a sendtx envelope and the tx hash for diagnostics.
func (s *Signer) SignCreateOrder(req OrderRequest) (json.RawMessage, string, error) {
	isAsk := uint8(0)
	if req.IsAsk {
		isAsk = 1
	}
	tx := createOrderTx{
		AccountIndex:     s.accountIndex,
		ApiKeyIndex:      s.apiKeyIndex,
		MarketIndex:      req.MarketIndex,
		ClientOrderIndex: req.ClientOrderIndex,
		BaseAmount:       req.BaseAmount,
		Price:            req.Price,
		IsAsk:            isAsk,
		Type:             lighter.OrderTypeMarket,
		TimeInForce:      lighter.TifImmediateOrCancel,
		OrderExpiry:      lighter.DefaultIOCExpiry,
		ExpiredAt:        time.Now().Add(orderLifetime).UnixMilli(),
		Nonce:            s.nextNonce(),
	}
	return s.seal(&tx, func(sig string) { tx.Sig = sig })
}

// cancelAllTx mirrors the venue's L2CancelAllOrders body.
type cancelAllTx struct {
	AccountIndex int64  `json:"AccountIndex"`
	ApiKeyIndex  uint8  `json:"ApiKeyIndex"`
	TimeInForce  uint8  `json:"TimeInForce"`
	Time         int64  `json:"Time"`
	Nonce        int64  `json:"Nonce"`
	Sig          string `json:"Sig,omitempty"`
}

// SignCancelAll builds and signs a cancel-all transaction, used by the
// interrupt cleanup path as a safety net.
func (s *Signer) SignCancelAll(timestampMs int64) (json.RawMessage, string, error) {
	tx := cancelAllTx{
		AccountIndex: s.accountIndex,
		ApiKeyIndex:  s.apiKeyIndex,
		TimeInForce:  lighter.CancelAllTifImmediate,
		Time:         timestampMs,
		Nonce:        s.nextNonce(),
	}
	return s.seal(&tx, func(sig string) { tx.Sig = sig })
}

// seal serializes the unsigned body, signs its keccak digest, injects
// the signature, and serializes again.
func (s *Signer) seal(tx any, setSig func(string)) (json.RawMessage, string, error) {
	unsigned, err := json.Marshal(tx)
	if err != nil {
		return nil, "", fmt.Errorf("encode tx: %w", err)
	}
	sig, err := crypto.Sign(keccak(unsigned), s.key)
	if err != nil {
		return nil, "", fmt.Errorf("sign tx: %w", err)
	}
	setSig(hexutil.Encode(sig))

	signed, err := json.Marshal(tx)
	if err != nil {
		return nil, "", fmt.Errorf("encode signed tx: %w", err)
	}
	return signed, hexutil.Encode(keccak(signed)), nil
}

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
