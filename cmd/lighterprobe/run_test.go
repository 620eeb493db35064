package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coveloop/lighterprobe/internal/probe"
	"github.com/coveloop/lighterprobe/internal/signer"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestOrderSignerMapsIntent(t *testing.T) {
	sg, err := signer.New(testKey, 699528, 4)
	require.NoError(t, err)

	adapter := orderSigner{sg: sg, market: 0}
	txInfo, txHash, err := adapter.SignOrder(probe.TradeIntent{
		Side:       probe.SideSell,
		SizeUnits:  10,
		WorstPrice: 248750,
	}, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, txHash)

	var tx map[string]any
	require.NoError(t, json.Unmarshal(txInfo, &tx))
	assert.Equal(t, float64(699528), tx["AccountIndex"])
	assert.Equal(t, float64(42), tx["ClientOrderIndex"])
	assert.Equal(t, float64(10), tx["BaseAmount"])
	assert.Equal(t, float64(248750), tx["Price"])
	assert.Equal(t, float64(1), tx["IsAsk"])
	assert.NotEmpty(t, tx["Sig"])
}

func TestOrderSignerBuySide(t *testing.T) {
	sg, err := signer.New(testKey, 699528, 4)
	require.NoError(t, err)

	adapter := orderSigner{sg: sg, market: 3}
	txInfo, _, err := adapter.SignOrder(probe.TradeIntent{
		Side:       probe.SideBuy,
		SizeUnits:  100,
		WorstPrice: 2513,
	}, 7)
	require.NoError(t, err)

	var tx map[string]any
	require.NoError(t, json.Unmarshal(txInfo, &tx))
	assert.Equal(t, float64(0), tx["IsAsk"])
	assert.Equal(t, float64(3), tx["MarketIndex"])
}

func TestOrderSignerCancelAll(t *testing.T) {
	sg, err := signer.New(testKey, 699528, 4)
	require.NoError(t, err)

	adapter := orderSigner{sg: sg, market: 0}
	txInfo, _, err := adapter.SignCancelAll(1755820800000)
	require.NoError(t, err)

	var tx map[string]any
	require.NoError(t, json.Unmarshal(txInfo, &tx))
	assert.Equal(t, float64(1755820800000), tx["Time"])
	assert.NotEmpty(t, tx["Sig"])
}
