package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveAccount(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/account", r.URL.Path)
		assert.Equal(t, "index", r.URL.Query().Get("by"))
		assert.Equal(t, "699528", r.URL.Query().Get("value"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAccountFlat(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[{"collateral":"123.45","positions":[]}]}`)
	c := &Client{BaseURL: srv.URL}

	rep, err := c.Account(context.Background(), 699528, 0)
	require.NoError(t, err)

	assert.True(t, rep.Balance.Equal(decimal.RequireFromString("123.45")))
	assert.False(t, rep.LowBalance)
	assert.True(t, rep.Flat())
	assert.Equal(t, "FLAT", rep.Describe())
}

func TestAccountOpenPosition(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[{"collateral":"50.00","positions":[
		{"market_index":1,"sign":1,"position":"2.5"},
		{"market_index":0,"sign":1,"position":"0.0010"}
	]}]}`)
	c := &Client{BaseURL: srv.URL}

	rep, err := c.Account(context.Background(), 699528, 0)
	require.NoError(t, err)

	assert.False(t, rep.Flat())
	assert.Equal(t, "LONG", rep.Direction)
	assert.True(t, rep.Position.Equal(decimal.RequireFromString("0.001")))
	assert.Contains(t, rep.Describe(), "LONG")
}

func TestAccountShortPosition(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[{"collateral":"50.00","positions":[
		{"market_index":0,"sign":-1,"position":"0.002"}
	]}]}`)
	c := &Client{BaseURL: srv.URL}

	rep, err := c.Account(context.Background(), 699528, 0)
	require.NoError(t, err)
	assert.Equal(t, "SHORT", rep.Direction)
}

func TestAccountIgnoresOtherMarketsAndZeroSize(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[{"collateral":"50.00","positions":[
		{"market_index":3,"sign":1,"position":"9.0"},
		{"market_index":0,"sign":1,"position":"0"}
	]}]}`)
	c := &Client{BaseURL: srv.URL}

	rep, err := c.Account(context.Background(), 699528, 0)
	require.NoError(t, err)
	assert.True(t, rep.Flat())
}

func TestAccountLowBalance(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[{"collateral":"3.20","positions":[]}]}`)
	c := &Client{BaseURL: srv.URL}

	rep, err := c.Account(context.Background(), 699528, 0)
	require.NoError(t, err)
	assert.True(t, rep.LowBalance)
}

func TestAccountHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := &Client{BaseURL: srv.URL}

	_, err := c.Account(context.Background(), 699528, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestAccountMissing(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[]}`)
	c := &Client{BaseURL: srv.URL}

	_, err := c.Account(context.Background(), 699528, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAccountBadCollateral(t *testing.T) {
	srv := serveAccount(t, `{"accounts":[{"collateral":"??","positions":[]}]}`)
	c := &Client{BaseURL: srv.URL}

	_, err := c.Account(context.Background(), 699528, 0)
	require.Error(t, err)
}
