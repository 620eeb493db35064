// Package preflight checks the account can fund a probe before any
// order is sent, and re-checks it afterwards to confirm the probes
// netted out flat.
package preflight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LowBalanceFloor is the collateral level under which a taker order is
// likely to be rejected by the venue's minimum notional.
var LowBalanceFloor = decimal.NewFromInt(5)

// Client queries the venue's REST account endpoint.
type Client struct {
	// BaseURL is the REST root, e.g. https://mainnet.zklighter.elliot.ai.
	BaseURL string
	HTTP    *http.Client
	Logger  *zap.Logger
}

type wirePosition struct {
	MarketIndex *int64 `json:"market_index"`
	Sign        int    `json:"sign"`
	Position    string `json:"position"`
}

type wireAccount struct {
	Collateral string         `json:"collateral"`
	Positions  []wirePosition `json:"positions"`
}

type accountResponse struct {
	Accounts []wireAccount `json:"accounts"`
}

// Report is the account state relevant to one probe run.
type Report struct {
	Balance    decimal.Decimal
	LowBalance bool
	// Position is the open size on the probe market, zero when flat.
	Position decimal.Decimal
	// Direction is LONG or SHORT, empty when flat.
	Direction string
}

// Flat reports whether the probe market carries no open position.
func (r Report) Flat() bool {
	return r.Position.IsZero()
}

// Describe renders the position the way the summary prints it.
func (r Report) Describe() string {
	if r.Flat() {
		return "FLAT"
	}
	return fmt.Sprintf("%s %s", r.Direction, r.Position)
}

// Account fetches collateral and the open position on one market.
func (c *Client) Account(ctx context.Context, accountIndex, marketIndex int64) (Report, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	httpc := c.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 5 * time.Second}
	}

	url := fmt.Sprintf("%s/api/v1/account?by=index&value=%d",
		strings.TrimRight(c.BaseURL, "/"), accountIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Report{}, fmt.Errorf("build account request: %w", err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return Report{}, fmt.Errorf("account query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Report{}, fmt.Errorf("account query: HTTP %d", resp.StatusCode)
	}

	var data accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Report{}, fmt.Errorf("decode account response: %w", err)
	}
	if len(data.Accounts) == 0 {
		return Report{}, fmt.Errorf("account %d not found", accountIndex)
	}
	acct := data.Accounts[0]

	var rep Report
	rep.Balance, err = decimal.NewFromString(acct.Collateral)
	if err != nil {
		return Report{}, fmt.Errorf("collateral %q: %w", acct.Collateral, err)
	}
	rep.LowBalance = rep.Balance.LessThan(LowBalanceFloor)

	for _, pos := range acct.Positions {
		if pos.MarketIndex == nil || *pos.MarketIndex != marketIndex {
			continue
		}
		size, perr := decimal.NewFromString(pos.Position)
		if perr != nil {
			return Report{}, fmt.Errorf("position size %q: %w", pos.Position, perr)
		}
		if size.IsZero() {
			continue
		}
		rep.Position = size
		if pos.Sign == 1 {
			rep.Direction = "LONG"
		} else {
			rep.Direction = "SHORT"
		}
		break
	}

	log.Debug("account state",
		zap.String("balance", rep.Balance.String()),
		zap.String("position", rep.Describe()))
	return rep, nil
}
