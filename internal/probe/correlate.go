package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/stream"
)

// Correlator drains the notification stream until a trade plausibly
// produced by a dispatched command appears, or the deadline passes.
type Correlator struct {
	Conn         stream.Conn
	AccountIndex int64
	Now          func() time.Time
	Logger       *zap.Logger
}

// AwaitFill returns the first accepted fill. The deadline is shared
// across every suspension inside the loop: keepalives and noise frames
// consume wall time but can never extend the total wait. The first match
// wins; later fills for the same order are someone else's problem, the
// operationally meaningful instant is first knowledge of execution.
func (c *Correlator) AwaitFill(ctx context.Context, rec *DispatchRecord, deadline time.Time) (*FillEvent, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	for {
		remaining := deadline.Sub(c.Now())
		if remaining <= 0 {
			return nil, newError(KindFillTimeout, "await fill", rec.Side,
				fmt.Errorf("no fill for order %d before deadline", rec.CorrelationID))
		}

		raw, err := c.Conn.Receive(ctx, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			perr := classifyReceive(err, KindFillTimeout, "await fill", rec.Side)
			if perr.Kind == KindFillTimeout {
				perr = newError(KindFillTimeout, "await fill", rec.Side,
					fmt.Errorf("no fill for order %d before deadline", rec.CorrelationID))
			}
			return nil, perr
		}

		if lighter.IsPing(raw) {
			if err := c.Conn.RespondKeepalive(ctx); err != nil {
				return nil, classifyReceive(err, KindFillTimeout, "keepalive", rec.Side)
			}
			continue
		}

		for _, trade := range lighter.ExtractTrades(raw) {
			accept, exact := c.match(trade, rec)
			if accept {
				return &FillEvent{Trade: trade, Exact: exact, ObservedAt: c.Now()}, nil
			}
			log.Debug("trade did not correlate",
				zap.Int64("trade_market", trade.Market()),
				zap.Int64("want_order", rec.CorrelationID))
		}
	}
}

// match applies the correlation predicate. An explicit correlation id
// always decides: a matching id accepts, a mismatched id rejects and is
// never overridden by the looser account/market fallback, since that
// would claim another order's fill. Only trades without the id field
// fall through to the fallback, and those matches are flagged inexact.
func (c *Correlator) match(trade lighter.Trade, rec *DispatchRecord) (accept, exact bool) {
	// The subscription channel is account-scoped, so trades that omit
	// account fields still belong to this account. Explicit fields must
	// agree when present.
	if trade.AskAccountID != nil || trade.BidAccountID != nil {
		if !trade.InvolvesAccount(c.AccountIndex) {
			return false, false
		}
	}

	if trade.ClientOrderIndex != nil {
		if *trade.ClientOrderIndex == rec.CorrelationID {
			return true, true
		}
		return false, false
	}

	if trade.Market() != rec.Market {
		return false, false
	}
	return true, false
}
