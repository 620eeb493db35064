package baseline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/probe"
	"github.com/coveloop/lighterprobe/internal/stream"
)

// Checker runs the zero-risk connectivity test: one public stream,
// one order book subscription, no credentials.
type Checker struct {
	// URL is the stream endpoint.
	URL           string
	MarketIndex   int64
	PriceDecimals int32

	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	AckTimeout      time.Duration

	// Dial is swapped for a fake in tests.
	Dial   probe.DialFunc
	Logger *zap.Logger
}

// Result is what the baseline check learned about the endpoint.
type Result struct {
	// GeoBlocked is set when the endpoint rejected or ignored the
	// handshake in a way consistent with a regional restriction. Reason
	// carries the evidence.
	GeoBlocked bool
	Reason     string

	ConnectTime   time.Duration
	SubscribeTime time.Duration

	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	BidLevels int
	AskLevels int
}

// Tradeable reports whether the endpoint answered with a two-sided
// book, the minimum needed before an order is risked.
func (r Result) Tradeable() bool {
	return !r.GeoBlocked && r.BidLevels > 0 && r.AskLevels > 0
}

// Check dials the public stream, subscribes to the market's order book
// and extracts the best levels. Geo-blocks are a determinate outcome
// reported in the Result; the error return is for everything else.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	dial := c.Dial
	if dial == nil {
		dial = func(ctx context.Context, url string, opts stream.Options) (stream.Conn, error) {
			return stream.Dial(ctx, url, opts)
		}
	}
	connectTimeout := c.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	start := time.Now()
	conn, err := dial(ctx, c.URL, stream.Options{
		Name:             "baseline",
		HandshakeTimeout: connectTimeout,
		PongPayload:      lighter.PongPayload,
		Logger:           log,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, err
		}
		var geoErr *stream.GeoBlockError
		if errors.As(err, &geoErr) {
			log.Warn("endpoint geo-blocked", zap.Int("status", geoErr.StatusCode))
			return Result{GeoBlocked: true, Reason: geoErr.Error()}, nil
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			reason := fmt.Sprintf("connect timed out after %s (possible geo-restriction)", connectTimeout)
			log.Warn("endpoint unreachable", zap.String("reason", reason))
			return Result{GeoBlocked: true, Reason: reason}, nil
		}
		return Result{}, fmt.Errorf("baseline dial: %w", err)
	}
	defer conn.Close()

	res := Result{ConnectTime: time.Since(start)}

	hs, err := probe.Handshake(ctx, conn, probe.HandshakeRequest{
		Channel:         lighter.OrderBookChannel(c.MarketIndex),
		AckType:         lighter.MsgSubscribedOrderBook,
		GreetingTimeout: c.GreetingTimeout,
		AckTimeout:      c.AckTimeout,
		Logger:          log,
	})
	if err != nil {
		return Result{}, err
	}
	res.SubscribeTime = hs.Setup

	snap, err := lighter.ParseBookSnapshot(hs.Ack)
	if err != nil {
		return Result{}, err
	}
	book := NewBook(c.PriceDecimals)
	if err := book.ApplySnapshot(snap); err != nil {
		return Result{}, fmt.Errorf("order book snapshot: %w", err)
	}
	res.BidLevels, res.AskLevels = book.Depth()
	if bid, ask, ok := book.Best(); ok {
		res.BestBid, res.BestAsk = bid, ask
	}

	log.Info("baseline check complete",
		zap.Duration("connect", res.ConnectTime),
		zap.Duration("subscribe", res.SubscribeTime),
		zap.Int("bid_levels", res.BidLevels),
		zap.Int("ask_levels", res.AskLevels))
	return res, nil
}
