package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/aggregate"
	"github.com/coveloop/lighterprobe/internal/baseline"
	"github.com/coveloop/lighterprobe/internal/config"
	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/monitor"
	"github.com/coveloop/lighterprobe/internal/preflight"
	"github.com/coveloop/lighterprobe/internal/probe"
	"github.com/coveloop/lighterprobe/internal/report"
	"github.com/coveloop/lighterprobe/internal/signer"
	"github.com/coveloop/lighterprobe/internal/sink"
	"github.com/coveloop/lighterprobe/internal/telemetry"
)

// Exit codes are the shell contract: wrappers branch on them without
// parsing the report.
const (
	exitOK          = 0
	exitGeoBlocked  = 1
	exitPreflight   = 2
	exitProbeError  = 3
	exitInterrupted = 130
)

// orderSigner adapts the key-holding signer to the probe interface,
// pinning the market every order targets.
type orderSigner struct {
	sg     *signer.Signer
	market int64
}

func (o orderSigner) SignOrder(intent probe.TradeIntent, correlationID int64) (json.RawMessage, string, error) {
	return o.sg.SignCreateOrder(signer.OrderRequest{
		MarketIndex:      o.market,
		ClientOrderIndex: correlationID,
		BaseAmount:       intent.SizeUnits,
		Price:            intent.WorstPrice,
		IsAsk:            intent.Side.IsAsk(),
	})
}

func (o orderSigner) SignCancelAll(timestampMs int64) (json.RawMessage, string, error) {
	return o.sg.SignCancelAll(timestampMs)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) int {
	if cfg.Trace {
		shutdown, err := telemetry.Setup(ctx, os.Stderr)
		if err != nil {
			log.Error("telemetry setup failed", zap.Error(err))
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn("telemetry shutdown", zap.Error(err))
				}
			}()
		}
	}

	pub := sink.New(cfg.Brokers(), log)
	defer pub.Close()

	r := &runner{cfg: cfg, log: log, pub: pub, out: os.Stdout}
	if !cfg.Watch {
		code, _ := r.once(ctx)
		return code
	}
	return r.watch(ctx)
}

type runner struct {
	cfg *config.Config
	log *zap.Logger
	pub *sink.Publisher
	out io.Writer
}

// once runs a full measurement pass: baseline, pre-flight, the dual
// stream session with one probe per side, cleanup verification, then the
// report and the fleet publish. The returned snapshot feeds the
// diagnostics server in watch mode.
func (r *runner) once(ctx context.Context) (int, monitor.Snapshot) {
	cfg, log := r.cfg, r.log
	started := time.Now()

	data := report.Data{
		Endpoint:     cfg.APIURL,
		AccountIndex: cfg.AccountIndex,
		StartedAt:    started,
	}
	report.Header(r.out, data)

	// finish is the single exit path: every outcome prints the summary
	// and ships whatever was measured. Publishing runs on its own
	// context so an interrupt cannot suppress the records.
	finish := func(code int) (int, monitor.Snapshot) {
		report.Summary(r.out, data)

		sum := aggregate.Summarize(data.Probes)
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, res := range data.Probes {
			r.pub.PublishProbe(pubCtx, res)
		}
		geoBlocked := data.Baseline != nil && data.Baseline.GeoBlocked
		r.pub.PublishSummary(pubCtx, sink.RunMeta{
			Endpoint:     cfg.APIURL,
			AccountIndex: cfg.AccountIndex,
			MarketIndex:  cfg.MarketIndex,
			StartedAt:    started,
			GeoBlocked:   geoBlocked,
		}, sum)

		return code, monitor.NewSnapshot(r.pub.SessionID(), started, time.Now(), geoBlocked, sum)
	}

	check := &baseline.Checker{
		URL:             lighter.StreamURL(cfg.APIURL),
		MarketIndex:     cfg.MarketIndex,
		PriceDecimals:   cfg.PriceDecimals,
		ConnectTimeout:  cfg.ConnectTimeout,
		GreetingTimeout: cfg.GreetingTimeout,
		AckTimeout:      cfg.AckTimeout,
		Logger:          log,
	}
	base, err := check.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			data.Interrupted = true
			return finish(exitInterrupted)
		}
		log.Error("baseline check failed", zap.Error(err))
		return finish(exitProbeError)
	}
	data.Baseline = &base
	if base.GeoBlocked {
		log.Warn("endpoint geo-blocked", zap.String("reason", base.Reason))
		return finish(exitGeoBlocked)
	}
	if !base.Tradeable() {
		log.Error("orderbook is not two-sided, refusing to size orders",
			zap.Int("bid_levels", base.BidLevels),
			zap.Int("ask_levels", base.AskLevels))
		return finish(exitProbeError)
	}

	sg, err := signer.New(cfg.PrivateKey, cfg.AccountIndex, cfg.APIKeyIndex)
	if err != nil {
		log.Error("signer init failed", zap.Error(err))
		data.PreflightErr = err.Error()
		return finish(exitPreflight)
	}
	log.Info("signer ready", zap.String("address", sg.Address()))

	accounts := &preflight.Client{BaseURL: cfg.APIURL, Logger: log}
	pre, err := accounts.Account(ctx, cfg.AccountIndex, cfg.MarketIndex)
	if err != nil {
		if ctx.Err() != nil {
			data.Interrupted = true
			return finish(exitInterrupted)
		}
		log.Error("pre-flight account query failed", zap.Error(err))
		data.PreflightErr = err.Error()
		return finish(exitPreflight)
	}
	data.Preflight = &pre
	if pre.LowBalance {
		log.Warn("collateral below the safe floor, orders may be rejected",
			zap.String("balance", pre.Balance.String()))
	}
	if !pre.Flat() {
		log.Warn("account enters the run with an open position",
			zap.String("position", pre.Describe()))
	}

	sess := probe.NewSession(probe.SessionConfig{
		StreamURL:         lighter.StreamURL(cfg.APIURL),
		AccountIndex:      cfg.AccountIndex,
		MarketIndex:       cfg.MarketIndex,
		FallbackSizeUnits: cfg.FallbackSizeUnits,
		ConnectTimeout:    cfg.ConnectTimeout,
		GreetingTimeout:   cfg.GreetingTimeout,
		AckTimeout:        cfg.AckTimeout,
		FillTimeout:       cfg.FillTimeout,
	}, orderSigner{sg: sg, market: cfg.MarketIndex}, log)
	defer sess.Close()

	if err := sess.Start(ctx); err != nil {
		if ctx.Err() != nil {
			data.Interrupted = true
			return finish(exitInterrupted)
		}
		log.Error("session start failed", zap.Error(err))
		return finish(exitProbeError)
	}

	// BUY first so the SELL both measures the other side and flattens
	// whatever the BUY filled.
	slip := cfg.SlippageDecimal()
	intents := []probe.TradeIntent{
		{
			Side:       probe.SideBuy,
			SizeUnits:  cfg.ProbeSizeUnits,
			WorstPrice: lighter.WorstPrice(base.BestAsk, slip, probe.SideBuy.IsAsk(), cfg.PriceDecimals),
		},
		{
			Side:       probe.SideSell,
			SizeUnits:  cfg.ProbeSizeUnits,
			WorstPrice: lighter.WorstPrice(base.BestBid, slip, probe.SideSell.IsAsk(), cfg.PriceDecimals),
		},
	}

	interrupted := false
	for _, intent := range intents {
		res, err := sess.Probe(ctx, intent)
		if err != nil {
			interrupted = true
			break
		}
		if res.Err != nil && res.Err.SessionFatal() {
			log.Error("stream lost mid-run, skipping remaining probes", zap.Error(res.Err))
			break
		}
	}
	data.Probes = sess.Results()

	if interrupted {
		data.Interrupted = true
		cancelCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := sess.CancelAll(cancelCtx); err != nil {
			log.Warn("cancel-all on interrupt", zap.Error(err))
		}
		cancel()
		sess.Close()
		data.Cleanup = r.verifyCleanup(accounts)
		return finish(exitInterrupted)
	}

	sess.Close()
	data.Cleanup = r.verifyCleanup(accounts)

	code := exitOK
	for _, res := range data.Probes {
		if res.Err != nil {
			code = exitProbeError
		}
	}
	return finish(code)
}

// verifyCleanup re-queries the account once the streams are down.
// Best-effort: a failed query logs and leaves the summary without a
// cleanup block.
func (r *runner) verifyCleanup(accounts *preflight.Client) *preflight.Report {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := accounts.Account(ctx, r.cfg.AccountIndex, r.cfg.MarketIndex)
	if err != nil {
		r.log.Warn("cleanup verification failed", zap.Error(err))
		return nil
	}
	if !rep.Flat() {
		r.log.Warn("position left open after run", zap.String("position", rep.Describe()))
	}
	return &rep
}

// watch re-runs the measurement on a ticker and serves the diagnostics
// API until interrupted.
func (r *runner) watch(ctx context.Context) int {
	srv := monitor.NewServer(r.log)
	go func() {
		if err := srv.Start(ctx, r.cfg.ListenAddr); err != nil {
			r.log.Error("diagnostics server failed", zap.Error(err))
		}
	}()

	code, snap := r.once(ctx)
	srv.Record(snap)
	if code == exitInterrupted {
		return exitInterrupted
	}

	ticker := time.NewTicker(r.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return exitInterrupted
		case <-ticker.C:
			code, snap = r.once(ctx)
			srv.Record(snap)
			if code == exitInterrupted {
				return exitInterrupted
			}
		}
	}
}
