package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/stream"
	"github.com/coveloop/lighterprobe/pkg/metrics"
)

// SessionConfig carries the already-validated parameters of one
// measurement session.
type SessionConfig struct {
	StreamURL    string
	AccountIndex int64
	MarketIndex  int64
	// FallbackSizeUnits is the size of the one permitted retry after a
	// size- or balance-related rejection. Zero disables the retry.
	FallbackSizeUnits int64
	ConnectTimeout    time.Duration
	GreetingTimeout   time.Duration
	AckTimeout        time.Duration
	FillTimeout       time.Duration
}

func (c *SessionConfig) setDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.GreetingTimeout <= 0 {
		c.GreetingTimeout = 5 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.FillTimeout <= 0 {
		c.FillTimeout = 10 * time.Second
	}
}

// SetupTimings records how long the session took to become ready.
type SetupTimings struct {
	NotifyConnect  time.Duration
	ListenerSetup  time.Duration
	CommandConnect time.Duration
	CommandReady   time.Duration
}

// DialFunc opens one stream connection. Tests substitute fakes here.
type DialFunc func(ctx context.Context, url string, opts stream.Options) (stream.Conn, error)

func defaultDial(ctx context.Context, url string, opts stream.Options) (stream.Conn, error) {
	return stream.Dial(ctx, url, opts)
}

// Session owns the two long-lived streams and runs probes over them.
// All calls happen on one logical flow; the session is not safe for
// concurrent use and does not need to be.
type Session struct {
	cfg    SessionConfig
	log    *zap.Logger
	signer Signer
	dial   DialFunc
	now    func() time.Time
	tracer trace.Tracer

	notify  stream.Conn
	command stream.Conn
	ready   bool
	setup   SetupTimings

	cid     int64
	results []ProbeResult
}

// NewSession builds an idle session. Start must succeed before Probe.
func NewSession(cfg SessionConfig, sg Signer, log *zap.Logger) *Session {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:    cfg,
		log:    log,
		signer: sg,
		dial:   defaultDial,
		now:    time.Now,
		tracer: otel.Tracer("github.com/coveloop/lighterprobe/internal/probe"),
		// Seed from the wall clock so ids from consecutive runs do not
		// collide at the venue, then count up within the process.
		cid: time.Now().UnixMilli() % (1 << 31),
	}
}

func (s *Session) nextCorrelationID() int64 {
	s.cid++
	return s.cid
}

// Start connects and prepares both streams. The notification handshake
// completes before the command stream exists at all, which is the
// ordering guarantee that makes fills impossible to miss: nothing can be
// dispatched before the listener is live.
func (s *Session) Start(ctx context.Context) error {
	if s.ready {
		return errors.New("session already started")
	}

	dialStart := s.now()
	notify, err := s.dial(ctx, s.cfg.StreamURL, stream.Options{
		Name:             "notify",
		HandshakeTimeout: s.cfg.ConnectTimeout,
		PongPayload:      lighter.PongPayload,
		Logger:           s.log,
	})
	if err != nil {
		return newError(KindConnect, "dial notify stream", "", err)
	}
	s.notify = notify
	s.setup.NotifyConnect = s.now().Sub(dialStart)

	hs, err := Handshake(ctx, notify, HandshakeRequest{
		Channel:         lighter.AccountChannel(s.cfg.AccountIndex),
		AckType:         lighter.MsgSubscribedAccount,
		GreetingTimeout: s.cfg.GreetingTimeout,
		AckTimeout:      s.cfg.AckTimeout,
		Logger:          s.log,
	})
	if err != nil {
		s.Close()
		return err
	}
	s.setup.ListenerSetup = hs.Setup

	dialStart = s.now()
	command, err := s.dial(ctx, s.cfg.StreamURL, stream.Options{
		Name:             "command",
		HandshakeTimeout: s.cfg.ConnectTimeout,
		PongPayload:      lighter.PongPayload,
		Logger:           s.log,
	})
	if err != nil {
		s.Close()
		return newError(KindConnect, "dial command stream", "", err)
	}
	s.command = command
	s.setup.CommandConnect = s.now().Sub(dialStart)

	// Greeting-only: the command stream carries no subscriptions, so
	// order responses are the only non-ping traffic on it.
	cmdReady, err := Handshake(ctx, command, HandshakeRequest{
		GreetingTimeout: s.cfg.GreetingTimeout,
		Logger:          s.log,
	})
	if err != nil {
		s.Close()
		return err
	}
	s.setup.CommandReady = cmdReady.Setup

	s.ready = true
	s.log.Info("session ready",
		zap.Duration("notify_connect", s.setup.NotifyConnect),
		zap.Duration("listener_setup", s.setup.ListenerSetup),
		zap.Duration("command_connect", s.setup.CommandConnect))
	return nil
}

// Setup returns the session setup timings, valid after Start.
func (s *Session) Setup() SetupTimings {
	return s.setup
}

// Probe runs one order through dispatch and fill correlation. Failures
// land in the result's Err; the returned error is non-nil only for
// cancellation or calling before Start. A rejection whose reason points
// at size or balance triggers the single permitted fallback-size retry.
func (s *Session) Probe(ctx context.Context, intent TradeIntent) (ProbeResult, error) {
	if !s.ready {
		return ProbeResult{}, errors.New("probe before session start")
	}
	if err := ctx.Err(); err != nil {
		return ProbeResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "probe",
		trace.WithAttributes(
			attribute.String("side", string(intent.Side)),
			attribute.Int64("size_units", intent.SizeUnits),
		))
	defer span.End()

	res, err := s.runProbe(ctx, intent)
	if err != nil {
		return ProbeResult{}, err
	}

	if res.Err != nil && res.Err.Kind == KindAckRejected &&
		retryableRejection(res.Err.Err) &&
		s.cfg.FallbackSizeUnits > 0 && s.cfg.FallbackSizeUnits != intent.SizeUnits {
		s.log.Warn("rejected, retrying once with fallback size",
			zap.String("side", string(intent.Side)),
			zap.Int64("size_units", s.cfg.FallbackSizeUnits),
			zap.Error(res.Err))
		retry := intent
		retry.SizeUnits = s.cfg.FallbackSizeUnits
		res, err = s.runProbe(ctx, retry)
		if err != nil {
			return ProbeResult{}, err
		}
		res.SizeFallback = true
	}

	s.results = append(s.results, res)
	s.record(res)
	s.emitStageSpans(ctx, res.Timing)
	span.SetAttributes(attribute.String("outcome", res.Outcome()))
	return res, nil
}

// emitStageSpans replays the sampled timing points as child spans so a
// trace viewer shows the same breakdown the report prints. Spans are
// created after the fact with explicit timestamps; stages that never
// happened leave no span.
func (s *Session) emitStageSpans(ctx context.Context, tp TimingPoints) {
	stage := func(name string, from, to time.Time) {
		if from.IsZero() || to.IsZero() {
			return
		}
		_, sp := s.tracer.Start(ctx, name, trace.WithTimestamp(from))
		sp.End(trace.WithTimestamp(to))
	}
	stage("sign", tp.Signal, tp.Signed)
	stage("send", tp.Signed, tp.Sent)
	stage("await_ack", tp.Sent, tp.AckAt)
	stage("await_fill", tp.AckAt, tp.FillAt)
}

func (s *Session) runProbe(ctx context.Context, intent TradeIntent) (ProbeResult, error) {
	d := &Dispatcher{
		Conn:       s.command,
		Signer:     s.signer,
		Market:     s.cfg.MarketIndex,
		AckTimeout: s.cfg.AckTimeout,
		NextID:     s.nextCorrelationID,
		Now:        s.now,
		Logger:     s.log,
	}

	res := ProbeResult{Side: intent.Side, SizeUnits: intent.SizeUnits}

	rec, tp, _, err := d.Dispatch(ctx, intent)
	res.Timing = tp
	if rec != nil {
		res.CorrelationID = rec.CorrelationID
		res.RequestID = rec.RequestID
		res.TxHash = rec.TxHash
	}
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		res.Err = AsProbeError(err, KindSend, "dispatch", intent.Side)
		return res, nil
	}

	c := &Correlator{
		Conn:         s.notify,
		AccountIndex: s.cfg.AccountIndex,
		Now:          s.now,
		Logger:       s.log,
	}
	fill, err := c.AwaitFill(ctx, rec, res.Timing.AckAt.Add(s.cfg.FillTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return ProbeResult{}, ctx.Err()
		}
		// Ack timings stay valid; only the fill leg is missing.
		res.Err = AsProbeError(err, KindFillTimeout, "await fill", intent.Side)
		return res, nil
	}
	res.Fill = fill
	res.Timing.FillAt = fill.ObservedAt
	return res, nil
}

// record feeds the result into metrics.
func (s *Session) record(res ProbeResult) {
	side := strings.ToLower(string(res.Side))
	metrics.ProbesTotal.WithLabelValues(side, res.Outcome()).Inc()

	b := res.Timing.Breakdown()
	if !res.Timing.Signed.IsZero() {
		metrics.StageLatency.WithLabelValues(side, "signing").Observe(b.Signing.Seconds())
	}
	if !res.Timing.AckAt.IsZero() {
		metrics.StageLatency.WithLabelValues(side, "send_to_ack").Observe(b.SendToAck.Seconds())
	}
	if b.Complete {
		metrics.StageLatency.WithLabelValues(side, "ack_to_fill").Observe(b.AckToFill.Seconds())
		metrics.StageLatency.WithLabelValues(side, "total").Observe(b.Total.Seconds())
		metrics.LastProbeLatency.WithLabelValues(side).Set(b.Total.Seconds())
	}
}

// Results returns the accumulated probe results in execution order.
func (s *Session) Results() []ProbeResult {
	return s.results
}

// CancelAll signs and submits a cancel-all on the command stream without
// waiting for the response. Teardown calls it after an interrupted run
// so nothing half-acked can rest at the venue. A signer without cancel
// support or an already-closed stream makes it a no-op.
func (s *Session) CancelAll(ctx context.Context) error {
	cs, ok := s.signer.(interface {
		SignCancelAll(timestampMs int64) (json.RawMessage, string, error)
	})
	if !ok || s.command == nil {
		return nil
	}
	txInfo, _, err := cs.SignCancelAll(s.now().UnixMilli())
	if err != nil {
		return newError(KindSigning, "sign cancel-all", "", err)
	}
	payload, err := lighter.NewSendTx(fmt.Sprintf("req_%d", s.now().UnixMilli()),
		lighter.TxTypeCancelAllOrders, txInfo)
	if err != nil {
		return newError(KindSigning, "encode cancel-all", "", err)
	}
	if err := s.command.Send(ctx, payload); err != nil {
		return newError(KindSend, "send cancel-all", "", err)
	}
	s.log.Info("cancel-all submitted")
	return nil
}

// Close tears both streams down. It is safe on every exit path, repeat
// calls and partially started sessions included.
func (s *Session) Close() {
	s.ready = false
	if s.command != nil {
		if err := s.command.Close(); err != nil {
			s.log.Debug("command stream close", zap.Error(err))
		}
		s.command = nil
	}
	if s.notify != nil {
		if err := s.notify.Close(); err != nil {
			s.log.Debug("notify stream close", zap.Error(err))
		}
		s.notify = nil
	}
}

// retryableRejection matches the rejection reasons worth one size
// fallback: the venue signals minimum-notional and balance problems with
// these words.
func retryableRejection(err error) bool {
	if err == nil {
		return false
	}
	reason := strings.ToLower(err.Error())
	for _, needle := range []string{"balance", "size", "amount", "notional", "margin"} {
		if strings.Contains(reason, needle) {
			return true
		}
	}
	return false
}
