// Package sink publishes probe results to kafka for fleet-wide
// collection. The sink is strictly best-effort: publish failures are
// logged and swallowed so they can never distort a measurement.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/aggregate"
	"github.com/coveloop/lighterprobe/internal/probe"
)

const (
	TopicProbes   = "latency.probes"
	TopicSessions = "latency.sessions"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes per-probe and per-session records, keyed by a
// session uuid so a fleet consumer can group one instance's run.
type Publisher struct {
	writer    messageWriter
	sessionID string
	log       *zap.Logger
}

// New builds a publisher over the given brokers. Nil is returned when
// no brokers are configured; a nil Publisher drops everything.
func New(brokers []string, log *zap.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
	})
	return &Publisher{writer: w, sessionID: uuid.NewString(), log: log}
}

// SessionID identifies this run in the published records.
func (p *Publisher) SessionID() string {
	if p == nil {
		return ""
	}
	return p.sessionID
}

// RunMeta is the run context attached to session records.
type RunMeta struct {
	Endpoint     string    `json:"endpoint"`
	AccountIndex int64     `json:"account_index"`
	MarketIndex  int64     `json:"market_index"`
	StartedAt    time.Time `json:"started_at"`
	GeoBlocked   bool      `json:"geo_blocked"`
}

type probeRecord struct {
	SessionID     string    `json:"session_id"`
	Side          string    `json:"side"`
	Outcome       string    `json:"outcome"`
	SizeUnits     int64     `json:"size_units"`
	CorrelationID int64     `json:"correlation_id"`
	RequestID     string    `json:"request_id,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	SignalAt      time.Time `json:"signal_at"`
	Complete      bool      `json:"complete"`
	SignMs        float64   `json:"sign_ms"`
	SendToAckMs   float64   `json:"send_to_ack_ms"`
	AckToFillMs   float64   `json:"ack_to_fill_ms"`
	TotalMs       float64   `json:"total_ms"`
	ExactMatch    bool      `json:"exact_match"`
	SizeFallback  bool      `json:"size_fallback"`
	Error         string    `json:"error,omitempty"`
}

type sessionRecord struct {
	SessionID string `json:"session_id"`
	RunMeta
	Probes          int     `json:"probes"`
	Completed       int     `json:"completed"`
	TimedOut        int     `json:"timed_out"`
	Rejected        int     `json:"rejected"`
	Errored         int     `json:"errored"`
	AvgTotalMs      float64 `json:"avg_total_ms"`
	MinTotalMs      float64 `json:"min_total_ms"`
	MedianTotalMs   float64 `json:"median_total_ms"`
	MaxTotalMs      float64 `json:"max_total_ms"`
	AvgSignMs       float64 `json:"avg_sign_ms"`
	AvgSendToAckMs  float64 `json:"avg_send_to_ack_ms"`
	AvgAckToFillMs  float64 `json:"avg_ack_to_fill_ms"`
	FallbackMatches int     `json:"fallback_matches"`
	SizeFallbacks   int     `json:"size_fallbacks"`
}

// PublishProbe sends one probe record to the probes topic.
func (p *Publisher) PublishProbe(ctx context.Context, res probe.ProbeResult) {
	if p == nil {
		return
	}
	b := res.Timing.Breakdown()
	rec := probeRecord{
		SessionID:     p.sessionID,
		Side:          string(res.Side),
		Outcome:       res.Outcome(),
		SizeUnits:     res.SizeUnits,
		CorrelationID: res.CorrelationID,
		RequestID:     res.RequestID,
		TxHash:        res.TxHash,
		SignalAt:      res.Timing.Signal,
		Complete:      b.Complete,
		SignMs:        millis(b.Signing),
		SendToAckMs:   millis(b.SendToAck),
		AckToFillMs:   millis(b.AckToFill),
		TotalMs:       millis(b.Total),
		ExactMatch:    res.Fill != nil && res.Fill.Exact,
		SizeFallback:  res.SizeFallback,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	p.publish(ctx, TopicProbes, rec)
}

// PublishSummary sends the session rollup to the sessions topic.
func (p *Publisher) PublishSummary(ctx context.Context, meta RunMeta, sum aggregate.Summary) {
	if p == nil {
		return
	}
	rec := sessionRecord{
		SessionID:       p.sessionID,
		RunMeta:         meta,
		Probes:          sum.Probes,
		Completed:       sum.Completed,
		TimedOut:        sum.TimedOut,
		Rejected:        sum.Rejected,
		Errored:         sum.Errored,
		AvgTotalMs:      millis(sum.AvgTotal),
		MinTotalMs:      millis(sum.MinTotal),
		MedianTotalMs:   millis(sum.MedianTotal),
		MaxTotalMs:      millis(sum.MaxTotal),
		AvgSignMs:       millis(sum.AvgSigning),
		AvgSendToAckMs:  millis(sum.AvgSendToAck),
		AvgAckToFillMs:  millis(sum.AvgAckToFill),
		FallbackMatches: sum.FallbackMatches,
		SizeFallbacks:   sum.SizeFallbacks,
	}
	p.publish(ctx, TopicSessions, rec)
}

func (p *Publisher) publish(ctx context.Context, topic string, rec any) {
	value, err := json.Marshal(rec)
	if err != nil {
		p.log.Warn("sink encode failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(p.sessionID),
		Value: value,
	})
	if err != nil {
		p.log.Warn("sink publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Close flushes and shuts the writer down.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		p.log.Warn("sink close", zap.Error(err))
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
