// Package probe implements the dual-channel latency measurement core: a
// subscription handshake that guarantees the fill listener is live before
// any order is sent, an order dispatcher with bounded ack waits, a fill
// correlator with exact-id-first matching, and the timing capture that
// turns one round trip into a five-point breakdown.
package probe

import (
	"time"

	"github.com/coveloop/lighterprobe/internal/lighter"
)

// Side is the direction of a trade probe.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsAsk reports the venue encoding of the side: asks sell, bids buy.
func (s Side) IsAsk() bool {
	return s == SideSell
}

// TradeIntent describes one order probe. Sizes and prices are already
// scaled to integer exchange units; the caller owns that conversion.
type TradeIntent struct {
	Side       Side
	SizeUnits  int64
	WorstPrice int64
}

// DispatchRecord is the immutable identity of one sent command, handed
// from the dispatcher to the fill correlator.
type DispatchRecord struct {
	CorrelationID int64
	RequestID     string
	TxHash        string
	Side          Side
	Market        int64
	Payload       []byte
}

// TimingPoints are the five instants captured across a probe, sampled
// inline with the operations they mark. FillAt stays zero when no fill
// arrived. The monotonic clock guarantees Signal <= Signed <= Sent <=
// AckAt <= FillAt for points that were sampled.
type TimingPoints struct {
	Signal time.Time
	Signed time.Time
	Sent   time.Time
	AckAt  time.Time
	FillAt time.Time
}

// Breakdown is the derived per-stage latency view of one probe.
type Breakdown struct {
	Signing   time.Duration
	SendToAck time.Duration
	AckToFill time.Duration
	Total     time.Duration
	// Complete is false when the fill never arrived; AckToFill and
	// Total are zero and must be reported as unavailable, not as
	// fabricated numbers.
	Complete bool
}

// Breakdown derives stage durations from the captured points. Stages
// whose end point was never sampled stay zero.
func (tp TimingPoints) Breakdown() Breakdown {
	var b Breakdown
	if !tp.Signed.IsZero() {
		b.Signing = tp.Signed.Sub(tp.Signal)
	}
	if !tp.AckAt.IsZero() && !tp.Signed.IsZero() {
		b.SendToAck = tp.AckAt.Sub(tp.Signed)
	}
	if !tp.FillAt.IsZero() && !tp.AckAt.IsZero() {
		b.AckToFill = tp.FillAt.Sub(tp.AckAt)
		b.Total = tp.FillAt.Sub(tp.Signal)
		b.Complete = true
	}
	return b
}

// FillEvent is the accepted notification that closed a probe.
type FillEvent struct {
	Trade lighter.Trade
	// Exact is true when the trade carried the probe's correlation id.
	// False means the degraded account/market fallback matched, which
	// downstream consumers must be able to tell apart.
	Exact      bool
	ObservedAt time.Time
}

// Ack is the synchronous response observed on the command stream.
type Ack struct {
	Raw      []byte
	Rejected bool
	Reason   string
}

// ProbeResult is the immutable record of one finished probe.
type ProbeResult struct {
	Side          Side
	SizeUnits     int64
	CorrelationID int64
	RequestID     string
	TxHash        string
	Timing        TimingPoints
	Fill          *FillEvent
	// SizeFallback marks that the probe succeeded only after the one
	// permitted size retry.
	SizeFallback bool
	Err          *Error
}

// Outcome labels the result for metrics and the summary table.
func (r ProbeResult) Outcome() string {
	if r.Err == nil {
		return "complete"
	}
	return string(r.Err.Kind)
}

// Completed reports whether the probe captured a full five-point timing.
func (r ProbeResult) Completed() bool {
	return r.Err == nil && !r.Timing.FillAt.IsZero()
}
