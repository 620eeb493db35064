// Package aggregate folds per-probe results into session statistics. It
// performs no I/O; the report package renders what this computes.
package aggregate

import (
	"sort"
	"time"

	"github.com/coveloop/lighterprobe/internal/probe"
)

// Summary are the session-level statistics over a set of probes.
// Averages cover completed probes only: a timed-out probe has no total
// and averaging in a fabricated value would flatter the numbers.
type Summary struct {
	Probes    int
	Completed int
	TimedOut  int
	Rejected  int
	Errored   int

	AvgTotal    time.Duration
	MinTotal    time.Duration
	MedianTotal time.Duration
	MaxTotal    time.Duration

	AvgSigning   time.Duration
	AvgSendToAck time.Duration
	AvgAckToFill time.Duration

	// FallbackMatches counts fills accepted by the degraded
	// account/market heuristic instead of an exact correlation id.
	FallbackMatches int
	// SizeFallbacks counts probes that needed the one permitted size
	// retry.
	SizeFallbacks int
}

// Summarize computes session statistics from results in any order.
func Summarize(results []probe.ProbeResult) Summary {
	s := Summary{Probes: len(results)}

	var totals []time.Duration
	var signingSum, sendAckSum, ackFillSum time.Duration

	for _, r := range results {
		if r.SizeFallback {
			s.SizeFallbacks++
		}
		if r.Fill != nil && !r.Fill.Exact {
			s.FallbackMatches++
		}

		if r.Err != nil {
			switch r.Err.Kind {
			case probe.KindFillTimeout, probe.KindAckTimeout:
				s.TimedOut++
			case probe.KindAckRejected:
				s.Rejected++
			default:
				s.Errored++
			}
			continue
		}

		b := r.Timing.Breakdown()
		if !b.Complete {
			s.Errored++
			continue
		}
		s.Completed++
		totals = append(totals, b.Total)
		signingSum += b.Signing
		sendAckSum += b.SendToAck
		ackFillSum += b.AckToFill
	}

	if s.Completed == 0 {
		return s
	}

	n := time.Duration(s.Completed)
	s.AvgSigning = signingSum / n
	s.AvgSendToAck = sendAckSum / n
	s.AvgAckToFill = ackFillSum / n

	sort.Slice(totals, func(i, j int) bool { return totals[i] < totals[j] })
	s.MinTotal = totals[0]
	s.MaxTotal = totals[len(totals)-1]
	s.MedianTotal = median(totals)

	var sum time.Duration
	for _, d := range totals {
		sum += d
	}
	s.AvgTotal = sum / n

	return s
}

func median(sorted []time.Duration) time.Duration {
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
