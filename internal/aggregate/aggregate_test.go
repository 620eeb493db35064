package aggregate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coveloop/lighterprobe/internal/probe"
)

func completedResult(side probe.Side, signing, sendAck, ackFill time.Duration) probe.ProbeResult {
	base := time.Unix(1_700_000_000, 0)
	return probe.ProbeResult{
		Side: side,
		Timing: probe.TimingPoints{
			Signal: base,
			Signed: base.Add(signing),
			Sent:   base.Add(signing),
			AckAt:  base.Add(signing + sendAck),
			FillAt: base.Add(signing + sendAck + ackFill),
		},
	}
}

func failedResult(side probe.Side, kind probe.Kind) probe.ProbeResult {
	return probe.ProbeResult{
		Side: side,
		Err:  &probe.Error{Kind: kind, Stage: "test", Side: side, Err: errors.New("x")},
	}
}

func TestSummarizeAveragesExcludeTimeouts(t *testing.T) {
	results := []probe.ProbeResult{
		completedResult(probe.SideBuy, 2*time.Millisecond, 40*time.Millisecond, 8*time.Millisecond),  // 50ms
		completedResult(probe.SideSell, 2*time.Millisecond, 60*time.Millisecond, 8*time.Millisecond), // 70ms
		failedResult(probe.SideBuy, probe.KindFillTimeout),
	}

	s := Summarize(results)
	assert.Equal(t, 3, s.Probes)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 60*time.Millisecond, s.AvgTotal, "timeout must not drag the average")
	assert.Equal(t, 50*time.Millisecond, s.MinTotal)
	assert.Equal(t, 70*time.Millisecond, s.MaxTotal)
	assert.Equal(t, 60*time.Millisecond, s.MedianTotal)
	assert.Equal(t, 2*time.Millisecond, s.AvgSigning)
	assert.Equal(t, 50*time.Millisecond, s.AvgSendToAck)
	assert.Equal(t, 8*time.Millisecond, s.AvgAckToFill)
}

func TestSummarizeMedianOdd(t *testing.T) {
	results := []probe.ProbeResult{
		completedResult(probe.SideBuy, 0, 10*time.Millisecond, 0),
		completedResult(probe.SideBuy, 0, 30*time.Millisecond, 0),
		completedResult(probe.SideBuy, 0, 500*time.Millisecond, 0),
	}
	s := Summarize(results)
	assert.Equal(t, 30*time.Millisecond, s.MedianTotal)
	assert.Equal(t, 180*time.Millisecond, s.AvgTotal)
}

func TestSummarizeCountsKinds(t *testing.T) {
	results := []probe.ProbeResult{
		failedResult(probe.SideBuy, probe.KindAckRejected),
		failedResult(probe.SideSell, probe.KindAckTimeout),
		failedResult(probe.SideSell, probe.KindSigning),
	}
	s := Summarize(results)
	assert.Equal(t, 0, s.Completed)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 1, s.Errored)
	assert.Zero(t, s.AvgTotal)
}

func TestSummarizeFlags(t *testing.T) {
	exact := completedResult(probe.SideBuy, 0, 10*time.Millisecond, time.Millisecond)
	exact.Fill = &probe.FillEvent{Exact: true}

	loose := completedResult(probe.SideSell, 0, 10*time.Millisecond, time.Millisecond)
	loose.Fill = &probe.FillEvent{Exact: false}
	loose.SizeFallback = true

	s := Summarize([]probe.ProbeResult{exact, loose})
	assert.Equal(t, 1, s.FallbackMatches)
	assert.Equal(t, 1, s.SizeFallbacks)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Probes)
	assert.Zero(t, s.AvgTotal)
}
