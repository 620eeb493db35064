// Package report renders the run outcome as the fixed-width text block
// operators read off fleet instances. Formatting only; callers decide
// where it goes.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/coveloop/lighterprobe/internal/aggregate"
	"github.com/coveloop/lighterprobe/internal/baseline"
	"github.com/coveloop/lighterprobe/internal/preflight"
	"github.com/coveloop/lighterprobe/internal/probe"
)

var rule = strings.Repeat("=", 60)

// Data collects everything one run produced. Nil sections were never
// reached and stay out of the output.
type Data struct {
	Endpoint     string
	AccountIndex int64
	StartedAt    time.Time

	Baseline     *baseline.Result
	Preflight    *preflight.Report
	PreflightErr string
	Probes       []probe.ProbeResult
	Cleanup      *preflight.Report
	Interrupted  bool
}

// Header prints the run banner.
func Header(w io.Writer, d Data) {
	host := strings.TrimPrefix(strings.TrimPrefix(d.Endpoint, "https://"), "http://")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "LIGHTER CONNECTIVITY & LATENCY TEST")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Endpoint: %s\n", host)
	fmt.Fprintf(w, "Account:  %d\n", d.AccountIndex)
	fmt.Fprintf(w, "Time:     %s\n", d.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintln(w)
}

// Summary prints the final block. Probes that never completed show
// explicit TIMEOUT/FAILED markers, never fabricated numbers.
func Summary(w io.Writer, d Data) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SUMMARY")
	fmt.Fprintln(w, rule)

	if d.Baseline != nil && d.Baseline.GeoBlocked {
		line(w, "Geo-Blocked:", "YES ("+d.Baseline.Reason+")")
		fmt.Fprintln(w, "  (Test skipped)")
		fmt.Fprintln(w, rule)
		return
	}
	line(w, "Geo-Blocked:", "NO")

	if d.Baseline != nil {
		line(w, "WS Connect:", ms(d.Baseline.ConnectTime))
		line(w, "Orderbook Sub:", ms(d.Baseline.SubscribeTime))
		if d.Baseline.Tradeable() {
			fmt.Fprintf(w, "  Best Bid: $%s  Best Ask: $%s\n",
				d.Baseline.BestBid.StringFixed(2), d.Baseline.BestAsk.StringFixed(2))
		}
	}

	if d.Preflight != nil {
		line(w, "Balance:", "$"+d.Preflight.Balance.StringFixed(2)+" USDC")
		line(w, "Position:", d.Preflight.Describe())
	} else if d.PreflightErr != "" {
		line(w, "Pre-Flight:", "FAILED ("+d.PreflightErr+")")
	}

	for _, res := range d.Probes {
		line(w, fmt.Sprintf("Taker %s Latency:", res.Side), probeLine(res))
	}

	sum := aggregate.Summarize(d.Probes)
	if sum.Completed > 0 {
		line(w, "Average Latency:", ms(sum.AvgTotal))
	}
	if sum.FallbackMatches > 0 {
		line(w, "Fallback Matches:", fmt.Sprintf("%d (matched without order id)", sum.FallbackMatches))
	}
	if sum.SizeFallbacks > 0 {
		line(w, "Size Fallbacks:", fmt.Sprintf("%d", sum.SizeFallbacks))
	}

	if d.Cleanup != nil {
		if d.Cleanup.Flat() {
			line(w, "Cleanup Position:", "FLAT (verified)")
		} else {
			line(w, "Cleanup Position:", d.Cleanup.Describe()+" (WARNING: position left open)")
		}
		line(w, "Cleanup Balance:", "$"+d.Cleanup.Balance.StringFixed(2)+" USDC")
	}
	if d.Interrupted {
		line(w, "Interrupted:", "YES")
	}
	fmt.Fprintln(w, rule)
}

// probeLine renders one probe's value column.
func probeLine(res probe.ProbeResult) string {
	b := res.Timing.Breakdown()
	if res.Completed() {
		s := fmt.Sprintf("%s  (sign %s / ack %s / fill %s)",
			ms(b.Total), ms(b.Signing), ms(b.SendToAck), ms(b.AckToFill))
		if res.Fill != nil && !res.Fill.Exact {
			s += " [fallback match]"
		}
		if res.SizeFallback {
			s += " [fallback size]"
		}
		return s
	}
	if res.Err == nil {
		return "INCOMPLETE"
	}
	switch res.Err.Kind {
	case probe.KindFillTimeout:
		return fmt.Sprintf("NO FILL  (ack %s)", ms(b.SendToAck))
	case probe.KindAckTimeout:
		return "TIMEOUT  (no ack)"
	default:
		return fmt.Sprintf("FAILED (%s)", res.Err)
	}
}

func line(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-20s%s\n", label, value)
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Round(time.Millisecond).Milliseconds())
}
