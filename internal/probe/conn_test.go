package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/stream"
)

// fakeClock drives all timing in these tests so stage durations come out
// exact instead of approximate.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// step is one scripted receive: the virtual time it takes to arrive and
// either a payload or a forced error.
type step struct {
	advance time.Duration
	payload []byte
	err     error
}

// fakeConn is a scripted stream.Conn. Receives pop steps and advance the
// shared clock; a step that takes longer than the caller's budget burns
// the budget and reports a timeout without consuming the step, the way a
// real socket read deadline behaves.
type fakeConn struct {
	name   string
	clock  *fakeClock
	steps  []step
	sent   [][]byte
	pongs  int
	closes int
	events *[]string
	onSend func(payload []byte)
}

var _ stream.Conn = (*fakeConn)(nil)

func (f *fakeConn) Send(_ context.Context, payload []byte) error {
	f.sent = append(f.sent, payload)
	f.logEvent(fmt.Sprintf("%s:send", f.name))
	if f.onSend != nil {
		f.onSend(payload)
	}
	return nil
}

func (f *fakeConn) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.steps) == 0 {
		f.clock.Advance(timeout)
		return nil, fmt.Errorf("%s: %w", f.name, stream.ErrTimeout)
	}
	next := f.steps[0]
	if next.advance > timeout {
		f.clock.Advance(timeout)
		return nil, fmt.Errorf("%s: %w", f.name, stream.ErrTimeout)
	}
	f.steps = f.steps[1:]
	f.clock.Advance(next.advance)
	if next.err != nil {
		return nil, next.err
	}
	f.logEvent(fmt.Sprintf("%s:recv:%s", f.name, lighter.MessageType(next.payload)))
	return next.payload, nil
}

func (f *fakeConn) RespondKeepalive(_ context.Context) error {
	f.pongs++
	return nil
}

func (f *fakeConn) Close() error {
	f.closes++
	return nil
}

func (f *fakeConn) logEvent(ev string) {
	if f.events != nil {
		*f.events = append(*f.events, ev)
	}
}

// fakeSigner advances the clock to model signing cost and remembers the
// correlation ids it was handed.
type fakeSigner struct {
	clock    *fakeClock
	signTime time.Duration
	err      error
	cids     []int64
}

func (f *fakeSigner) SignOrder(_ TradeIntent, correlationID int64) (json.RawMessage, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	f.clock.Advance(f.signTime)
	f.cids = append(f.cids, correlationID)
	return json.RawMessage(`{"Sig":"0xfake"}`), "0xhash", nil
}

// Wire fixtures.

func greetingMsg() []byte {
	return []byte(`{"type":"connected"}`)
}

func accountSubAck() []byte {
	return []byte(`{"type":"subscribed/account_all","channel":"account_all/699528"}`)
}

func pingMsg() []byte {
	return []byte(`{"type":"ping"}`)
}

func ackOK() []byte {
	return []byte(`{"type":"jsonapi/sendtx","data":{"status":"ok"}}`)
}

func ackWithID(id string) []byte {
	return []byte(fmt.Sprintf(`{"type":"jsonapi/sendtx","data":{"id":%q,"status":"ok"}}`, id))
}

func ackRejected(reason string) []byte {
	return []byte(fmt.Sprintf(`{"type":"jsonapi/sendtx","data":{"error":%q}}`, reason))
}

func fillMsg(cid int64, market, account int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"update/account_all","trades":{"%d":[{"trade_id":1,"market_id":%d,"client_order_index":%d,"bid_account_id":%d,"size":"0.001","price":"2500.00"}]}}`,
		market, market, cid, account))
}

func fillMsgNoCID(market, account int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"update/account_all","trades":{"%d":[{"trade_id":2,"market_id":%d,"bid_account_id":%d,"size":"0.001","price":"2500.00"}]}}`,
		market, market, account))
}

// testSession wires a session onto fakes. The correlation id counter is
// pinned so tests can predict minted ids (first probe gets 101).
func testSession(clock *fakeClock, notify, command *fakeConn, cfg SessionConfig, sg Signer) *Session {
	s := NewSession(cfg, sg, nil)
	s.now = clock.Now
	s.cid = 100
	s.dial = func(_ context.Context, _ string, opts stream.Options) (stream.Conn, error) {
		switch opts.Name {
		case "notify":
			notify.logEvent("dial:notify")
			return notify, nil
		case "command":
			command.logEvent("dial:command")
			return command, nil
		}
		return nil, fmt.Errorf("unexpected stream %q", opts.Name)
	}
	return s
}

func baseConfig() SessionConfig {
	return SessionConfig{
		StreamURL:    "wss://test.invalid/stream",
		AccountIndex: 699528,
		MarketIndex:  0,
		AckTimeout:   10 * time.Second,
		FillTimeout:  5 * time.Second,
	}
}

func errClosedForTest() error {
	return fmt.Errorf("test: %w", stream.ErrConnClosed)
}
