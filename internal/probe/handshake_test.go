package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeFullSubscription(t *testing.T) {
	clock := newFakeClock()
	conn := &fakeConn{name: "notify", clock: clock, steps: []step{
		{payload: greetingMsg()},
		{payload: pingMsg()}, // keepalive before the ack must be answered
		{payload: []byte(`{"type":"update/order_book"}`)}, // unrelated noise
		{payload: accountSubAck()},
	}}

	res, err := Handshake(context.Background(), conn, HandshakeRequest{
		Channel: lighter.AccountChannel(699528),
		AckType: lighter.MsgSubscribedAccount,
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Ack), "subscribed/account_all")
	assert.Equal(t, 1, conn.pongs)

	require.Len(t, conn.sent, 1)
	assert.JSONEq(t, `{"type":"subscribe","channel":"account_all/699528"}`, string(conn.sent[0]))
}

func TestHandshakeGreetingOnly(t *testing.T) {
	clock := newFakeClock()
	conn := &fakeConn{name: "command", clock: clock, steps: []step{
		{payload: greetingMsg()},
	}}

	res, err := Handshake(context.Background(), conn, HandshakeRequest{})
	require.NoError(t, err)
	assert.Nil(t, res.Ack)
	assert.Empty(t, conn.sent, "greeting-only handshakes subscribe to nothing")
}

func TestHandshakeWrongGreeting(t *testing.T) {
	clock := newFakeClock()
	conn := &fakeConn{name: "notify", clock: clock, steps: []step{
		{payload: []byte(`{"type":"update/order_book"}`)},
	}}

	_, err := Handshake(context.Background(), conn, HandshakeRequest{
		Channel: "account_all/1",
		AckType: lighter.MsgSubscribedAccount,
	})
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindHandshake, perr.Kind)
	assert.True(t, perr.SessionFatal())
}

func TestHandshakeGreetingTimeout(t *testing.T) {
	clock := newFakeClock()
	conn := &fakeConn{name: "notify", clock: clock}

	_, err := Handshake(context.Background(), conn, HandshakeRequest{
		Channel:         "account_all/1",
		AckType:         lighter.MsgSubscribedAccount,
		GreetingTimeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindHandshake, perr.Kind)
	assert.Equal(t, "greeting", perr.Stage)
}

func TestHandshakeAckTimeout(t *testing.T) {
	clock := newFakeClock()
	conn := &fakeConn{name: "notify", clock: clock, steps: []step{
		{payload: greetingMsg()},
	}}

	_, err := Handshake(context.Background(), conn, HandshakeRequest{
		Channel:    "account_all/1",
		AckType:    lighter.MsgSubscribedAccount,
		AckTimeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindHandshake, perr.Kind)
}
