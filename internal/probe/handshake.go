package probe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/stream"
)

// HandshakeRequest drives one freshly connected stream to a listening
// state: drain the greeting, subscribe, drain the subscription ack.
type HandshakeRequest struct {
	// Channel to subscribe to. Empty means greeting-only, which is how
	// the command stream is prepared (it must not carry subscriptions
	// that would interleave with order responses).
	Channel string
	// AckType is the message type that confirms the subscription.
	AckType         string
	GreetingTimeout time.Duration
	AckTimeout      time.Duration
	Logger          *zap.Logger
}

// HandshakeResult carries the subscription ack payload (the venue
// attaches a snapshot to it) and the elapsed setup time.
type HandshakeResult struct {
	Ack   []byte
	Setup time.Duration
}

// Handshake readies a stream for its role. Every step is mandatory: an
// undrained greeting leaves all subsequent reads misaligned, so malformed
// or absent messages fail the handshake rather than being skipped.
func Handshake(ctx context.Context, conn stream.Conn, req HandshakeRequest) (HandshakeResult, error) {
	log := req.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if req.GreetingTimeout <= 0 {
		req.GreetingTimeout = 5 * time.Second
	}
	if req.AckTimeout <= 0 {
		req.AckTimeout = 10 * time.Second
	}

	start := time.Now()

	raw, err := conn.Receive(ctx, req.GreetingTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return HandshakeResult{}, ctx.Err()
		}
		return HandshakeResult{}, newError(KindHandshake, "greeting", "", err)
	}
	if mt := lighter.MessageType(raw); mt != lighter.MsgConnected {
		return HandshakeResult{}, newError(KindHandshake, "greeting", "",
			fmt.Errorf("expected %q, got %q", lighter.MsgConnected, mt))
	}
	log.Debug("greeting drained")

	if req.Channel == "" {
		return HandshakeResult{Setup: time.Since(start)}, nil
	}

	sub, err := lighter.Subscribe(req.Channel)
	if err != nil {
		return HandshakeResult{}, newError(KindHandshake, "subscribe", "", err)
	}
	if err := conn.Send(ctx, sub); err != nil {
		if ctx.Err() != nil {
			return HandshakeResult{}, ctx.Err()
		}
		return HandshakeResult{}, newError(KindHandshake, "subscribe", "", err)
	}

	deadline := time.Now().Add(req.AckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return HandshakeResult{}, newError(KindHandshake, "subscription ack", "",
				fmt.Errorf("no %q within %s", req.AckType, req.AckTimeout))
		}
		raw, err := conn.Receive(ctx, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return HandshakeResult{}, ctx.Err()
			}
			return HandshakeResult{}, newError(KindHandshake, "subscription ack", "", err)
		}
		switch mt := lighter.MessageType(raw); mt {
		case req.AckType:
			log.Debug("subscription confirmed",
				zap.String("channel", req.Channel),
				zap.Duration("setup", time.Since(start)))
			return HandshakeResult{Ack: raw, Setup: time.Since(start)}, nil
		case lighter.MsgPing:
			if err := conn.RespondKeepalive(ctx); err != nil {
				return HandshakeResult{}, newError(KindHandshake, "keepalive", "", err)
			}
		default:
			log.Debug("ignoring pre-ack message", zap.String("type", mt))
		}
	}
}
