package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/lighter"
	"github.com/coveloop/lighterprobe/internal/stream"
)

// Signer is the external signing collaborator. It owns key material and
// nonce state; the dispatcher only sees the opaque transaction body.
type Signer interface {
	SignOrder(intent TradeIntent, correlationID int64) (txInfo json.RawMessage, txHash string, err error)
}

// Dispatcher sends signed orders on the command stream and waits for the
// synchronous response. One instance serves all probes of a session.
type Dispatcher struct {
	Conn       stream.Conn
	Signer     Signer
	Market     int64
	AckTimeout time.Duration
	NextID     func() int64
	Now        func() time.Time
	Logger     *zap.Logger
}

// Dispatch runs one order through sign, send, and ack. The returned
// timing points cover t0 through t3; points after the failing stage stay
// zero. A rejection is a successful protocol exchange and still returns
// the record and full timing alongside the classified error.
func (d *Dispatcher) Dispatch(ctx context.Context, intent TradeIntent) (*DispatchRecord, TimingPoints, Ack, error) {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var tp TimingPoints
	tp.Signal = d.Now()

	cid := d.NextID()
	txInfo, txHash, err := d.Signer.SignOrder(intent, cid)
	if err != nil {
		return nil, tp, Ack{}, newError(KindSigning, "sign order", intent.Side, err)
	}
	tp.Signed = d.Now()

	requestID := fmt.Sprintf("req_%d", d.Now().UnixMilli())
	payload, err := lighter.NewSendTx(requestID, lighter.TxTypeCreateOrder, txInfo)
	if err != nil {
		return nil, tp, Ack{}, newError(KindSigning, "encode sendtx", intent.Side, err)
	}

	rec := &DispatchRecord{
		CorrelationID: cid,
		RequestID:     requestID,
		TxHash:        txHash,
		Side:          intent.Side,
		Market:        d.Market,
		Payload:       payload,
	}

	if err := d.Conn.Send(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return rec, tp, Ack{}, ctx.Err()
		}
		if errors.Is(err, stream.ErrConnClosed) {
			return rec, tp, Ack{}, newError(KindConnClosed, "send order", intent.Side, err)
		}
		return rec, tp, Ack{}, newError(KindSend, "send order", intent.Side, err)
	}
	tp.Sent = d.Now()
	log.Debug("order sent",
		zap.String("request_id", requestID),
		zap.Int64("client_order_index", cid),
		zap.String("side", string(intent.Side)))

	ack, err := d.awaitAck(ctx, requestID, intent.Side, tp.Sent)
	if err != nil {
		return rec, tp, ack, err
	}
	tp.AckAt = d.Now()

	if ack.Rejected {
		return rec, tp, ack, newError(KindAckRejected, "ack", intent.Side, errors.New(ack.Reason))
	}
	return rec, tp, ack, nil
}

// awaitAck drains the command stream until the response for requestID
// arrives or the deadline passes. Responses without an echoed id are
// accepted as a fallback; a present but different id is another
// request's response and is skipped.
func (d *Dispatcher) awaitAck(ctx context.Context, requestID string, side Side, sent time.Time) (Ack, error) {
	deadline := sent.Add(d.AckTimeout)
	for {
		remaining := deadline.Sub(d.Now())
		if remaining <= 0 {
			return Ack{}, newError(KindAckTimeout, "await ack", side,
				fmt.Errorf("no response within %s", d.AckTimeout))
		}

		raw, err := d.Conn.Receive(ctx, remaining)
		if err != nil {
			if ctx.Err() != nil {
				return Ack{}, ctx.Err()
			}
			return Ack{}, classifyReceive(err, KindAckTimeout, "await ack", side)
		}

		if lighter.IsPing(raw) {
			if err := d.Conn.RespondKeepalive(ctx); err != nil {
				return Ack{}, classifyReceive(err, KindAckTimeout, "keepalive", side)
			}
			continue
		}
		if mt := lighter.MessageType(raw); strings.HasPrefix(mt, "update/") || strings.HasPrefix(mt, "subscribed/") {
			continue
		}
		if id := lighter.ResponseID(raw); id != "" && id != requestID {
			continue
		}

		reason, rejected := lighter.RejectionReason(raw)
		return Ack{Raw: raw, Rejected: rejected, Reason: reason}, nil
	}
}
