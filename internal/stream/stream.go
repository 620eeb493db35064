// Package stream wraps one bidirectional websocket channel with the
// timeout and shutdown behavior the probe needs: every blocking call is
// bounded, close is idempotent, and dial failures carry enough shape to
// tell a geo-block from an outage.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/pkg/metrics"
)

const defaultWriteTimeout = 10 * time.Second

// ErrTimeout reports that no message arrived within the receive budget.
var ErrTimeout = errors.New("receive timeout")

// ErrConnClosed reports that the peer or a local Close ended the
// connection mid-operation.
var ErrConnClosed = errors.New("connection closed")

// GeoBlockError is a dial rejection whose HTTP status indicates a
// regional restriction rather than a transient failure.
type GeoBlockError struct {
	StatusCode int
}

func (e *GeoBlockError) Error() string {
	return fmt.Sprintf("handshake rejected with HTTP %d (geo-restricted)", e.StatusCode)
}

// Conn is the channel contract the probe drives. Two independent
// instances exist per session, one for notifications and one for
// commands.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	RespondKeepalive(ctx context.Context) error
	Close() error
}

// Options configures a dialed connection.
type Options struct {
	// Name labels the connection in logs and metrics.
	Name string
	// HandshakeTimeout bounds the dial, 10s when zero.
	HandshakeTimeout time.Duration
	// PongPayload is the application-level keepalive reply.
	PongPayload []byte
	Logger      *zap.Logger
}

// WS is a gorilla-backed Conn.
type WS struct {
	name string
	conn *websocket.Conn
	pong []byte
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Dial opens a websocket connection. HTTP 403 and 451 rejections are
// surfaced as *GeoBlockError so callers can report them distinctly.
func Dial(ctx context.Context, url string, opts Options) (*WS, error) {
	if opts.Name == "" {
		opts.Name = "stream"
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnavailableForLegalReasons) {
			return nil, &GeoBlockError{StatusCode: resp.StatusCode}
		}
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	metrics.StreamsOpen.WithLabelValues(opts.Name).Inc()
	return &WS{
		name: opts.Name,
		conn: conn,
		pong: opts.PongPayload,
		log:  opts.Logger.With(zap.String("stream", opts.Name)),
	}, nil
}

// Send writes one text frame. The write deadline is the sooner of the
// context deadline and a fixed bound, so a stalled peer cannot hang the
// probe.
func (w *WS) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrConnClosed
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return w.classify("write", err)
	}
	return nil
}

// Receive reads one frame, waiting at most timeout. The context deadline
// wins when it is sooner.
func (w *WS) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, w.classify("read", err)
	}
	metrics.StreamMessages.WithLabelValues(w.name).Inc()
	return data, nil
}

// RespondKeepalive answers the venue's application-level ping.
func (w *WS) RespondKeepalive(ctx context.Context) error {
	if len(w.pong) == 0 {
		return nil
	}
	if err := w.Send(ctx, w.pong); err != nil {
		return err
	}
	metrics.StreamPings.WithLabelValues(w.name).Inc()
	return nil
}

// Close sends a best-effort close frame and tears the connection down.
// Repeat calls are no-ops.
func (w *WS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	metrics.StreamsOpen.WithLabelValues(w.name).Dec()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		w.log.Debug("close frame not delivered", zap.Error(err))
	}
	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.name, err)
	}
	w.log.Debug("stream closed")
	return nil
}

// classify maps transport errors onto the two sentinels callers branch
// on. Everything else passes through wrapped.
func (w *WS) classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s %s: %w", op, w.name, ErrTimeout)
	}
	if errors.Is(err, net.ErrClosed) ||
		websocket.IsUnexpectedCloseError(err) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%s %s: %w", op, w.name, ErrConnClosed)
	}
	return fmt.Errorf("%s %s: %w", op, w.name, err)
}
