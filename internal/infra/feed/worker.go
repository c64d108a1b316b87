package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderfeed/internal/domain"
	"orderfeed/internal/event"
	"orderfeed/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxRetries       = 10
	pingInterval     = 30 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Ingester consumes decoded book frames.
type Ingester interface {
	Ingest(msg *domain.FeedMessage) bool
}

// ConnectionObserver is told about every connection lifecycle step.
type ConnectionObserver interface {
	Open() error
	OnOpen() error
	OnClose(err error) error
}

// Config configures the feed connection.
type Config struct {
	URL       string
	Reconnect bool // reconnect with exponential backoff after a failure
}

// Worker owns the websocket connection to the book feed. It decodes every
// frame, forwards book frames to the ingester and implements
// domain.ControlSender for the subscription controller.
type Worker struct {
	cfg      Config
	ingester Ingester
	metrics  *infra.Metrics

	observer ConnectionObserver

	conn      *websocket.Conn
	session   string
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var (
	_ domain.FeedTransport = (*Worker)(nil)
	_ domain.ControlSender = (*Worker)(nil)
)

// NewWorker creates a feed worker. A nil metrics falls back to infra.GlobalMetrics.
func NewWorker(cfg Config, ingester Ingester, metrics *infra.Metrics) *Worker {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Worker{
		cfg:      cfg,
		ingester: ingester,
		metrics:  metrics,
	}
}

// SetObserver registers the lifecycle observer. Call before Connect.
func (w *Worker) SetObserver(o ConnectionObserver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.observer = o
}

// Connect starts the WebSocket connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	if w.cfg.URL == "" {
		return domain.NewTransportError("dial", fmt.Errorf("empty feed URL"))
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Disconnect stops the loop, closes the connection and waits for the worker to exit.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// IsConnected reports whether a connection is currently open.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Send encodes and writes a control message.
func (w *Worker) Send(msg domain.ControlMessage) error {
	b, err := event.EncodeControl(msg)
	if err != nil {
		return err
	}
	if err := w.threadSafeWrite(websocket.TextMessage, b); err != nil {
		return err
	}
	slog.Debug("Control message sent",
		slog.String("session", w.Session()),
		slog.String("event", string(msg.Event)),
		slog.Any("products", msg.ProductIDs))
	return nil
}

// Session returns the id of the current connection, or "" when disconnected.
func (w *Worker) Session() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

func (w *Worker) getObserver() ConnectionObserver {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.observer
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			if ctx.Err() != nil {
				w.notifyClose(nil)
				return
			}
			slog.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			// The observer already saw a failed subscribe; report only dial failures.
			var te *domain.TransportError
			if !errors.As(err, &te) {
				w.notifyClose(err)
			}
			if !w.cfg.Reconnect {
				return
			}
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			if !infra.SleepWithContext(ctx, delay) {
				return
			}
			continue
		}

		retryCount = 0
		err := w.readLoop(ctx)
		if ctx.Err() != nil {
			w.notifyClose(nil)
			return
		}
		w.notifyClose(err)
		if !w.cfg.Reconnect {
			return
		}
		if !infra.SleepWithContext(ctx, infra.CalculateBackoff(0)) {
			return
		}
	}
}

func (w *Worker) notifyClose(err error) {
	if o := w.getObserver(); o != nil {
		o.OnClose(err)
	}
}

func (w *Worker) connect(ctx context.Context) error {
	if o := w.getObserver(); o != nil {
		o.Open()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	session := uuid.NewString()
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	w.mu.Lock()
	w.conn = conn
	w.session = session
	w.connected = true
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	slog.Info("Feed connected", slog.String("session", session), slog.String("url", w.cfg.URL))

	if o := w.getObserver(); o != nil {
		if err := o.OnOpen(); err != nil {
			w.closeConnection()
			return err
		}
	}
	return nil
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return domain.ErrNotConnected
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(msgType, data)
}

func (w *Worker) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop reads until the connection fails and returns the read error.
func (w *Worker) readLoop(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(ctx, done)

	for {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return domain.ErrNotConnected
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return err
		}
		w.handleMessage(raw)
	}
}

func (w *Worker) handleMessage(raw []byte) {
	msg := event.AcquireFeedMessage()
	defer event.ReleaseFeedMessage(msg)

	if err := event.Decode(raw, msg); err != nil {
		w.metrics.RecordMalformed()
		slog.Warn("Dropping malformed frame", slog.Any("error", err), slog.Int("bytes", len(raw)))
		return
	}

	switch msg.Kind {
	case domain.FeedEvent:
		if msg.Event == "error" || msg.Event == "alert" {
			slog.Warn("Feed event", slog.String("event", msg.Event), slog.String("message", msg.Message))
			return
		}
		slog.Info("Feed event",
			slog.String("event", msg.Event),
			slog.String("product", msg.ProductID.String()),
			slog.String("session", w.Session()))
	case domain.FeedSnapshot, domain.FeedDelta:
		w.ingester.Ingest(msg)
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
		slog.Info("Feed disconnected", slog.String("session", w.session))
	}
	w.session = ""
	w.connected = false
}
