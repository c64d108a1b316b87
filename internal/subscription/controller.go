package subscription

import (
	"fmt"
	"log/slog"
	"sync"

	"orderfeed/internal/domain"
	"orderfeed/internal/infra"
)

// Phase is the connection/subscription lifecycle stage.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseSubscribed
	PhaseResubscribing
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseConnecting:
		return "Connecting"
	case PhaseSubscribed:
		return "Subscribed"
	case PhaseResubscribing:
		return "Resubscribing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is a copy of the controller's lifecycle state.
// Target is only set while Resubscribing.
type State struct {
	Phase  Phase
	Symbol domain.Product
	Target domain.Product
}

func (s State) String() string {
	switch s.Phase {
	case PhaseSubscribed:
		return fmt.Sprintf("Subscribed(%s)", s.Symbol)
	case PhaseResubscribing:
		return fmt.Sprintf("Resubscribing(%s -> %s)", s.Symbol, s.Target)
	default:
		return s.Phase.String()
	}
}

// Book is the part of the scheduler the controller drives on a symbol change
// or a transport reset.
type Book interface {
	Switch(p domain.Product)
}

const errorBufferSize = 16

// Controller owns the subscription lifecycle of one feed connection.
// It never retries; reconnect policy belongs to the transport.
type Controller struct {
	mu      sync.Mutex
	state   State
	channel string
	sender  domain.ControlSender
	book    Book
	metrics *infra.Metrics

	errs chan error
}

// NewController creates a disconnected controller for symbol. Control
// messages are sent on channel through sender.
func NewController(symbol domain.Product, channel string, sender domain.ControlSender, book Book, metrics *infra.Metrics) *Controller {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Controller{
		state:   State{Phase: PhaseDisconnected, Symbol: symbol},
		channel: channel,
		sender:  sender,
		book:    book,
		metrics: metrics,
		errs:    make(chan error, errorBufferSize),
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Errors delivers transport failures. Errors are dropped if nobody drains it.
func (c *Controller) Errors() <-chan error {
	return c.errs
}

// Open marks a transport open request. It is a no-op unless Disconnected.
func (c *Controller) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseDisconnected {
		return nil
	}
	c.state.Phase = PhaseConnecting
	c.state.Target = ""
	slog.Debug("Subscription connecting", slog.String("symbol", c.state.Symbol.String()))
	return nil
}

// OnOpen subscribes to the current symbol once the transport is up.
func (c *Controller) OnOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase == PhaseSubscribed {
		return nil
	}
	if err := c.sender.Send(domain.SubscribeMessage(c.channel, c.state.Symbol)); err != nil {
		return c.failLocked("subscribe", err)
	}
	c.state = State{Phase: PhaseSubscribed, Symbol: c.state.Symbol}
	slog.Info("Subscribed", slog.String("symbol", c.state.Symbol.String()), slog.String("feed", c.channel))
	return nil
}

// ChangeSymbol moves the subscription to p. While Subscribed it sends
// unsubscribe for the old symbol, resets the book to p and subscribes to p.
// While not connected it only records p and resets the book; the next
// OnOpen subscribes to it.
func (c *Controller) ChangeSymbol(p domain.Product) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSymbol, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p == c.state.Symbol {
		return nil
	}

	if c.state.Phase != PhaseSubscribed {
		c.state.Symbol = p
		c.book.Switch(p)
		slog.Info("Symbol changed while offline", slog.String("symbol", p.String()), slog.String("phase", c.state.Phase.String()))
		return nil
	}

	old := c.state.Symbol
	c.state = State{Phase: PhaseResubscribing, Symbol: old, Target: p}
	slog.Info("Resubscribing", slog.String("from", old.String()), slog.String("to", p.String()))

	if err := c.sender.Send(domain.UnsubscribeMessage(c.channel, old)); err != nil {
		c.state.Symbol = p
		c.book.Switch(p)
		return c.failLocked("unsubscribe", err)
	}

	c.book.Switch(p)

	if err := c.sender.Send(domain.SubscribeMessage(c.channel, p)); err != nil {
		c.state.Symbol = p
		return c.failLocked("subscribe", err)
	}

	c.state = State{Phase: PhaseSubscribed, Symbol: p}
	c.metrics.RecordResubscription()
	return nil
}

// OnClose moves to Disconnected from any state and empties the book for the
// current symbol. A nil err is a clean shutdown; anything else is reported as
// a TransportError and returned.
func (c *Controller) OnClose(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.book.Switch(c.state.Symbol)

	if err == nil {
		c.state = State{Phase: PhaseDisconnected, Symbol: c.state.Symbol}
		slog.Info("Subscription closed", slog.String("symbol", c.state.Symbol.String()))
		return nil
	}
	return c.failLocked("read", err)
}

// failLocked must be called with c.mu held.
func (c *Controller) failLocked(op string, err error) error {
	c.state = State{Phase: PhaseDisconnected, Symbol: c.state.Symbol}

	te := domain.NewTransportError(op, err)
	c.metrics.RecordTransportError()
	slog.Warn("Subscription transport failure",
		slog.String("op", op),
		slog.String("symbol", c.state.Symbol.String()),
		slog.Any("error", err))

	select {
	case c.errs <- te:
	default:
		slog.Warn("Error channel full, dropping", slog.Any("error", te))
	}
	return te
}
