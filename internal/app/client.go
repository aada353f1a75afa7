package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// DefaultConnectTimeout bounds the opening handshake when none is configured.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig contains configuration for a reconnecting feed client.
type ClientConfig struct {
	// Feed names the instance in logs ("public", "relay")
	Feed string

	// Target describes the endpoint and credential placement
	Target domain.FeedTarget

	// Subscribe is sent once after every successful open; nil sends nothing
	Subscribe *domain.SubscribeRequest

	// Backoff configures reconnect delays
	Backoff BackoffConfig
}

// Sink receives extracted digests. *Writer satisfies it.
type Sink interface {
	Enqueue(digest string)
}

// ConnEventEmitter is notified about connection state changes.
type ConnEventEmitter interface {
	OnConnState(state domain.ConnState)
	OnReconnectScheduled(attempt int, delay time.Duration)
	OnMessageDiscarded()
}

// Client keeps one subscription connection open, forwarding extracted
// digests to a sink and reconnecting with exponential backoff until closed.
type Client struct {
	cfg       ClientConfig
	dialer    ports.FeedDialer
	extractor ports.Extractor
	sink      Sink
	logger    ports.Logger
	emitter   ConnEventEmitter
	backoff   *backoff
	slot      connSlot

	// after and newSession are replaced in tests
	after      func(time.Duration) <-chan time.Time
	newSession func() string

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client in the Disconnected state.
func NewClient(cfg ClientConfig, dialer ports.FeedDialer, extractor ports.Extractor, sink Sink, logger ports.Logger, emitter ConnEventEmitter) *Client {
	if cfg.Target.ConnectTimeout <= 0 {
		cfg.Target.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		cfg:        cfg,
		dialer:     dialer,
		extractor:  extractor,
		sink:       sink,
		logger:     logger,
		emitter:    emitter,
		backoff:    newBackoff(cfg.Backoff),
		after:      time.After,
		newSession: uuid.NewString,
		closed:     make(chan struct{}),
	}
}

// Run connects and keeps reconnecting until Close is called (returns nil)
// or ctx is done (returns ctx.Err()).
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.slot.isClosing() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		c.connect(ctx)

		if c.slot.isClosing() {
			return nil
		}
		if err := c.scheduleReconnect(ctx); err != nil {
			if errors.Is(err, domain.ErrConnectionClosed) {
				return nil
			}
			return err
		}
	}
}

// connect performs one connection lifecycle: dial, optional subscribe, and the
// read loop. It returns once the connection is gone.
func (c *Client) connect(ctx context.Context) {
	if !c.slot.beginConnect() {
		return
	}
	c.emitState(domain.ConnConnecting)

	session := c.newSession()
	c.logger.Info("connecting",
		ports.String("feed", c.cfg.Feed),
		ports.String("url", c.cfg.Target.RedactedURL()),
		ports.String("auth_mode", string(c.cfg.Target.AuthMode)),
		ports.String("session", session),
	)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Target.ConnectTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.cfg.Target)
	cancel()
	if err != nil {
		c.logger.Error("websocket error",
			ports.String("feed", c.cfg.Feed),
			ports.String("session", session),
			ports.Err(err),
		)
		c.disconnected()
		return
	}

	if !c.slot.opened(conn) {
		// Close raced with the handshake
		_ = conn.CloseNormal("shutdown")
		c.disconnected()
		return
	}
	c.backoff.Reset()
	c.emitState(domain.ConnConnected)

	if c.cfg.Subscribe != nil {
		c.logger.Info("connected; subscribing...",
			ports.String("feed", c.cfg.Feed),
			ports.String("method", c.cfg.Subscribe.Method),
			ports.String("session", session),
		)
		if err := conn.Send(c.cfg.Subscribe); err != nil {
			c.logger.Error("subscribe failed",
				ports.String("feed", c.cfg.Feed),
				ports.String("session", session),
				ports.Err(err),
			)
			_ = conn.Close()
			c.disconnected()
			return
		}
	} else {
		c.logger.Info("connected", ports.String("feed", c.cfg.Feed), ports.String("session", session))
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	c.readLoop(conn, session)
	close(stop)
	c.disconnected()
}

func (c *Client) readLoop(conn ports.FeedConn, session string) {
	for {
		payload, err := conn.ReadMessage()
		if err != nil {
			c.logClose(err, session)
			_ = conn.Close()
			return
		}
		c.handle(payload)
	}
}

func (c *Client) handle(payload []byte) {
	digests, err := c.extractor.Extract(payload)
	if err != nil {
		c.logger.Debug("discarding undecodable message", ports.String("feed", c.cfg.Feed), ports.Err(err))
		if c.emitter != nil {
			c.emitter.OnMessageDiscarded()
		}
		return
	}
	for _, d := range digests {
		c.sink.Enqueue(d)
	}
}

func (c *Client) logClose(err error, session string) {
	fields := []ports.Field{
		ports.String("feed", c.cfg.Feed),
		ports.String("session", session),
	}
	var ce *domain.CloseError
	if errors.As(err, &ce) {
		fields = append(fields, ports.Int("code", ce.Code), ports.String("reason", ce.Text))
	} else {
		fields = append(fields, ports.Err(err))
	}

	if c.slot.isClosing() {
		c.logger.Info("closed", fields...)
		return
	}
	c.logger.Warn("closed", fields...)
}

// scheduleReconnect waits min(max, base * 2^attempt) before the next connect.
// It returns domain.ErrConnectionClosed if Close interrupts the wait.
func (c *Client) scheduleReconnect(ctx context.Context) error {
	attempt := c.backoff.Attempt()
	delay := c.backoff.Next()

	c.logger.Info("reconnecting",
		ports.String("feed", c.cfg.Feed),
		ports.Duration("delay", delay),
		ports.Int("attempt", attempt),
	)
	if c.emitter != nil {
		c.emitter.OnReconnectScheduled(attempt, delay)
	}

	select {
	case <-c.after(delay):
		return nil
	case <-c.closed:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close gracefully closes the current connection with a normal-closure code
// and suppresses any further reconnect. Safe to call more than once.
func (c *Client) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		conn := c.slot.shutdown()
		close(c.closed)
		if conn != nil {
			err = conn.CloseNormal(reason)
		}
	})
	return err
}

// State returns the current connection state.
func (c *Client) State() domain.ConnState {
	return c.slot.current()
}

// Attempt returns the reconnect attempt counter.
func (c *Client) Attempt() int {
	return c.backoff.Attempt()
}

func (c *Client) disconnected() {
	c.slot.dropped()
	c.emitState(domain.ConnDisconnected)
}

func (c *Client) emitState(s domain.ConnState) {
	if c.emitter != nil {
		c.emitter.OnConnState(s)
	}
}

// connSlot owns the client's single live connection and its state.
// All transitions go through its methods.
type connSlot struct {
	mu      sync.Mutex
	state   domain.ConnState
	conn    ports.FeedConn
	closing bool
}

// beginConnect moves Disconnected to Connecting. It returns false if the
// client is shutting down or a connection already exists.
func (s *connSlot) beginConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.state != domain.ConnDisconnected {
		return false
	}
	s.state = domain.ConnConnecting
	return true
}

// opened moves Connecting to Connected and takes ownership of conn.
// It returns false if shutdown started during the handshake.
func (s *connSlot) opened(conn ports.FeedConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.state != domain.ConnConnecting {
		return false
	}
	s.state = domain.ConnConnected
	s.conn = conn
	return true
}

// dropped moves to Disconnected and clears the connection handle.
func (s *connSlot) dropped() {
	s.mu.Lock()
	s.state = domain.ConnDisconnected
	s.conn = nil
	s.mu.Unlock()
}

// shutdown marks the slot closing and returns the live connection, if any.
func (s *connSlot) shutdown() ports.FeedConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	return s.conn
}

func (s *connSlot) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *connSlot) current() domain.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
