// Package ws implements the feed transport over gorilla/websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
	"github.com/bft-labs/digestship/internal/version"
)

// Default transport settings.
const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultCloseGrace   = time.Second
)

// Options configures a Dialer.
type Options struct {
	// IdleTimeout drops a connection that received no frame at all for this
	// long (0 = disabled). Pings count as traffic.
	IdleTimeout time.Duration

	// WriteTimeout bounds every outgoing frame.
	WriteTimeout time.Duration

	// CloseGrace is how long CloseNormal waits for the peer's close echo
	// before releasing the socket.
	CloseGrace time.Duration

	// UserAgent overrides the default "digestship/<version>".
	UserAgent string
}

// Dialer implements ports.FeedDialer.
type Dialer struct {
	opts Options
}

// NewDialer creates a dialer; zero options fall back to defaults.
func NewDialer(opts Options) *Dialer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}
	return &Dialer{opts: opts}
}

// Dial performs the opening handshake with target.
func (d *Dialer) Dial(ctx context.Context, target domain.FeedTarget) (ports.FeedConn, error) {
	header := target.Header()
	header.Set("User-Agent", d.opts.UserAgent)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: target.ConnectTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, target.DialURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake with %s: status %d: %w", target.RedactedURL(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target.RedactedURL(), err)
	}

	c := &Conn{ws: ws, opts: d.opts}
	ws.SetPingHandler(c.onPing)
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	c.touch()
	return c, nil
}

// Conn implements ports.FeedConn on a websocket connection.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	// gorilla allows one concurrent writer of data frames
	wmu sync.Mutex

	closeOnce sync.Once
}

// onPing answers a ping with a pong carrying the same payload.
func (c *Conn) onPing(data string) error {
	c.touch()
	err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

// touch pushes the idle deadline forward.
func (c *Conn) touch() {
	if c.opts.IdleTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	}
}

// ReadMessage returns the next text or binary message.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, translate(err)
	}
	c.touch()
	return data, nil
}

// Send writes v as a JSON text message.
func (c *Conn) Send(v interface{}) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteJSON(v)
}

// CloseNormal sends a 1000 close frame with reason. The socket is released
// once the peer echoes the close or CloseGrace elapses.
func (c *Conn) CloseNormal(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}
	time.AfterFunc(c.opts.CloseGrace, func() { _ = c.Close() })
	return err
}

// Close releases the socket without a closing handshake.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.ws.Close() })
	return err
}

// translate maps a read error to *domain.CloseError.
func translate(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &domain.CloseError{Code: ce.Code, Text: ce.Text}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &domain.CloseError{Code: domain.CloseAbnormal, Text: "idle timeout"}
	}
	return &domain.CloseError{Code: domain.CloseAbnormal, Text: err.Error()}
}

var (
	_ ports.FeedDialer = (*Dialer)(nil)
	_ ports.FeedConn   = (*Conn)(nil)
)
