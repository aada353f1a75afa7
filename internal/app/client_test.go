package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// fakeConn is an in-memory feed connection.
type fakeConn struct {
	msgs chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	code    int
	reason  string
	sent    []interface{}
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, &domain.CloseError{Code: c.code, Text: c.reason}
	}
}

func (c *fakeConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) drop(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) CloseNormal(reason string) error {
	c.drop(domain.CloseNormalClosure, reason)
	return nil
}

func (c *fakeConn) Close() error {
	c.drop(domain.CloseAbnormal, "")
	return nil
}

func (c *fakeConn) closeCode() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

func (c *fakeConn) Sent() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.sent...)
}

// fakeDialer hands out connections produced by dial.
type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	dial   func(n int) (ports.FeedConn, error)
	dialed chan int
}

func newFakeDialer(dial func(n int) (ports.FeedConn, error)) *fakeDialer {
	return &fakeDialer{dial: dial, dialed: make(chan int, 64)}
}

func (d *fakeDialer) Dial(ctx context.Context, target domain.FeedTarget) (ports.FeedConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	n := d.dials
	d.dials++
	d.mu.Unlock()

	select {
	case d.dialed <- n:
	default:
	}
	return d.dial(n)
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// delayRecorder replaces time.After. The first limit-1 waits fire at once;
// the limit-th wait blocks forever and closes reached.
type delayRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	limit   int
	reached chan struct{}
}

func newDelayRecorder(limit int) *delayRecorder {
	return &delayRecorder{limit: limit, reached: make(chan struct{})}
}

func (r *delayRecorder) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()

	if n >= r.limit {
		if n == r.limit {
			close(r.reached)
		}
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *delayRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func (r *delayRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.reached:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d reconnects scheduled", len(r.Delays()))
	}
}

// collectingSink records enqueued digests.
type collectingSink struct {
	mu      sync.Mutex
	digests []string
	got     chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{got: make(chan struct{}, 64)}
}

func (s *collectingSink) Enqueue(d string) {
	s.mu.Lock()
	s.digests = append(s.digests, d)
	s.mu.Unlock()
	select {
	case s.got <- struct{}{}:
	default:
	}
}

func (s *collectingSink) Digests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.digests...)
}

func (s *collectingSink) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(s.Digests()) < n {
		select {
		case <-s.got:
		case <-deadline:
			t.Fatalf("sink got %d digests, want %d", len(s.Digests()), n)
		}
	}
}

// stateRecorder records connection events.
type stateRecorder struct {
	mu        sync.Mutex
	states    []domain.ConnState
	attempts  []int
	discarded int
}

func (r *stateRecorder) OnConnState(s domain.ConnState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) OnReconnectScheduled(attempt int, delay time.Duration) {
	r.mu.Lock()
	r.attempts = append(r.attempts, attempt)
	r.mu.Unlock()
}

func (r *stateRecorder) OnMessageDiscarded() {
	r.mu.Lock()
	r.discarded++
	r.mu.Unlock()
}

// lineExtractor treats each non-empty line as a digest and "!" as garbage.
var lineExtractor = ports.ExtractorFunc(func(payload []byte) ([]string, error) {
	if string(payload) == "!" {
		return nil, domain.ErrMalformedMessage
	}
	return strings.Split(string(payload), "\n"), nil
})

func newTestClient(cfg ClientConfig, dialer ports.FeedDialer, sink Sink, rec *delayRecorder, emitter ConnEventEmitter) *Client {
	if cfg.Feed == "" {
		cfg.Feed = "test"
	}
	if cfg.Target.URL == "" {
		cfg.Target.URL = "ws://feed.invalid/subscribe"
	}
	c := NewClient(cfg, dialer, lineExtractor, sink, &mockLogger{}, emitter)
	c.after = rec.after
	c.newSession = func() string { return "session" }
	return c
}

func runClient(ctx context.Context, c *Client) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
		return nil
	}
}

func TestClient_BackoffAcrossFailedDials(t *testing.T) {
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) {
		return nil, &domain.CloseError{Code: domain.CloseAbnormal}
	})
	rec := newDelayRecorder(3)
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)
	rec.wait(t)

	want := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond, 4000 * time.Millisecond}
	if got := rec.Delays(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}

	if err := c.Close("shutdown"); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := waitRun(t, done); err != nil {
		t.Errorf("Run() = %v, want nil after Close", err)
	}
	if c.State() != domain.ConnDisconnected {
		t.Errorf("State() = %v, want Disconnected", c.State())
	}
}

func TestClient_BackoffCapsAtMax(t *testing.T) {
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) {
		return nil, errors.New("connection refused")
	})
	rec := newDelayRecorder(40)
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)
	rec.wait(t)
	_ = c.Close("shutdown")
	_ = waitRun(t, done)

	for i, d := range rec.Delays() {
		if d > DefaultBackoffMax {
			t.Errorf("delay #%d = %v exceeds %v", i, d, DefaultBackoffMax)
		}
	}
	if got := rec.Delays()[39]; got != DefaultBackoffMax {
		t.Errorf("delay #39 = %v, want %v", got, DefaultBackoffMax)
	}
	if got := c.Attempt(); got != DefaultBackoffMaxAttempt {
		t.Errorf("Attempt() = %d, want %d", got, DefaultBackoffMaxAttempt)
	}
}

func TestClient_OpenResetsBackoff(t *testing.T) {
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) {
		conn := newFakeConn()
		conn.drop(domain.CloseAbnormal, "")
		return conn, nil
	})
	rec := newDelayRecorder(3)
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)
	rec.wait(t)
	_ = c.Close("shutdown")
	_ = waitRun(t, done)

	want := []time.Duration{time.Second, time.Second, time.Second}
	if got := rec.Delays(); !reflect.DeepEqual(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestClient_SubscribesAfterOpen(t *testing.T) {
	conns := make(chan *fakeConn, 4)
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) {
		conn := newFakeConn()
		conns <- conn
		return conn, nil
	})
	sub := domain.NewSubscribeRequest("flashcheckpoint_subscribeFlashCheckpoints")
	rec := newDelayRecorder(2)
	c := newTestClient(ClientConfig{Subscribe: sub}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)

	first := <-conns
	first.drop(domain.CloseAbnormal, "")
	second := <-conns
	for c.State() != domain.ConnConnected || len(second.Sent()) == 0 {
		time.Sleep(time.Millisecond)
	}

	for i, conn := range []*fakeConn{first, second} {
		sent := conn.Sent()
		if len(sent) != 1 {
			t.Fatalf("conn %d: sent %d messages, want 1", i, len(sent))
		}
		if got, ok := sent[0].(*domain.SubscribeRequest); !ok || got.Method != sub.Method {
			t.Errorf("conn %d: sent %#v, want subscribe request", i, sent[0])
		}
	}

	_ = c.Close("shutdown")
	_ = waitRun(t, done)
}

func TestClient_NoSubscribeWithoutRequest(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) { return conn, nil })
	rec := newDelayRecorder(1)
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)
	<-dialer.dialed
	_ = c.Close("shutdown")
	_ = waitRun(t, done)

	if sent := conn.Sent(); len(sent) != 0 {
		t.Errorf("sent %v, want nothing", sent)
	}
}

func TestClient_SubscribeFailureReconnects(t *testing.T) {
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) {
		conn := newFakeConn()
		conn.sendErr = errors.New("broken pipe")
		return conn, nil
	})
	sub := domain.NewSubscribeRequest("subscribe")
	rec := newDelayRecorder(2)
	c := newTestClient(ClientConfig{Subscribe: sub}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)
	rec.wait(t)
	_ = c.Close("shutdown")
	_ = waitRun(t, done)

	if got := dialer.Dials(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestClient_ForwardsDigestsAndDiscardsGarbage(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) { return conn, nil })
	sink := newCollectingSink()
	events := &stateRecorder{}
	rec := newDelayRecorder(1)
	c := newTestClient(ClientConfig{}, dialer, sink, rec, events)

	done := runClient(context.Background(), c)

	conn.msgs <- []byte("!")
	conn.msgs <- []byte("d1\nd2")
	conn.msgs <- []byte("!")
	conn.msgs <- []byte("d3")
	sink.waitFor(t, 3)

	if want := []string{"d1", "d2", "d3"}; !reflect.DeepEqual(sink.Digests(), want) {
		t.Errorf("digests = %v, want %v", sink.Digests(), want)
	}
	if c.State() != domain.ConnConnected {
		t.Errorf("State() = %v, want Connected after garbage", c.State())
	}

	_ = c.Close("shutdown")
	_ = waitRun(t, done)

	events.mu.Lock()
	defer events.mu.Unlock()
	if events.discarded != 2 {
		t.Errorf("discarded = %d, want 2", events.discarded)
	}
	want := []domain.ConnState{domain.ConnConnecting, domain.ConnConnected, domain.ConnDisconnected}
	if !reflect.DeepEqual(events.states, want) {
		t.Errorf("states = %v, want %v", events.states, want)
	}
}

func TestClient_CloseSuppressesReconnect(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) { return conn, nil })
	rec := newDelayRecorder(1)
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), rec, nil)

	done := runClient(context.Background(), c)
	<-dialer.dialed
	for c.State() != domain.ConnConnected {
		time.Sleep(time.Millisecond)
	}

	if err := c.Close("shutdown"); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	if code, reason := conn.closeCode(); code != domain.CloseNormalClosure || reason != "shutdown" {
		t.Errorf("close = %d %q, want 1000 \"shutdown\"", code, reason)
	}
	if got := len(rec.Delays()); got != 0 {
		t.Errorf("scheduled %d reconnects after Close, want 0", got)
	}
	if got := dialer.Dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}

	// Close is idempotent
	if err := c.Close("again"); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestClient_CloseBeforeRun(t *testing.T) {
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) { return newFakeConn(), nil })
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), newDelayRecorder(1), nil)

	_ = c.Close("shutdown")
	if err := c.Run(context.Background()); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if got := dialer.Dials(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	conn := newFakeConn()
	dialer := newFakeDialer(func(n int) (ports.FeedConn, error) {
		if n == 0 {
			return conn, nil
		}
		return nil, errors.New("refused")
	})
	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(ClientConfig{}, dialer, newCollectingSink(), newDelayRecorder(100), nil)

	done := runClient(ctx, c)
	<-dialer.dialed
	cancel()

	if err := waitRun(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	select {
	case <-conn.done:
	default:
		t.Error("connection left open after cancel")
	}
}
