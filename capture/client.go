// Package capture samples frames from a source on the caller's render
// cadence, JPEG-encodes them, and streams them to a framecast server over a
// single persistent connection.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/zsiec/framecast/codec"
	"github.com/zsiec/framecast/media"
	"github.com/zsiec/framecast/transport"
	"github.com/zsiec/framecast/wire"
)

// DefaultInterval captures one frame every ten ticks.
const DefaultInterval = 10

var (
	// ErrClientFailed is returned once connecting has exhausted its retries.
	// The caller should stop capturing.
	ErrClientFailed = errors.New("capture: client failed")
	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("capture: not connected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture: client closed")
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Client.
type Config struct {
	Addr      string
	Transport transport.Config
	// Quality is the JPEG quality, 0..100. Zero is a valid (lowest) quality;
	// a negative value selects codec.DefaultQuality.
	Quality int
	// Interval captures on every Interval-th Tick. Zero selects
	// DefaultInterval.
	Interval  int
	Reconnect ReconnectConfig
	Log       *slog.Logger
}

// Stats is a snapshot of client activity.
type Stats struct {
	State     string `json:"state"`
	Ticks     int64  `json:"ticks"`
	Sent      int64  `json:"sent"`
	Dropped   int64  `json:"dropped"`
	BytesSent int64  `json:"bytesSent"`
	Connects  int64  `json:"connects"`
}

type dialFunc func(ctx context.Context, addr string, cfg transport.Config) (transport.Conn, error)

// Client is the capture-and-send side. Tick and Send are meant to be called
// from the render loop goroutine; State, Stats and Close are safe from any
// goroutine.
type Client struct {
	cfg Config
	src Source
	log *slog.Logger

	dial     dialFunc
	logLimit *rate.Limiter
	quiet    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	conn         transport.Conn
	reconnecting bool
	closed       bool

	ticks     atomic.Int64
	sent      atomic.Int64
	dropped   atomic.Int64
	bytesSent atomic.Int64
	connects  atomic.Int64
}

// NewClient creates a disconnected client reading frames from src.
func NewClient(cfg Config, src Source) *Client {
	if cfg.Quality < 0 {
		cfg.Quality = codec.DefaultQuality
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		src:      src,
		log:      log.With("component", "capture", "addr", cfg.Addr),
		dial:     transport.Dial,
		logLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Debug("state change", "from", prev, "to", s)
	}
}

// Connect dials the server, retrying with exponential backoff. When retries
// are exhausted the client moves to StateFailed and the error wraps
// ErrClientFailed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state == StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(c.ctx, stop)()
	return c.connectWithBackoff(ctx)
}

func (c *Client) connectWithBackoff(ctx context.Context) error {
	c.setState(StateConnecting)
	rc := c.cfg.Reconnect

	for attempt := 0; ; attempt++ {
		conn, err := c.dial(ctx, c.cfg.Addr, c.cfg.Transport)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return ErrClosed
			}
			c.conn = conn
			c.state = StateConnected
			c.mu.Unlock()
			c.connects.Add(1)
			c.log.Info("connected", "remote", conn.RemoteAddr(), "attempts", attempt+1)
			return nil
		}

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if attempt >= rc.MaxRetries {
			c.setState(StateFailed)
			c.log.Error("giving up on server", "attempts", attempt+1, "error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrClientFailed, attempt+1, err)
		}

		delay := calculateBackoff(attempt+1, rc)
		c.log.Warn("connect failed, retrying",
			"attempt", attempt+1,
			"max_retries", rc.MaxRetries,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return ctx.Err()
		}
	}
}

// Tick is called once per render tick. Every Interval-th call captures,
// encodes and sends a frame. Capture and encode failures drop the tick. A
// failed write drops the connection and reconnects in the background;
// frames sampled meanwhile are dropped. Tick returns ErrClientFailed once
// reconnection has given up.
func (c *Client) Tick(ctx context.Context) error {
	if c.State() == StateFailed {
		return ErrClientFailed
	}
	n := c.ticks.Add(1)
	if n%int64(c.cfg.Interval) != 0 {
		return nil
	}

	f, err := c.src.Capture()
	if err != nil {
		c.dropped.Add(1)
		c.warn("capture failed, skipping tick", "error", err)
		return nil
	}

	err = c.Send(ctx, f)
	var encErr *codec.EncodeError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrClientFailed), errors.Is(err, ErrClosed):
		return err
	case ctx.Err() != nil:
		return nil
	case errors.As(err, &encErr):
		c.warn("encode failed, skipping tick", "error", err)
	case errors.Is(err, ErrNotConnected):
		c.log.Debug("not connected, skipping tick", "state", c.State())
	default:
		c.warn("send failed, skipping tick", "error", err)
	}
	c.dropped.Add(1)
	return nil
}

// Send encodes f and writes it on the current connection.
func (c *Client) Send(ctx context.Context, f *media.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := codec.Encode(f, c.cfg.Quality)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn, state, closed := c.conn, c.state, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case state == StateFailed:
		return ErrClientFailed
	case conn == nil:
		return ErrNotConnected
	}

	if err := wire.WriteFrame(conn, payload); err != nil {
		c.connectionLost(conn, err)
		return fmt.Errorf("capture: write frame: %w", err)
	}
	c.sent.Add(1)
	c.bytesSent.Add(int64(len(payload) + wire.HeaderSize))
	c.log.Debug("frame sent", "width", f.Width, "height", f.Height,
		"size", humanize.Bytes(uint64(len(payload))))
	return nil
}

// connectionLost closes conn if it is still current and starts a single
// background reconnect.
func (c *Client) connectionLost(conn transport.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	conn.Close()
	c.state = StateDisconnected
	start := !c.reconnecting && !c.closed
	if start {
		c.reconnecting = true
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.log.Error("connection lost", "error", cause)
	if start {
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	defer c.wg.Done()
	err := c.connectWithBackoff(c.ctx)

	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		c.log.Error("reconnect failed, capture stopping", "error", err)
	}
}

// warn logs at most once per second; suppressed messages are counted and
// reported with the next one.
func (c *Client) warn(msg string, args ...any) {
	if !c.logLimit.Allow() {
		c.quiet.Add(1)
		return
	}
	if n := c.quiet.Swap(0); n > 0 {
		args = append(args, "suppressed", n)
	}
	c.log.Warn(msg, args...)
}

// Stats returns a snapshot of client counters.
func (c *Client) Stats() Stats {
	return Stats{
		State:     c.State().String(),
		Ticks:     c.ticks.Load(),
		Sent:      c.sent.Load(),
		Dropped:   c.dropped.Load(),
		BytesSent: c.bytesSent.Load(),
		Connects:  c.connects.Load(),
	}
}

// Close stops any background reconnect and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if c.State() != StateFailed {
		c.setState(StateDisconnected)
	}
	st := c.Stats()
	c.log.Info("capture client closed", "sent", st.Sent, "dropped", st.Dropped,
		"bytes", humanize.Bytes(uint64(st.BytesSent)))
	return err
}

// Drive stands in for an external render loop: it calls Tick tickRate
// times per second until ctx is cancelled or the client fails.
func Drive(ctx context.Context, c *Client, tickRate int) error {
	if tickRate <= 0 {
		tickRate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				return err
			}
		}
	}
}
