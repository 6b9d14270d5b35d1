package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/locale"
	"github.com/sirupsen/logrus"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultReconnectDelay    = 10 * time.Second
	DefaultSendInterval      = time.Second
	DefaultPingTimeout       = 10 * time.Second
)

type Options struct {
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	// SendInterval separates consecutive sends of one batch. Zero sends back to back.
	SendInterval time.Duration
	PingTimeout  time.Duration
	Catalog      locale.Catalog
}

// Client owns the process-wide connection. All state reads and transitions go through mu.
type Client struct {
	transport Transport
	opts      Options
	logger    *logrus.Entry

	mu             sync.Mutex
	state          State
	conn           Conn
	gen            uint64
	started        bool
	closed         bool
	reconnectTimer *time.Timer

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(transport Transport, opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SendInterval < 0 {
		opts.SendInterval = DefaultSendInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.Catalog.Name == "" {
		opts.Catalog = locale.Lookup("")
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &Client{
		transport:  transport,
		opts:       opts,
		logger:     logrus.WithFields(logrus.Fields{"component": "gateway", "transport": transport.Name()}),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

// Start makes the first connection attempt and starts the heartbeat.
// A failed first attempt is not fatal: a reconnect is already scheduled.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.heartbeatLoop()

	if err := c.Connect(ctx); err != nil {
		c.logger.Warnf("initial connect failed, retrying in %s: %v", c.opts.ReconnectDelay, err)
	}
	return nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials only from Disconnected, so concurrent callers never race two dials.
// It returns nil when a connection is already established or being established.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.logger.Info("connecting")
	conn, err := c.transport.Dial(ctx, func(cause error) {
		c.handleOffline(gen, cause)
	})

	c.mu.Lock()
	if c.gen != gen {
		// Closed or reported offline while dialing; whoever bumped gen owns the state now.
		closed := c.closed
		c.mu.Unlock()
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				c.logger.Debugf("closing stale connection: %v", cerr)
			}
		}
		switch {
		case err != nil:
			return fmt.Errorf("dialing %s: %w", c.transport.Name(), err)
		case closed:
			return ErrClosed
		default:
			return ErrConnectionLost
		}
	}
	if err != nil {
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("dialing %s: %w", c.transport.Name(), err)
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("connected")
	return nil
}

// Close disables reconnects, stops the heartbeat and closes the live connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.lifeCancel()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.gen++
	c.mu.Unlock()

	c.wg.Wait()

	if conn != nil {
		if err := conn.Close(); err != nil {
			return fmt.Errorf("closing connection: %w", err)
		}
	}
	c.logger.Info("closed")
	return nil
}

func (c *Client) handleOffline(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.gen++
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warnf("went offline, reconnecting in %s: %v", c.opts.ReconnectDelay, cause)
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debugf("closing dead connection: %v", err)
		}
	}
}

func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.reconnectTimer != nil {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()

		if err := c.Connect(c.lifeCtx); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warnf("reconnect failed: %v", err)
		}
	})
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.heartbeat(c.lifeCtx)
		case <-c.lifeCtx.Done():
			return
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	c.mu.Lock()
	state, conn, gen := c.state, c.conn, c.gen
	c.mu.Unlock()

	switch state {
	case StateConnected:
		pingCtx, cancel := context.WithTimeout(ctx, c.opts.PingTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			c.handleOffline(gen, fmt.Errorf("heartbeat: %w", err))
		}
	case StateDisconnected:
		c.logger.Info("heartbeat found the link down")
		if err := c.Connect(ctx); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warnf("heartbeat reconnect failed: %v", err)
		}
	}
}

func (c *Client) live() (Conn, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, 0, false
	}
	return c.conn, c.gen, true
}

func (c *Client) stillLive(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.gen == gen
}

// send never dials: a missing connection is reported as RetCodeNotConnected.
func (c *Client) send(ctx context.Context, channelID, text string) DeliveryResult {
	if err := ctx.Err(); err != nil {
		return interruptedResult(err.Error())
	}

	conn, gen, ok := c.live()
	if !ok {
		return notConnectedResult("not connected")
	}

	res, err := conn.SendGroupMessage(ctx, channelID, text)
	if err == nil {
		return res
	}

	switch {
	case ctx.Err() != nil:
		return interruptedResult(ctx.Err().Error())
	case errors.Is(err, ErrConnectionLost) || !c.stillLive(gen):
		return notConnectedResult(err.Error())
	default:
		return DeliveryResult{RetCode: RetCodeTransportError, Message: err.Error()}
	}
}

// SendBatch relays one channel's solved problems as a single message, one line per item.
// accounts and problems are parallel and must have the same non-zero length.
func (c *Client) SendBatch(ctx context.Context, channelID string, accounts, problems []string) (DeliveryResult, error) {
	if len(accounts) != len(problems) {
		return DeliveryResult{}, fmt.Errorf(
			"%w: %d accounts but %d problems",
			ErrInvalidArgument,
			len(accounts),
			len(problems),
		)
	}
	if len(accounts) == 0 {
		return DeliveryResult{}, fmt.Errorf("%w: empty batch", ErrInvalidArgument)
	}

	lines := make([]string, len(accounts))
	for i := range accounts {
		lines[i] = c.opts.Catalog.Solved(accounts[i], problems[i])
	}

	res := c.send(ctx, channelID, strings.Join(lines, "\n"))
	c.logger.WithField("channel_id", channelID).Debugf("batch of %d sent: %v", len(lines), res)
	return res, nil
}

// SendErrorBatch sends every message on its own, waiting SendInterval between sends.
// The result is the last failure if any send failed, otherwise the last success.
// Cancellation during a wait stops the batch and reports RetCodeInterrupted.
func (c *Client) SendErrorBatch(ctx context.Context, channelID string, messages []string) DeliveryResult {
	logger := c.logger.WithField("channel_id", channelID)

	var (
		final  DeliveryResult
		failed bool
	)
	for i, msg := range messages {
		if i > 0 {
			select {
			case <-ctx.Done():
				logger.Warnf("error batch interrupted after %d/%d messages", i, len(messages))
				return interruptedResult(c.opts.Catalog.Interrupted())
			case <-time.After(c.opts.SendInterval):
			}
		}

		res := c.send(ctx, channelID, msg)
		switch {
		case res.Interrupted():
			logger.Warnf("error batch interrupted after %d/%d messages", i, len(messages))
			return interruptedResult(c.opts.Catalog.Interrupted())
		case !res.OK():
			failed = true
			final = res
			logger.Warnf("message %d/%d failed: %v", i+1, len(messages), res)
		case !failed:
			final = res
		}
	}
	return final
}
