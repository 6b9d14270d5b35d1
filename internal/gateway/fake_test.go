package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type sentMessage struct {
	channelID string
	text      string
}

// fakeTransport records dials and hands out fakeConns.
type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	dialErrs []error
	dialGate chan struct{}
	conns    []*fakeConn
	sent     []sentMessage
	sendFn   func(channelID, text string) (DeliveryResult, error)
	pingErr  error
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, onOffline func(error)) (Conn, error) {
	t.mu.Lock()
	t.dials++
	gate := t.dialGate
	var err error
	if len(t.dialErrs) > 0 {
		err = t.dialErrs[0]
		t.dialErrs = t.dialErrs[1:]
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := &fakeConn{transport: t, onOffline: onOffline}
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) sentMessages() []sentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sentMessage, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) setPingErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pingErr = err
}

type fakeConn struct {
	transport *fakeTransport
	onOffline func(error)

	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) SendGroupMessage(ctx context.Context, channelID, text string) (DeliveryResult, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return DeliveryResult{}, ErrConnectionLost
	}

	t := c.transport
	t.mu.Lock()
	t.sent = append(t.sent, sentMessage{channelID: channelID, text: text})
	fn := t.sendFn
	t.mu.Unlock()

	if fn != nil {
		return fn(channelID, text)
	}
	return DeliveryResult{RetCode: RetCodeOK, Message: "ok"}, nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.transport.mu.Lock()
	defer c.transport.mu.Unlock()
	return c.transport.pingErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) goOffline() {
	c.onOffline(errors.New("bot offline"))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
