// Package onebot talks to a OneBot v11 implementation over its forward websocket.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultActionTimeout    = 30 * time.Second
	closeGracePeriod        = time.Second
)

var errBotOffline = errors.New("bot reported offline")

type Options struct {
	URL              string
	AccessToken      string
	HandshakeTimeout time.Duration
	// ActionTimeout bounds an action when the caller's context has no deadline.
	ActionTimeout time.Duration
}

type Transport struct {
	opts   Options
	dialer *websocket.Dialer
	logger *logrus.Entry
}

func New(opts Options) *Transport {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}
	return &Transport{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logrus.WithField("component", "onebot"),
	}
}

func (t *Transport) Name() string {
	return "onebot"
}

func (t *Transport) Dial(ctx context.Context, onOffline func(error)) (gateway.Conn, error) {
	header := http.Header{}
	if t.opts.AccessToken != "" {
		header.Set("Authorization", "Bearer "+t.opts.AccessToken)
	}

	ws, resp, err := t.dialer.DialContext(ctx, t.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s (status %d): %w", t.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket handshake with %s: %w", t.opts.URL, err)
	}

	c := &conn{
		ws:            ws,
		onOffline:     onOffline,
		actionTimeout: t.opts.ActionTimeout,
		pending:       make(map[string]chan actionResponse),
		done:          make(chan struct{}),
		logger:        t.logger,
	}
	go c.readLoop()
	return c, nil
}

type conn struct {
	ws            *websocket.Conn
	onOffline     func(error)
	actionTimeout time.Duration
	logger        *logrus.Entry

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan actionResponse
	closed  bool

	done        chan struct{}
	offlineOnce sync.Once
	closeOnce   sync.Once
}

func (c *conn) SendGroupMessage(ctx context.Context, channelID, text string) (gateway.DeliveryResult, error) {
	resp, err := c.call(ctx, "send_group_msg", sendGroupMsgParams{
		GroupID: groupID(channelID),
		Message: text,
	})
	if err != nil {
		return gateway.DeliveryResult{}, err
	}
	return resp.result(), nil
}

func (c *conn) Ping(ctx context.Context) error {
	resp, err := c.call(ctx, "get_status", nil)
	if err != nil {
		return err
	}
	if res := resp.result(); !res.OK() {
		return fmt.Errorf("get_status: %v", res)
	}

	var st botStatus
	if len(resp.Data) > 0 {
		if err := sonic.Unmarshal(resp.Data, &st); err != nil {
			return fmt.Errorf("decoding get_status data: %w", err)
		}
	}
	if st.Online != nil && !*st.Online {
		return errBotOffline
	}
	return nil
}

// Close does not wait for the read loop: it is called from inside onOffline.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); werr != nil {
			c.logger.Debugf("writing close frame: %v", werr)
		}
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *conn) call(ctx context.Context, action string, params any) (actionResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.actionTimeout)
		defer cancel()
	}

	echo := uuid.NewString()
	payload, err := sonic.Marshal(actionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return actionResponse{}, fmt.Errorf("encoding %s: %w", action, err)
	}

	ch := make(chan actionResponse, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return actionResponse{}, gateway.ErrConnectionLost
	}
	c.pending[echo] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, echo)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	err = c.ws.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return actionResponse{}, fmt.Errorf("writing %s: %w: %w", action, gateway.ErrConnectionLost, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return actionResponse{}, fmt.Errorf("waiting for %s: %w", action, gateway.ErrConnectionLost)
	case <-ctx.Done():
		return actionResponse{}, fmt.Errorf("waiting for %s: %w", action, ctx.Err())
	}
}

func (c *conn) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !closed {
				c.offline(fmt.Errorf("reading frame: %w", err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *conn) dispatch(data []byte) {
	var head frameHead
	if err := sonic.Unmarshal(data, &head); err != nil {
		c.logger.Debugf("skipping undecodable frame: %v", err)
		return
	}

	switch {
	case head.Echo != "":
		var resp actionResponse
		if err := sonic.Unmarshal(data, &resp); err != nil {
			c.logger.Warnf("decoding response %s: %v", head.Echo, err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[head.Echo]
		c.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ch <- resp:
		default:
			c.logger.Debugf("dropping duplicate response %s", head.Echo)
		}

	case head.PostType == "meta_event":
		var ev metaEvent
		if err := sonic.Unmarshal(data, &ev); err != nil {
			c.logger.Debugf("decoding meta event: %v", err)
			return
		}
		switch {
		case ev.MetaEventType == "heartbeat" && ev.Status != nil && ev.Status.Online != nil && !*ev.Status.Online:
			c.offline(errBotOffline)
		case ev.MetaEventType == "lifecycle" && ev.SubType == "disable":
			c.offline(errors.New("onebot disabled"))
		}
	}
}

func (c *conn) offline(cause error) {
	c.offlineOnce.Do(func() {
		if c.onOffline != nil {
			c.onOffline(cause)
		}
	})
}

// groupID sends numeric ids as numbers, which is what OneBot implementations expect.
func groupID(channelID string) any {
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		return id
	}
	return channelID
}

type actionRequest struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
	Echo   string `json:"echo"`
}

type sendGroupMsgParams struct {
	GroupID any    `json:"group_id"`
	Message string `json:"message"`
}

type frameHead struct {
	Echo          string `json:"echo"`
	PostType      string `json:"post_type"`
	MetaEventType string `json:"meta_event_type"`
}

type actionResponse struct {
	Status  string          `json:"status"`
	RetCode *int            `json:"retcode"`
	Message string          `json:"message"`
	Wording string          `json:"wording"`
	Data    json.RawMessage `json:"data"`
	Echo    string          `json:"echo"`
}

func (r actionResponse) result() gateway.DeliveryResult {
	code := gateway.RetCodeTransportError
	if r.RetCode != nil {
		code = *r.RetCode
	}
	msg := r.Message
	if msg == "" {
		msg = r.Wording
	}
	if msg == "" {
		msg = r.Status
	}
	return gateway.DeliveryResult{RetCode: code, Message: msg}
}

type botStatus struct {
	Online *bool `json:"online"`
	Good   bool  `json:"good"`
}

type metaEvent struct {
	MetaEventType string     `json:"meta_event_type"`
	SubType       string     `json:"sub_type"`
	Status        *botStatus `json:"status"`
	Interval      int64      `json:"interval"`
}
