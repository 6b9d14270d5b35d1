// Package telegram delivers notifications through the Telegram Bot API.
// The Bot API is plain HTTP, so the link is only ever declared dead by the gateway heartbeat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/C4T-BuT-S4D/cfwatch/internal/gateway"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"
)

const defaultRequestTimeout = 30 * time.Second

type Options struct {
	Token string
	// APIURL overrides the Bot API endpoint, e.g. for a local bot API server.
	APIURL         string
	RequestTimeout time.Duration
}

type Transport struct {
	opts   Options
	logger *logrus.Entry
}

func New(opts Options) *Transport {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Transport{
		opts:   opts,
		logger: logrus.WithField("component", "telegram"),
	}
}

func (t *Transport) Name() string {
	return "telegram"
}

// Dial performs the getMe handshake. Telegram never reports the link as gone, so onOffline is unused.
func (t *Transport) Dial(ctx context.Context, _ func(error)) (gateway.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot, err := telebot.NewBot(telebot.Settings{
		URL:    t.opts.APIURL,
		Token:  t.opts.Token,
		Client: &http.Client{Timeout: t.opts.RequestTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}
	t.logger.Infof("authorized as @%s", bot.Me.Username)
	return &conn{bot: bot}, nil
}

type conn struct {
	bot *telebot.Bot
}

// chat addresses a chat by its numeric id or @username.
type chat string

func (c chat) Recipient() string {
	return string(c)
}

func (c *conn) SendGroupMessage(ctx context.Context, channelID, text string) (gateway.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return gateway.DeliveryResult{}, err
	}
	msg, err := c.bot.Send(chat(channelID), text, &telebot.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		if res, ok := platformResult(err); ok {
			return res, nil
		}
		return gateway.DeliveryResult{}, fmt.Errorf("sending message: %w", err)
	}
	return gateway.DeliveryResult{
		RetCode: gateway.RetCodeOK,
		Message: fmt.Sprintf("message %d", msg.ID),
	}, nil
}

func (c *conn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Raw("getMe", map[string]string{}); err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	return nil
}

// Close is a no-op: the bot never polls, and telebot's Close would log the bot out of the API.
func (c *conn) Close() error {
	return nil
}

// platformResult turns a Bot API rejection into a delivery result.
func platformResult(err error) (gateway.DeliveryResult, bool) {
	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return gateway.DeliveryResult{RetCode: http.StatusTooManyRequests, Message: flood.Error()}, true
	}
	var group telebot.GroupError
	if errors.As(err, &group) {
		return gateway.DeliveryResult{RetCode: http.StatusBadRequest, Message: group.Error()}, true
	}
	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		return gateway.DeliveryResult{RetCode: apiErr.Code, Message: apiErr.Description}, true
	}
	return gateway.DeliveryResult{}, false
}
