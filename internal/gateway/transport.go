// Package gateway keeps one logical connection to the chat platform and delivers notification batches over it.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrInvalidArgument is a caller contract violation, never a delivery outcome.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("gateway closed")
	// ErrConnectionLost is returned by transports when the link drops while a call is in flight.
	ErrConnectionLost = errors.New("connection lost")
)

// Transport dials the chat platform. onOffline is registered once per connection and
// must be called at most once, when the platform reports the link or the bot as gone.
type Transport interface {
	Name() string
	Dial(ctx context.Context, onOffline func(error)) (Conn, error)
}

// Conn is one established link to the chat platform.
type Conn interface {
	// SendGroupMessage performs the "send group message" action. A non-nil error means the action
	// never got a platform answer; platform-side failures come back as a non-zero RetCode.
	SendGroupMessage(ctx context.Context, channelID, text string) (DeliveryResult, error)
	Ping(ctx context.Context) error
	Close() error
}
