package uci

import (
	"context"
	"errors"
)

var ErrChannelClosed = errors.New("uci channel closed")

// Channel is a bidirectional line transport to a UCI engine. Events is
// closed after an EventClosed has been delivered or Close is called.
type Channel interface {
	Send(cmd string) error
	Events() <-chan Event
	Close() error
}

// Dialer opens a fresh channel. The coordinator redials on restart.
type Dialer func(ctx context.Context) (Channel, error)
