// Package binding ties a consumer's lifetime to a shared realtime channel.
//
// A consumer (a CLI command, a dashboard view, an MCP session) activates a
// Binding when it starts caring about a channel and deactivates it when it
// stops. Activation connects the shared client if needed and subscribes the
// consumer's listener; deactivation only unsubscribes. The shared connection
// stays up for other consumers and is torn down by whoever owns the
// realtime.Service.
package binding

import (
	"errors"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/wricardo/courtside/realtime"
)

// ErrNoToken is reported by Activate when the token source has no token.
var ErrNoToken = errors.New("binding: no access token")

// Channel is the part of a realtime client a binding may touch. It has no
// way to disconnect.
type Channel interface {
	Name() string
	Connect(token string)
	Subscribe(l realtime.Listener) (unsubscribe func())
}

// TokenSource yields the current access token, or "" when logged out.
type TokenSource interface {
	Token() (string, error)
}

// TokenFunc adapts a plain function into a TokenSource.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) { return f() }

// Binding holds at most one active subscription on a channel.
type Binding struct {
	channel Channel
	tokens  TokenSource
	logger  *zap.Logger

	mu          sync.Mutex
	listener    realtime.Listener
	unsubscribe func()
}

func New(channel Channel, tokens TokenSource, logger *zap.Logger) *Binding {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binding{
		channel: channel,
		tokens:  tokens,
		logger:  logger.With(zap.String("channel", channel.Name())),
	}
}

// Activate connects the channel with the stored token and subscribes l.
// Without a token nothing happens and ErrNoToken is returned. Activating
// with a different listener replaces the previous one. Activating again with
// the same listener subscribes it again, which restores it after the client
// dropped its listeners on Disconnect and is otherwise a no-op.
//
// A listener whose type is not comparable is wrapped on every call, so it
// is treated as a new listener each time.
func (b *Binding) Activate(l realtime.Listener) error {
	if l != nil && !reflect.TypeOf(l).Comparable() {
		l = realtime.Func(l.OnMessage)
	}

	token, err := b.tokens.Token()
	if err != nil {
		b.logger.Warn("realtime binding not activated, token unavailable", zap.Error(err))
		return err
	}
	if token == "" {
		b.logger.Info("realtime binding not activated, no access token")
		return ErrNoToken
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.channel.Connect(token)

	if b.unsubscribe != nil && b.listener != l {
		b.unsubscribe()
	}
	b.listener = l
	b.unsubscribe = b.channel.Subscribe(l)
	b.logger.Debug("realtime binding activated")
	return nil
}

// Deactivate removes the listener registered by Activate. The channel stays
// connected.
func (b *Binding) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsubscribe == nil {
		return
	}
	b.unsubscribe()
	b.unsubscribe = nil
	b.listener = nil
	b.logger.Debug("realtime binding deactivated")
}

// Active reports whether a listener is currently subscribed.
func (b *Binding) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubscribe != nil
}
