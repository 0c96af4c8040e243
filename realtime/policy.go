package realtime

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultMaxAttempts    = 5
)

// ReconnectPolicy decides whether and when a closed connection is retried.
type ReconnectPolicy struct {
	// Delay before the first retry. With Factor <= 1 every retry waits Delay.
	Delay time.Duration
	// MaxDelay caps a growing delay. Zero means Delay.
	MaxDelay time.Duration
	Factor   float64
	// MaxAttempts is the number of consecutive retries allowed before giving up.
	MaxAttempts int
	// Terminal reports close codes that must not be retried. Nil means
	// NormalClose.
	Terminal func(code int) bool
}

// DefaultPolicy retries every 3s, at most 5 times in a row.
func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Delay:       DefaultReconnectDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// NormalClose reports whether code is an intentional shutdown by either side.
func NormalClose(code int) bool {
	return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
}

// Close codes the chat server uses to refuse a connection.
const (
	CloseChatError      = 4000
	CloseNoToken        = 4001
	CloseInvalidToken   = 4002
	CloseNotParticipant = 4003
	CloseMatchStarted   = 4004
)

// CloseReason describes a chat close code for humans.
func CloseReason(code int) string {
	switch code {
	case CloseNoToken:
		return "no access token"
	case CloseInvalidToken:
		return "invalid or expired access token"
	case CloseNotParticipant:
		return "not a participant of this match"
	case CloseMatchStarted:
		return "the match already started, the chat is closed"
	case CloseChatError:
		return "chat unavailable"
	}
	return ""
}

// ApplicationClose treats normal closes and every application-defined code
// (4000-4999) as terminal. The chat server closes with 4xxx to reject a
// token, a non-participant or a match that already started.
func ApplicationClose(code int) bool {
	return NormalClose(code) || code >= 4000
}

func (p ReconnectPolicy) terminal(code int) bool {
	if p.Terminal == nil {
		return NormalClose(code)
	}
	return p.Terminal(code)
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.Delay <= 0 {
		p.Delay = DefaultReconnectDelay
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// delay returns the wait before retry number attempt (1-based).
func (p ReconnectPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := p.MaxDelay
	if ceiling < p.Delay {
		ceiling = p.Delay
	}
	factor := p.Factor
	if factor <= 1 {
		return p.Delay
	}
	b := &backoff.Backoff{Min: p.Delay, Max: ceiling, Factor: factor}
	return b.ForAttempt(float64(attempt - 1))
}
