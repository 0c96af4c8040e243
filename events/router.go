package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wricardo/courtside/realtime"
)

// Router is a realtime.Listener that decodes messages and calls the handlers
// registered for their kind. Unknown kinds and kinds with no handler are
// ignored.
type Router struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]func(Event)
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[string][]func(Event)),
	}
}

// Handle registers fn for kind. Handlers run in registration order.
func (r *Router) Handle(kind string, fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], fn)
}

// On registers a handler typed by its event, e.g.
//
//	events.On(router, func(e *events.MatchCreated) { ... })
func On[T any, PT interface {
	*T
	Event
}](r *Router, fn func(PT)) {
	var zero T
	r.Handle(PT(&zero).Kind(), func(ev Event) {
		if typed, ok := ev.(PT); ok {
			fn(typed)
		}
	})
}

// OnMessage implements realtime.Listener.
func (r *Router) OnMessage(m realtime.Message) {
	r.mu.RLock()
	handlers := r.handlers[m.Kind]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		if !Known(m.Kind) {
			r.logger.Debug("ignoring unknown message kind", zap.String("kind", m.Kind))
		}
		return
	}

	ev, err := Decode(m)
	if err != nil {
		r.logger.Warn("dropping undecodable message", zap.String("kind", m.Kind), zap.Error(err))
		return
	}
	for _, fn := range handlers {
		fn(ev)
	}
}
