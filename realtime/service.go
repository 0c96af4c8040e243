package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized = errors.New("realtime: service not initialized")
	ErrShutdown       = errors.New("realtime: service shut down")
)

// Channel names a push channel on the server.
type Channel struct {
	Name string
	Path string
	// Terminal overrides the service policy's terminal close codes.
	Terminal func(code int) bool
}

var (
	Bookings = Channel{Name: "bookings", Path: "/ws/bookings/"}
	Users    = Channel{Name: "users", Path: "/ws/users/"}
	Matches  = Channel{Name: "matches", Path: "/ws/matches/"}
)

// Chat is the per-match chat room. The server closes it with 4xxx codes for
// auth and membership failures, which are never retried.
func Chat(matchID string) Channel {
	return Channel{
		Name:     "chat:" + matchID,
		Path:     "/ws/chat/" + url.PathEscape(matchID) + "/",
		Terminal: ApplicationClose,
	}
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Origin is the page origin the channels live on, e.g. https://host.
	Origin string
	Policy ReconnectPolicy
	Dialer Dialer
	Logger *zap.Logger
	// Registerer receives the client metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Service owns one shared Client per channel for the whole process.
type Service struct {
	cfg     ServiceConfig
	logger  *zap.Logger
	metrics *Metrics

	mu       sync.Mutex
	ready    bool
	closed   bool
	clients  map[string]*Client
	stopWait func() bool
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Policy.Delay == 0 && cfg.Policy.MaxAttempts == 0 && cfg.Policy.Terminal == nil {
		cfg.Policy = DefaultPolicy()
	}
	return &Service{
		cfg:     cfg,
		logger:  cfg.Logger.Named("realtime"),
		clients: make(map[string]*Client),
	}
}

// Init validates the configuration and readies the service. When ctx is
// cancelled the service shuts down. Calling Init twice is harmless.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}
	if s.ready {
		return nil
	}
	if _, err := (Endpoint{Origin: s.cfg.Origin}).URL(""); err != nil {
		return fmt.Errorf("init realtime service: %w", err)
	}

	if s.cfg.Registerer != nil {
		metrics, err := NewMetrics(s.cfg.Registerer)
		if err != nil {
			return fmt.Errorf("register realtime metrics: %w", err)
		}
		s.metrics = metrics
	}
	s.ready = true
	s.stopWait = context.AfterFunc(ctx, s.Shutdown)

	s.logger.Info("realtime service initialized", zap.String("origin", s.cfg.Origin))
	return nil
}

// Channel returns the shared client for ch, creating it on first use.
func (s *Service) Channel(ch Channel) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, ErrShutdown
	case !s.ready:
		return nil, ErrNotInitialized
	}

	if c, ok := s.clients[ch.Name]; ok {
		return c, nil
	}

	policy := s.cfg.Policy
	if ch.Terminal != nil {
		policy.Terminal = ch.Terminal
	}
	opts := []Option{
		WithPolicy(policy),
		WithLogger(s.logger),
		WithMetrics(s.metrics),
	}
	if s.cfg.Dialer != nil {
		opts = append(opts, WithDialer(s.cfg.Dialer))
	}
	c := NewClient(ch.Name, Endpoint{Origin: s.cfg.Origin, Path: ch.Path}, opts...)
	s.clients[ch.Name] = c
	return c, nil
}

// Statuses returns a snapshot of every client, ordered by channel name.
func (s *Service) Statuses() []Status {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Shutdown disconnects every client. The service cannot be reused.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := s.clients
	s.clients = make(map[string]*Client)
	stop := s.stopWait
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	for _, c := range clients {
		c.Disconnect()
	}
	s.logger.Info("realtime service shut down", zap.Int("channels", len(clients)))
}
