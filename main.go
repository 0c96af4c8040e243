// Command courtside is a terminal client for the court booking backend.
//
// It logs in against the REST API, lists courts, bookings and matches, follows
// the live push channels (bookings, users, matches and per-match chat) and
// serves the same operations to AI agents over MCP stdio. The devserver
// command runs an in-memory stand-in backend, optionally behind an ngrok
// tunnel, for local development.
//
// Configuration comes from COURTSIDE_* environment variables, with a .env
// file in the working directory loaded first. Flags override both.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/config"
	"github.com/wricardo/courtside/realtime"
	"github.com/wricardo/courtside/repository/rest"
	"github.com/wricardo/courtside/tokenstore"
	"github.com/wricardo/courtside/usecase"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "courtside"
)

// app carries what every command needs. It is filled by the root Before hook.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	tokens *tokenstore.Store
}

func main() {
	a := &app{}
	cmd := a.command()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Run(ctx, os.Args)
	if a.logger != nil {
		a.logger.Sync()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "book courts and follow live updates from the terminal",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "api-url", Usage: "REST base URL (overrides COURTSIDE_API_URL)"},
			&cli.StringFlag{Name: "origin", Usage: "origin of the push channels (overrides COURTSIDE_ORIGIN)"},
			&cli.StringFlag{Name: "token-file", Usage: "where tokens are stored (overrides COURTSIDE_TOKEN_FILE)"},
		},
		Before: a.setup,
		Commands: []*cli.Command{
			a.loginCommand(),
			a.logoutCommand(),
			a.tokenCommand(),
			a.registerCommand(),
			a.passwdCommand(),
			a.profileCommand(),
			a.courtsCommand(),
			a.bookingsCommand(),
			a.matchesCommand(),
			a.courtCommand(),
			a.userCommand(),
			a.watchCommand(),
			a.chatCommand(),
			a.mcpCommand(),
			a.devserverCommand(),
		},
	}
}

// setup loads the configuration, applies flag overrides and builds the
// logger and token store.
func (a *app) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		return ctx, err
	}
	if v := cmd.String("api-url"); v != "" {
		cfg.APIURL = v
		if cmd.String("origin") == "" && os.Getenv("COURTSIDE_ORIGIN") == "" {
			cfg.Origin = v
		}
	}
	if v := cmd.String("origin"); v != "" {
		cfg.Origin = v
	}
	if v := cmd.String("token-file"); v != "" {
		cfg.TokenFile = v
	}
	if cmd.Bool("debug") {
		cfg.Debug = true
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.Debug)
	if err != nil {
		return ctx, fmt.Errorf("create logger: %w", err)
	}

	a.tokens, err = tokenstore.Open(cfg.TokenFile)
	if err != nil {
		return ctx, err
	}
	return ctx, nil
}

// newLogger writes to stderr so stdout stays clean for command output and MCP.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func (a *app) restClient() *rest.Client {
	return rest.NewClient(a.cfg.APIURL, a.tokens,
		rest.WithHTTPClient(&http.Client{Timeout: a.cfg.HTTPTimeout}),
		rest.WithLogger(a.logger))
}

func (a *app) service() *usecase.Service {
	c := a.restClient()
	return usecase.New(usecase.Repositories{
		Courts:   c.Courts(),
		Bookings: c.Bookings(),
		Users:    c.Users(),
		Auth:     c.Auth(),
		Matches:  c.Matches(),
		Chat:     c.Chat(),
	}, a.tokens)
}

// realtimeService starts the process-wide channel service. With a metrics
// address the channel metrics are served there until ctx is done.
func (a *app) realtimeService(ctx context.Context, metricsAddr string) (*realtime.Service, error) {
	cfg := realtime.ServiceConfig{
		Origin: a.cfg.Origin,
		Policy: a.cfg.ReconnectPolicy(),
		Logger: a.logger,
	}
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		cfg.Registerer = reg
		a.serveMetrics(ctx, metricsAddr, reg)
	}

	svc := realtime.NewService(cfg)
	if err := svc.Init(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *app) serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	context.AfterFunc(ctx, func() { srv.Close() })
}
