package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/courtside/api"
	"github.com/wricardo/courtside/config"
	"github.com/wricardo/courtside/transport/websocket"
)

func (a *app) devserverCommand() *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "run an in-memory booking backend with seeded demo data",
		Description: `Serves the REST API and the push channels from memory. Seeded users are
admin (staff), ana and bruno; each password is the username.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides COURTSIDE_DEV_ADDR)"},
			&cli.BoolFlag{Name: "ngrok", Usage: "also serve through an ngrok tunnel (needs NGROK_AUTHTOKEN)"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev := a.cfg.DevServer
			if v := cmd.String("addr"); v != "" {
				dev.Addr = v
			}
			tunnel := a.cfg.Ngrok
			if cmd.Bool("ngrok") {
				tunnel.Enabled = true
			}
			if v := cmd.String("ngrok-domain"); v != "" {
				tunnel.Domain = v
			}
			return runDevServer(ctx, dev, tunnel, a.logger)
		},
	}
}

// newDevHandler wires the seeded store, the push hub and the REST API. The
// hub runs until ctx is done.
func newDevHandler(ctx context.Context, dev config.DevServer, logger *zap.Logger) http.Handler {
	store := api.NewStore(time.Now).Seed()
	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	return api.NewServer(store, hub, api.NewIssuer(dev.JWTSecret, dev.TokenTTL), logger)
}

// runDevServer serves until ctx is done, then shuts down gracefully.
func runDevServer(ctx context.Context, dev config.DevServer, tunnel config.Ngrok, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := newDevHandler(ctx, dev, logger)
	httpServer := &http.Server{
		Addr:        dev.Addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("dev server listening",
			zap.String("rest", "http://"+dev.Addr+"/api"),
			zap.String("push", "ws://"+dev.Addr+"/ws/"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("dev server: %w", err)
			cancel()
		}
	}()

	if tunnel.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveTunnel(ctx, tunnel, handler, logger)
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down dev server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dev server shutdown", zap.Error(err))
	}

	wg.Wait()
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// serveTunnel exposes handler on a public ngrok URL until ctx is done.
func serveTunnel(ctx context.Context, tunnel config.Ngrok, handler http.Handler, logger *zap.Logger) {
	if tunnel.AuthToken == "" {
		logger.Warn("ngrok enabled but NGROK_AUTHTOKEN is not set")
		return
	}

	endpoint := ngrokConfig.HTTPEndpoint()
	if tunnel.Domain != "" {
		endpoint = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(tunnel.Domain))
	}

	tun, err := ngrok.Listen(ctx, endpoint, ngrok.WithAuthtoken(tunnel.AuthToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", zap.Error(err))
		return
	}
	defer tun.Close()
	context.AfterFunc(ctx, func() { tun.Close() })

	logger.Info("ngrok tunnel established",
		zap.String("rest", tun.URL()+"/api"),
		zap.String("origin", tun.URL()))

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Warn("ngrok server error", zap.Error(err))
	}
}
