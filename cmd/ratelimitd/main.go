// Copyright (c) 2024 Bryan Frimin <bryan@frimin.fr>.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

// Command ratelimitd serves the tier-based HTTP rate limiter.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.gearno.de/ratelimitd/api"
	"go.gearno.de/ratelimitd/config"
	"go.gearno.de/ratelimitd/counterstore"
	"go.gearno.de/ratelimitd/httpserver"
	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/migrator"
	"go.gearno.de/ratelimitd/pg"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.gearno.de/ratelimitd/tierconfig"
	"go.gearno.de/ratelimitd/unit"
	"go.gearno.de/ratelimitd/userstore"
	"go.opentelemetry.io/otel"
)

const version = "0.1.0"

// plans is the default tier policy: free and premium per the data
// model. A future revision could source this from configuration
// instead of a hardcoded map; nothing in the resolver depends on it
// being literal.
var plans = map[string]tierconfig.Plan{
	"free":    {Requests: 10, WindowSeconds: 60},
	"premium": {Requests: 1000, WindowSeconds: 60},
}

type service struct {
	logger  *log.Logger
	cfg     *config.Config
	pg      *pg.Client
	handler http.Handler
}

func (s *service) GetConfiguration() any {
	return s.cfg
}

func (s *service) Run(ctx context.Context) error {
	if err := migrator.NewMigrator(s.pg, userstore.Migrations, s.logger).Run(ctx, "migrations"); err != nil {
		return fmt.Errorf("cannot run migrations: %w", err)
	}

	server := httpserver.NewServer(
		s.cfg.ListenAddr,
		s.handler,
		httpserver.WithLogger(s.logger),
		httpserver.WithTracerProvider(otel.GetTracerProvider()),
	)

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoCtx(ctx, "listening", log.String("addr", s.cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return server.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func main() {
	logger := log.NewLogger(log.WithName("ratelimitd"))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("cannot load configuration", log.Error(err))
		os.Exit(1)
	}

	registry := tierconfig.New(plans)
	if err := registry.Validate(); err != nil {
		logger.Error("invalid tier configuration", log.Error(err))
		os.Exit(1)
	}

	pgClient, err := pg.NewClient(
		pg.WithAddr(cfg.SupabaseURL),
		pg.WithPassword(cfg.SupabaseServiceRoleKey),
		pg.WithLogger(logger),
		pg.WithTracerProvider(otel.GetTracerProvider()),
	)
	if err != nil {
		logger.Error("cannot create postgres client", log.Error(err))
		os.Exit(1)
	}
	defer pgClient.Close()

	counterClient := counterstore.NewClient(
		counterstore.WithAddr(fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)),
		counterstore.WithPassword(cfg.RedisPassword),
		counterstore.WithDB(cfg.RedisDB),
		counterstore.WithLogger(logger),
		counterstore.WithTracerProvider(otel.GetTracerProvider()),
	)

	if err := counterClient.Ready(context.Background()); err != nil {
		logger.Error("counter store not ready", log.Error(err))
		os.Exit(1)
	}

	engine := ratelimit.NewEngine(
		counterClient,
		registry,
		ratelimit.WithLogger(logger),
		ratelimit.WithTracerProvider(otel.GetTracerProvider()),
	)

	storeOptions := []userstore.Option{
		userstore.WithLogger(logger),
		userstore.WithTracerProvider(otel.GetTracerProvider()),
	}
	if cfg.OverrideWebhookURL != "" {
		storeOptions = append(storeOptions,
			userstore.WithOverrideNotifier(
				userstore.NewWebhookNotifier(cfg.OverrideWebhookURL, logger),
			),
		)
	}
	store := userstore.NewStore(pgClient, storeOptions...)

	handler := api.NewHandler(store, engine, store)

	svc := &service{
		logger:  logger,
		cfg:     cfg,
		pg:      pgClient,
		handler: handler.Routes(),
	}

	u := unit.NewUnit("ratelimitd", version, "production", svc)
	if err := u.Run(); err != nil {
		logger.Error("service exited with an error", log.Error(err))
		os.Exit(1)
	}
}
