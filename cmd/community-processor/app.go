package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leeforge/framework/logging"
	"github.com/leeforge/framework/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leeforge/community-processor/community"
	"github.com/leeforge/community-processor/community/directory"
	"github.com/leeforge/community-processor/community/factory"
	"github.com/leeforge/community-processor/internal/auth"
	"github.com/leeforge/community-processor/internal/config"
	"github.com/leeforge/community-processor/internal/journal"
	"github.com/leeforge/community-processor/internal/metrics"
	"github.com/leeforge/community-processor/internal/stream"
)

const (
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 5 * time.Second
)

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// run wires the processor and blocks until ctx is cancelled or a component
// fails. stop is called when the consumer ends on its own.
func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *zap.Logger) error {
	bus := stream.NewBus()
	defer bus.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)
	recorder.Subscribe(bus)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer)
	router.Method(http.MethodGet, "/metrics", recorder.Handler())

	var checks []healthCheck

	if cfg.JournalDSN != "" {
		store, err := journal.Open(ctx, cfg.JournalDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		store.Subscribe(bus, logger.Named("journal"))
		journal.NewHandler(store, logging.FromZap(logger)).RegisterRoutes(router)
		checks = append(checks, healthCheck{name: "journal", check: store.Ping})
		logger.Info("journal enabled")
	}

	httpClient := &http.Client{Timeout: cfg.GroupAPI.RequestTimeout}
	tokens := auth.NewProvider(auth.Config{
		TokenURL:     cfg.Auth.URL,
		ProxyURL:     cfg.Auth.ProxyServerURL,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Audience:     cfg.Auth.Audience,
		EarlyExpiry:  cfg.Auth.EarlyExpiry,
	}, httpClient)
	connector := directory.NewConnector(directory.Config{
		BaseURL:   cfg.GroupAPI.BaseURL,
		RateLimit: cfg.GroupAPI.RateLimit,
		Burst:     cfg.GroupAPI.Burst,
	}, httpClient, logger.Named("directory"))

	services := plugin.NewServiceRegistry()
	if err := services.Register(community.ServiceKeyCommunityFactory,
		community.ServiceFactory(factory.NewHTTPFactory(tokens, connector, cfg.GroupAPI.RequestTimeout))); err != nil {
		return fmt.Errorf("register community factory: %w", err)
	}

	app := &plugin.AppContext{
		Logger:   logger,
		Services: services,
		Events:   bus,
	}
	p := &community.CommunityPlugin{}
	if err := p.Enable(ctx, app); err != nil {
		return err
	}
	defer func() { _ = p.Disable(context.Background(), app) }()
	p.SubscribeEvents(bus)
	mountOperatorRoutes(router, p, cfg.OperatorJWTSecret, logger)
	checks = append(checks, healthCheck{name: p.Name(), check: p.HealthCheck})

	readerCfg := stream.ReaderConfig{
		Brokers:       cfg.Brokers(),
		GroupID:       cfg.Kafka.GroupID,
		Topics:        cfg.Kafka.Topics,
		ClientCert:    cfg.Kafka.ClientCert,
		ClientCertKey: cfg.Kafka.ClientCertKey,
	}
	dialer, err := stream.NewDialer(readerCfg)
	if err != nil {
		return err
	}
	reader, err := stream.NewReader(readerCfg, dialer)
	if err != nil {
		return err
	}
	consumer := stream.NewConsumer(reader, bus, logger.Named("stream"), recorder)
	defer consumer.Close()
	checks = append(checks, healthCheck{name: "kafka", check: stream.BrokerCheck(dialer, readerCfg.Brokers)})

	router.Get("/healthz", healthHandler(checks, logger))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("community processor starting",
		zap.Strings("brokers", readerCfg.Brokers),
		zap.Strings("topics", readerCfg.Topics),
		zap.String("groupID", readerCfg.GroupID),
		zap.Bool("tls", cfg.HasKafkaTLS()),
		zap.Int("httpPort", cfg.HTTPPort),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("community processor stopped")
	return err
}

type routeRegistrar interface {
	RegisterRoutes(router chi.Router)
}

// mountOperatorRoutes mounts the replay routes behind bearer verification.
// Without a secret they stay unmounted.
func mountOperatorRoutes(router chi.Router, routes routeRegistrar, secret string, logger *zap.Logger) {
	if secret == "" {
		logger.Info("operator routes disabled: OPERATOR_JWT_SECRET not set")
		return
	}
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireOperator([]byte(secret), logger.Named("operator")))
		routes.RegisterRoutes(r)
	})
}

func healthHandler(checks []healthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		report := map[string]string{}
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[c.name] = err.Error()
				logger.Warn("health check failed", zap.String("check", c.name), zap.Error(err))
				continue
			}
			report[c.name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}
