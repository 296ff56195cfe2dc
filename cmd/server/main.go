package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	ledgerhandler "tokenbank/internal/ledger/handler"
	ledgermetrics "tokenbank/internal/ledger/metrics"
	ledgerservice "tokenbank/internal/ledger/service"
	"tokenbank/internal/platform/config"
	"tokenbank/internal/platform/httpserver"
	"tokenbank/internal/platform/logger"
	httpmetrics "tokenbank/internal/platform/metrics"
	tokenhandler "tokenbank/internal/token/handler"
	tokenservice "tokenbank/internal/token/service"
	"tokenbank/pkg/domain"
	"tokenbank/pkg/platform/middleware/auth"
	"tokenbank/pkg/platform/middleware/request"
	"tokenbank/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tokenbank: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close storage backend", "error", err)
		}
	}()

	seeds, err := parseSeedTokens(cfg.SeedTokens)
	if err != nil {
		return err
	}

	program := tokenservice.New(backend, tokenservice.WithLogger(log))
	processor, err := ledgerservice.New(backend, program,
		ledgerservice.WithLogger(log),
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithSeedTokens(seeds...),
	)
	if err != nil {
		return fmt.Errorf("build processor: %w", err)
	}

	shared, err := newSharedState(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer shared.close()

	relay, closeRelay, err := newRelay(ctx, cfg, ledgerservice.NewEventSource(backend), log)
	if err != nil {
		return err
	}
	defer closeRelay()

	limiter := newLimiter(shared.limiter, cfg.RateLimit, log)
	verify := auth.RequireSignature(auth.NewVerifier(cfg.MaxRequestAge), shared.nonces, log)
	signed := func(next http.Handler) http.Handler {
		return verify(limiter.BySigner(next))
	}
	router := newRouter(log, httpmetrics.New(), limiter.ByIP,
		ledgerhandler.New(processor, log, signed),
		tokenhandler.New(program, log, signed),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting tokenbank", "addr", cfg.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox relay: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type registrar interface {
	Register(r chi.Router)
}

func newRouter(log *slog.Logger, m *httpmetrics.Metrics, throttle func(http.Handler) http.Handler, handlers ...registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recover(log))
	r.Use(request.RequestID)
	r.Use(request.Logger(log))
	r.Use(requesttime.Middleware)
	r.Use(m.Middleware)
	r.Use(throttle)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func parseSeedTokens(raw []string) ([]domain.TokenType, error) {
	tokens := make([]domain.TokenType, 0, len(raw))
	for _, s := range raw {
		token, err := domain.ParseTokenType(s)
		if err != nil {
			return nil, fmt.Errorf("TOKENBANK_SEED_TOKENS %q: %w", s, err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
