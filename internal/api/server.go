package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"drtdispatch/internal/auth"
	"drtdispatch/internal/config"
	"drtdispatch/internal/opt"
	"drtdispatch/internal/store"
	"drtdispatch/internal/webhooks"
)

type Server struct {
	Cfg    config.Config
	Store  store.Store
	Pub    *webhooks.Publisher
	Auth   *auth.Verifier
	Broker EventBroker

	engine opt.Config
	runs   *runManager

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer wires the handlers to st and broker. Runs are optimised in the
// background until Shutdown.
func NewServer(cfg config.Config, st store.Store, broker EventBroker) (*Server, error) {
	engine, err := cfg.Optimizer.Engine()
	if err != nil {
		return nil, fmt.Errorf("new server: %w", err)
	}
	if broker == nil {
		broker = NewBroker()
	}
	pub := webhooks.NewPublisher(st, cfg.Webhooks.Secret)
	return &Server{
		Cfg:      cfg,
		Store:    st,
		Pub:      pub,
		Auth:     auth.NewVerifier(cfg.Auth),
		Broker:   broker,
		engine:   engine,
		runs:     newRunManager(st, broker, pub, cfg.Optimizer.MaxConcurrentRuns),
		limiters: map[string]*rate.Limiter{},
	}, nil
}

// OpenStore returns the Postgres store when a database URL is configured and
// the in-memory store otherwise.
func OpenStore(ctx context.Context, cfg config.Database) (store.Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		log.Printf("store=memory")
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	log.Printf("store=postgres migrate=%t", cfg.Migrate)
	return pg, nil
}

// OpenBroker returns the Redis broker when a Redis URL is configured and
// reachable, and the in-process broker otherwise.
func OpenBroker(ctx context.Context, cfg config.Redis) EventBroker {
	if strings.TrimSpace(cfg.URL) == "" {
		return NewBroker()
	}
	rb, err := NewRedisBroker(cfg.URL)
	if err == nil {
		err = rb.Ping(ctx)
	}
	if err != nil {
		log.Printf("broker=memory redis_err=%v", err)
		return NewBroker()
	}
	log.Printf("broker=redis")
	return rb
}

// NewWebhookWorker creates the background worker delivering run callbacks.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.Webhooks)
}

// Shutdown cancels the runs in flight and waits until they are stored.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.runs.shutdown(ctx)
}

// limiter returns the optimize rate limiter of one caller.
func (s *Server) limiter(key string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.Cfg.HTTP.RateRPS), s.Cfg.HTTP.RateBurst)
		s.limiters[key] = l
	}
	return l
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("GET /v1/runs", s.RunsHandler)
	mux.HandleFunc("GET /v1/runs/{id}", s.RunByIDHandler)
	mux.HandleFunc("GET /v1/runs/{id}/events/stream", s.RunEventsStreamHandler)
	mux.HandleFunc("GET /v1/runs/{id}/ws", s.RunWSHandler)

	mux.HandleFunc("PUT /v1/matrices/{dataset}", s.PutMatrixHandler)
	mux.HandleFunc("GET /v1/matrices/{dataset}", s.GetMatrixHandler)

	mux.HandleFunc("GET /v1/optimizer/config", s.OptimizerConfigHandler)
	mux.HandleFunc("GET /v1/admin/optimizer/config", s.AdminOptimizerConfigHandler)
	mux.HandleFunc("PUT /v1/admin/optimizer/config", s.AdminOptimizerConfigHandler)

	mux.HandleFunc("GET /v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("POST /v1/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)
	mux.HandleFunc("GET /v1/admin/debug", s.DebugJSON)

	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", metricsHandler())

	return requestID(logging(cors(s.Cfg.HTTP.AllowOrigins, mux)))
}
