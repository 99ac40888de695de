// Package api implements the HTTP handlers of the pmedians solve service.
package api

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pmedians/internal/events"
	"pmedians/internal/mip"
	"pmedians/internal/runner"
	"pmedians/internal/store"
	"pmedians/internal/webhooks"
)

// Default limits when the environment does not set them.
const (
	defaultTimeLimit = 60 * time.Second
	defaultMaxVars   = mip.MaxDenseVars
)

type Server struct {
	Store  store.Store
	Bus    events.Bus
	Pub    *webhooks.Publisher
	Runner *runner.Runner
	// TimeLimit caps every solve; requests may ask for less.
	TimeLimit time.Duration
	// MaxVars rejects instances whose model would be larger.
	MaxVars int
	// Limiter throttles POST /v1/solve; nil disables it.
	Limiter *rate.Limiter
	Logger  *log.Logger

	wg sync.WaitGroup
}

// NewServer creates a Server from the environment. If DATABASE_URL is unset,
// uses the in-memory store; if REDIS_URL is unset, the in-process broker.
func NewServer() (*Server, error) {
	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		// Run migrations (dev helper)
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.MigrateDir("db/migrations"); err != nil {
				log.Printf("migrate: %v", err)
			}
		}
		s = sp
	}

	var bus events.Bus = events.NewBroker()
	if url := os.Getenv("REDIS_URL"); url != "" {
		if rb, err := events.NewRedisBroker(url); err == nil {
			bus = rb
		} else {
			log.Printf("redis broker: %v; using in-process broker", err)
		}
	}

	var targets []webhooks.Target
	if url := os.Getenv("RUN_WEBHOOK_URL"); url != "" {
		targets = append(targets, webhooks.Target{URL: url, Secret: os.Getenv("RUN_WEBHOOK_SECRET")})
	}

	srv := New(s, bus, webhooks.NewPublisher(s, targets...))
	if v := os.Getenv("SOLVE_TIME_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			srv.TimeLimit = d
		}
	}
	if v := os.Getenv("SOLVE_MAX_VARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			srv.MaxVars = n
		}
	}
	srv.Limiter = limiterFromEnv()
	return srv, nil
}

// New wires a Server around explicit dependencies. Run events go to the bus
// and, for terminal events, to the webhook publisher.
func New(s store.Store, bus events.Bus, pub *webhooks.Publisher) *Server {
	srv := &Server{
		Store:     s,
		Bus:       bus,
		Pub:       pub,
		TimeLimit: defaultTimeLimit,
		MaxVars:   defaultMaxVars,
		Logger:    log.Default(),
	}
	sinks := events.Multi{bus}
	if pub != nil {
		sinks = append(sinks, pub)
	}
	srv.Runner = runner.New(mip.NewBranchAndBound(),
		runner.WithStore(s),
		runner.WithEvents(sinks),
		runner.WithLogger(srv.Logger))
	return srv
}

// limiterFromEnv reads RATE_RPS and RATE_BURST; an unset or non-positive
// RATE_RPS disables limiting.
func limiterFromEnv() *rate.Limiter {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_RPS"), 64)
	if err != nil || rps <= 0 {
		return nil
	}
	burst := int(rps)
	if v, err := strconv.Atoi(os.Getenv("RATE_BURST")); err == nil && v > 0 {
		burst = v
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

// Wait blocks until background solves finish or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
