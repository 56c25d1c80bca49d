package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"horarios/internal/api"
	"horarios/internal/board"
	"horarios/internal/bundled"
	"horarios/internal/cache"
	"horarios/internal/config"
	"horarios/internal/db"
	"horarios/internal/metrics"
	"horarios/internal/publisher"
	"horarios/internal/source"
	"horarios/internal/stops"
)

func main() {
	config.InitLogging()

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.RefreshInterval, cfg.RenderInterval, cfg.RemoteTimeout)
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	aliases, err := stops.Default()
	if err != nil {
		log.Fatalf("stop aliases: %v", err)
	}

	// Persisted cache tier
	store, err := cache.Open(ctx, cfg.CachePath)
	if err != nil {
		log.Fatalf("cache open error: %v", err)
	}
	defer store.Close()

	chain := &source.Chain{
		Cache:   store,
		Timeout: cfg.RemoteTimeout,
		Metrics: mcol,
	}
	if cfg.BundledFallback {
		chain.Bundled = bundled.Fallback()
	}

	// Remote tier. An unreachable store at startup is not fatal: the chain
	// falls back on every refresh until it answers.
	if cfg.RemoteEnabled() {
		sqlDB, err := openRemote(ctx, cfg)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer sqlDB.Close()
		chain.Remote = db.NewLineStore(sqlDB)
	} else {
		log.Printf("warning: DATABASE_URL not set, remote tier disabled")
	}

	ctrl := board.NewController(chain, board.Options{
		RefreshInterval: cfg.RefreshInterval,
		RenderInterval:  cfg.RenderInterval,
		Location:        cfg.Location,
		NextDayRollover: cfg.NextDayRollover,
		Weekday:         cfg.Weekday,
		Aliases:         aliases,
		Metrics:         mcol,
	})

	// NATS sink is optional
	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		ctrl.AddSink(pub)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(ctrl, api.Options{
			AllowedOrigins: cfg.CORSOrigins,
			MaxAge:         cfg.RenderInterval / 2,
			Metrics:        mcol.Handler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()
	log.Printf("board listening on %s (tz %s)", cfg.HTTPAddr, cfg.Location)

	ctrl.StartRefresher(ctx)
	ctrl.StartRenderer(ctx)

	// Block until context cancelled
	<-ctx.Done()

	ctrl.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if pub != nil {
		pub.Close()
	}
	log.Println("shutdown complete")
}

func openRemote(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.DatabaseURL
	if cfg.RemoteDBName != "" {
		var err error
		if dsn, err = db.WithDBName(dsn, cfg.RemoteDBName); err != nil {
			return nil, err
		}
	}
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Printf("warning: remote store not reachable yet: %v", err)
	}
	return sqlDB, nil
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
