package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"trip-tracker/internal/api"
	"trip-tracker/internal/config"
	"trip-tracker/internal/coordinator"
	"trip-tracker/internal/metrics"
	"trip-tracker/internal/position"
	"trip-tracker/internal/publisher"
	"trip-tracker/internal/sandbox"
	"trip-tracker/internal/store"
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

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	kv, closeKV := openKV(ctx, cfg)
	defer closeKV()
	trips := store.NewTripStore(kv, store.WithKey(cfg.StoreKey))

	// NATS is only needed for a remote runner host or trip events
	var nc *nats.Conn
	if cfg.SandboxTransport == config.TransportNATS || cfg.PublishEvents {
		nc, err = publisher.Connect(cfg.NATSURL, "trip-tracker", wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer nc.Close()
	}

	var dispatcher coordinator.Dispatcher
	if cfg.SandboxTransport == config.TransportNATS {
		dispatcher = sandbox.NewNATSDispatcher(nc, cfg.LogNATSSubjects)
		log.Printf("dispatching runner events over NATS at %s", cfg.NATSURL)
	} else {
		manifest, err := config.LoadManifest(cfg.RunnerManifest, cfg.RunnerLabel)
		if err != nil {
			log.Fatalf("runner manifest: %v", err)
		}
		host := manifest.NewHost()
		defer host.Close()
		dispatcher = host
		log.Printf("hosting runners in-process: %v", manifest.Labels())
	}

	waypoints, err := position.ParseRoute(cfg.Route)
	if err != nil {
		log.Fatalf("SIM_ROUTE: %v", err)
	}
	provider, err := position.NewRouteProvider(waypoints, cfg.SpeedMps)
	if err != nil {
		log.Fatalf("position provider: %v", err)
	}

	opts := []coordinator.Option{}
	if mcol != nil {
		opts = append(opts, coordinator.WithMetrics(mcol))
	}
	if cfg.PublishEvents {
		pub := publisher.NewNATSPublisher(nc, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		opts = append(opts, coordinator.WithEvents(pub))
	}
	coord := coordinator.New(trips, dispatcher, provider, coordinator.Config{
		Label:           cfg.RunnerLabel,
		Interval:        cfg.PollInterval,
		DispatchTimeout: cfg.DispatchTimeout,
		Position: position.Options{
			EnableHighAccuracy: cfg.HighAccuracy,
			Timeout:            cfg.PositionTimeout,
			MaximumAge:         cfg.PositionMaxAge,
		},
	}, opts...)

	srv := api.NewServer(coord, trips)
	go func() {
		log.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.App.Listen(cfg.HTTPAddr); err != nil {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	// Allow graceful shutdown
	if err := srv.App.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	coord.StopLocationTracking(ctx)
	log.Println("shutdown complete")
}

// openKV connects the configured storage backend.
func openKV(ctx context.Context, cfg *config.Config) (store.KV, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		kv := store.NewPostgresKV(pool)
		if err := kv.EnsureSchema(ctx); err != nil {
			pool.Close()
			log.Fatalf("db schema error: %v", err)
		}
		log.Printf("storing trips in postgres")
		return kv, pool.Close
	case config.BackendRedis:
		client := store.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis error: %v", err)
		}
		log.Printf("storing trips in redis at %s", cfg.RedisAddr)
		return store.NewRedisKV(client, "tracker:"), func() { _ = client.Close() }
	case config.BackendDynamoDB:
		client, err := store.NewDynamoClient(ctx, cfg.AWSRegion)
		if err != nil {
			log.Fatalf("dynamodb error: %v", err)
		}
		log.Printf("storing trips in dynamodb table %s", cfg.DynamoTable)
		return store.NewDynamoKV(client, cfg.DynamoTable), func() {}
	default:
		log.Printf("storing trips in memory; they will not survive a restart")
		return store.NewMemoryKV(), func() {}
	}
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
