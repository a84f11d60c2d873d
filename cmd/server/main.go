package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/gridledger/internal/api"
	"github.com/xtrntr/gridledger/internal/auth"
	"github.com/xtrntr/gridledger/internal/broker"
	"github.com/xtrntr/gridledger/internal/cache"
	"github.com/xtrntr/gridledger/internal/config"
	"github.com/xtrntr/gridledger/internal/db"
	"github.com/xtrntr/gridledger/internal/exchange"
	"github.com/xtrntr/gridledger/internal/grid"
	"github.com/xtrntr/gridledger/internal/journal"
	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/matching"
	"github.com/xtrntr/gridledger/internal/metrics"
	"github.com/xtrntr/gridledger/internal/models"
	"github.com/xtrntr/gridledger/internal/outbox"
	"github.com/xtrntr/gridledger/internal/override"
	"github.com/xtrntr/gridledger/internal/pricing"
	"github.com/xtrntr/gridledger/internal/settlement"
)

const (
	broadcastInterval = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Main entry point: loads config, wires the exchange and serves HTTP
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()
	os.Exit(serve(*configPath))
}

// serve returns the process exit code after its deferred cleanup ran
func serve(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error(ctx, "server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if err := db.Migrate(ctx, cfg.Database.URL); err != nil {
		return err
	}
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	last, err := database.LastSequence(ctx)
	if err != nil {
		return fmt.Errorf("failed to read last event sequence: %w", err)
	}
	sinks := outbox.Fanout{outbox.WithBreaker(database, cfg.BreakerConfig())}

	if cfg.Journal.Dir != "" {
		j, err := journal.Open(cfg.Journal.Dir)
		if err != nil {
			return err
		}
		defer j.Close()
		if seq, err := j.Last(); err != nil {
			return err
		} else if seq > last {
			last = seq
		}
		sinks = append(sinks, outbox.WithBreaker(j, cfg.BreakerConfig()))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := broker.New(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		if err != nil {
			return err
		}
		defer publisher.Close()
		sinks = append(sinks, outbox.WithBreaker(publisher, cfg.BreakerConfig()))
	}

	var store settlement.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store = redisStore
	}

	ex, err := newExchange(cfg, store, sinks, last)
	if err != nil {
		return err
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(database, ex, authService, cfg.Auth.GridOperatorKey)
	hub := api.NewHub(ex, cfg.HTTP.AllowedOrigins)
	router := api.NewRouter(handler, hub, api.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Limiter:        api.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		Metrics:        promhttp.Handler(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "starting server", zap.String("addr", cfg.HTTP.Addr), zap.Int("sinks", len(sinks)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		tickLoop(gctx, ex, cfg.Market.TickInterval)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx, broadcastInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if ferr := ex.Flush(shutdownCtx); ferr != nil {
			logger.Error(shutdownCtx, "events left unflushed at shutdown", zap.Error(ferr))
		}
		return err
	})
	return g.Wait()
}

func newExchange(cfg *config.Config, store settlement.Store, sink outbox.Sink, last uint64) (*exchange.Exchange, error) {
	pricingCfg, err := cfg.PricingConfig()
	if err != nil {
		return nil, err
	}
	pricer, err := pricing.NewService(pricingCfg)
	if err != nil {
		return nil, err
	}
	gridCfg, err := cfg.GridConfig()
	if err != nil {
		return nil, err
	}
	validator := grid.NewValidator(gridCfg,
		grid.NewDistanceLoss(cfg.Distances(), cfg.Grid.LossRatePerKm, cfg.Grid.MaxLossFraction))

	settlementCfg, err := cfg.SettlementConfig()
	if err != nil {
		return nil, err
	}
	settler, err := settlement.NewCoordinator(settlementCfg, store)
	if err != nil {
		return nil, err
	}

	keys := make(map[models.AuthorityType]string)
	if cfg.Auth.GridOperatorKey != "" {
		keys[models.AuthorityGridOperator] = cfg.Auth.GridOperatorKey
	}
	if cfg.Auth.RegulatorKey != "" {
		keys[models.AuthorityRegulator] = cfg.Auth.RegulatorKey
	}

	ceiling, err := cfg.OrderCeiling()
	if err != nil {
		return nil, err
	}
	ob := outbox.New(sink, cfg.Market.FlushBatch)
	ob.Resume(last)

	return exchange.NewExchange(exchange.Config{
		Zones:        cfg.ZoneNames(),
		WindowLength: cfg.Market.WindowLength,
		OrderCeiling: ceiling,
		Continuous:   cfg.Market.Continuous,
	}, exchange.Services{
		Engine:    matching.NewEngine(pricer, validator, matching.Config{PartialRetry: cfg.Market.PartialRetry}),
		Validator: validator,
		Pricer:    pricer,
		Settler:   settler,
		Outbox:    ob,
		Guard:     override.NewGuard(auth.NewAuthorityVerifier(keys), cfg.Auth.OverrideRetention),
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
	})
}

// tickLoop runs a matching pass over every book each interval
func tickLoop(ctx context.Context, ex *exchange.Exchange, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := ex.RunAllTicks(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "matching tick incomplete", zap.Error(err))
			}
			var trades int
			for _, res := range results {
				trades += len(res.Trades)
			}
			if trades > 0 {
				logger.Debug(ctx, "matching tick", zap.Int("books", len(results)), zap.Int("trades", trades))
			}
		}
	}
}
