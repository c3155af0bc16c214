package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/keyshop/internal/config"
	"github.com/Skotchmaster/keyshop/internal/events"
	"github.com/Skotchmaster/keyshop/internal/gateway"
	"github.com/Skotchmaster/keyshop/internal/httpserver"
	"github.com/Skotchmaster/keyshop/internal/idempotency"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/search"
	"github.com/Skotchmaster/keyshop/internal/service"
	pkgdb "github.com/Skotchmaster/keyshop/pkg/db"
	"github.com/Skotchmaster/keyshop/pkg/logging"
	loggingmw "github.com/Skotchmaster/keyshop/pkg/middleware/logging"
)

const deliveryRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := pkgdb.Open(ctx, cfg.DatabaseURL, cfg.DatabaseDriver)
	cancel()
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if err := repo.Migrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	deliveries, err := idempotency.New(cfg.IdempotencyDBPath)
	if err != nil {
		log.Fatalf("idempotency store: %v", err)
	}

	r := &repo.GormRepo{DB: db}
	keys := service.NewKeyStore(r)
	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.GatewayURL,
		APIKey:     cfg.GatewayAPIKey,
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
	})
	orders := service.NewOrderService(r, keys, gw)
	orders.GatewayTimeout = cfg.GatewayTimeout
	ratings := &service.RatingAggregator{Repo: r}
	reviews := &service.ReviewService{Repo: r, Ratings: ratings}

	var producer *events.Producer
	if len(cfg.KafkaBrokers) > 0 {
		initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := events.EnsureTopics(initCtx, cfg.KafkaBrokers[0], service.TopicOrderEvents, service.TopicReviewEvents); err != nil {
			logger.Warn("kafka_topics_error", "error", err)
		}
		initCancel()

		producer, err = events.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka producer: %v", err)
		}
		orders.Publisher = producer
		reviews.Publisher = producer
	}

	if cfg.ESURL != "" {
		esCtx, esCancel := context.WithTimeout(context.Background(), 10*time.Second)
		es, err := search.NewClient(esCtx, search.Config{URL: cfg.ESURL, User: cfg.ESUser, Password: cfg.ESPassword})
		esCancel()
		if err != nil {
			logger.Warn("elasticsearch_unavailable", "error", err)
		} else {
			indexer := search.NewIndexer(es)
			orders.Indexer = indexer
			ratings.Indexer = indexer
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(loggingmw.RequestLogger(logger))
	e.Use(echomw.CORS())

	httpserver.Register(e, &httpserver.Deps{
		OrderHandler:    &httpserver.OrderHTTP{Svc: orders},
		CheckoutHandler: &httpserver.CheckoutHTTP{Svc: orders, Deliveries: deliveries, WebhookSecret: cfg.WebhookSecret},
		ReviewHandler:   &httpserver.ReviewHTTP{Svc: reviews},
		StockHandler:    &httpserver.StockHTTP{Keys: keys},
		AdminHandler: &httpserver.AdminHTTP{
			Keys:     keys,
			Orders:   orders,
			Reviews:  reviews,
			Ratings:  ratings,
			OrderTTL: cfg.OrderTTL,
		},
		JWTSecret: cfg.JWTAccessSecret,
		Ready: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServerPort),
		Handler:           e,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(logging.IntoContext(context.Background(), logger))
	go sweep(sweepCtx, cfg, orders, deliveries)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	stopSweep()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)

	if producer != nil {
		_ = producer.Close()
	}
	_ = deliveries.Close()
	_ = pkgdb.Close(db)

	logger.Info("keyshop stopped")
}

// sweep fails PENDING orders older than ORDER_TTL and drops old webhook
// records until ctx is cancelled.
func sweep(ctx context.Context, cfg *config.Config, orders *service.OrderService, deliveries *idempotency.Store) {
	t := time.NewTicker(cfg.OrderSweepInterval)
	defer t.Stop()

	l := logging.FromContext(ctx).With("svc", "sweeper")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if _, err := orders.ExpirePending(ctx, cfg.OrderTTL); err != nil {
			l.Error("expire_pending_error", "error", err)
		}
		if _, err := deliveries.Prune(time.Now().UTC().Add(-deliveryRetention)); err != nil {
			l.Warn("prune_deliveries_error", "error", err)
		}
	}
}
