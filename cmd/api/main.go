package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Lohithg21/Quickshow/internal/adapters/crdb"
	mongoadapter "github.com/Lohithg21/Quickshow/internal/adapters/mongo"
	"github.com/Lohithg21/Quickshow/internal/adapters/rabbit"
	redisadapter "github.com/Lohithg21/Quickshow/internal/adapters/redis"
	"github.com/Lohithg21/Quickshow/internal/config"
	"github.com/Lohithg21/Quickshow/internal/confirmation"
	httphandler "github.com/Lohithg21/Quickshow/internal/http"
	"github.com/Lohithg21/Quickshow/internal/idempotency"
	"github.com/Lohithg21/Quickshow/internal/observability"
	"github.com/Lohithg21/Quickshow/internal/rateLimit"
	"github.com/Lohithg21/Quickshow/internal/reservation"
	"github.com/Lohithg21/Quickshow/internal/seatmap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("quickshow")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	dedupe := redisadapter.NewDeduper(redisClient, cfg.DedupeWindow)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	registry := seatmap.NewRegistry(cfg.LockWait)
	if err := rebuildSeatMaps(context.Background(), repo, registry); err != nil {
		log.Fatalf("failed to rebuild seat maps: %v", err)
	}

	processor := confirmation.NewProcessor(repo, registry, dedupe, rabbitPub, cache, audit, logger)
	engine := reservation.NewEngine(repo, registry, repo, cache, processor, cfg.HoldTTL, logger)

	handlers := httphandler.NewHandlers(cfg, repo, repo, engine, processor, registry,
		catalog, audit, idemp, rabbitPub, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("api listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

// rebuildSeatMaps replays live bookings for upcoming shows so restart does
// not lose holds the ledger still considers pending.
func rebuildSeatMaps(ctx context.Context, repo *crdb.Repository, registry *seatmap.Registry) error {
	shows, err := repo.ListUpcomingShows(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, show := range shows {
		live, err := repo.ListLiveBookings(ctx, show.ID)
		if err != nil {
			return err
		}
		registry.Rebuild(show, live)
	}
	return nil
}
