package main

import (
	"context"
	"log"
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
	"github.com/Lohithg21/Quickshow/internal/observability"
	"github.com/Lohithg21/Quickshow/internal/seatmap"
	"github.com/Lohithg21/Quickshow/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

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
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("quickshow"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	dedupe := redisadapter.NewDeduper(redisClient, cfg.DedupeWindow)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	// The worker keeps its own seat maps only so released seats are dropped
	// from the durable ledger and the redis locks; the api instance rebuilds
	// its in-memory view from the ledger.
	registry := seatmap.NewRegistry(cfg.LockWait)
	if shows, err := repo.ListUpcomingShows(context.Background(), time.Now().UTC()); err == nil {
		for _, show := range shows {
			live, err := repo.ListLiveBookings(context.Background(), show.ID)
			if err != nil {
				log.Fatalf("failed to load live bookings: %v", err)
			}
			registry.Rebuild(show, live)
		}
	}

	processor := confirmation.NewProcessor(repo, registry, dedupe, rabbitPub, cache, audit, logger)
	sw := sweeper.New(repo, processor, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sw.Run(ctx, cfg.SweepInterval)
	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()
	logger.Info("expiry worker exiting")
}
