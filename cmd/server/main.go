package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"richtext-ot/internal/config"
	"richtext-ot/internal/events"
	"richtext-ot/internal/hub"
	"richtext-ot/internal/server"
	"richtext-ot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	opt := hub.Options{
		SnapshotEvery: cfg.Hub.SnapshotEvery,
		HistoryLimit:  cfg.Hub.HistoryLimit,
	}

	var tiers store.Tiered
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()

		cache := store.NewRedisCache(rdb, cfg.Redis.TTL)
		tiers = append(tiers, cache)
		opt.Cursors = cache
	}
	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("failed to connect to mysql: %v", err)
		}
		tiers = append(tiers, store.NewSnapshotStore(db))
	}
	if len(tiers) > 0 {
		opt.Snapshots = tiers
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("failed to connect kafka: %v", err)
		}
		dopt := events.DefaultOptions()
		dopt.Workers = cfg.Kafka.Workers
		dispatcher := events.NewDispatcher(producer, cfg.Kafka.Topic, dopt)
		defer dispatcher.Close()
		opt.Events = dispatcher
	}

	h := hub.NewHub(opt)
	go h.Run()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(h).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	h.Shutdown()
}
