package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"cspdns/internal/config"
	"cspdns/internal/consumer"
	"cspdns/internal/database"
	"cspdns/internal/engine"
	"cspdns/internal/handler"
	"cspdns/internal/metrics"
	"cspdns/internal/planner"
	"cspdns/internal/service"
)

// Start wires the zone store, the orchestration API and the bus, then
// consumes events until ctx is done or an event cannot be applied.
func Start(ctx context.Context, cfg *config.Config, log *logrus.Entry, version string) error {
	db, err := database.Open(ctx, log.WithField("component", "database"), cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	resolver := service.NewResolver(log.WithField("component", "resolver"), service.NewCloudStack(cfg))
	begin := func(ctx context.Context) (engine.Tx, error) {
		tx, err := db.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}
	eng := engine.New(log.WithField("component", "engine"), resolver, begin, planner.Options{
		TTL:             cfg.DNS.RecordTTL,
		CommonZone:      cfg.DNS.CommonZone,
		AddToCommonZone: cfg.DNS.AddToCommonZone,
	})

	m := metrics.New()

	wd := consumer.NewWatchdog(log.WithField("component", "watchdog"), cfg.WatchdogTimeout())
	go wd.Run(ctx)

	if cfg.StatusAddr != "" {
		statusH := handler.NewStatusHandler(log.WithField("component", "status"), wd, db, version)

		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", statusH.Healthz)
		mux.Handle("GET /metrics", m.Handler())

		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("status server listening on %s", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	reader := consumer.NewKafkaReader(cfg.Kafka)
	defer reader.Close()

	log.WithFields(logrus.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
		"group":   cfg.Kafka.Group,
	}).Info("joining consumer group")

	c := consumer.New(log.WithField("component", "consumer"), reader, eng, wd, m, cfg.RetryDelay())
	return c.Run(ctx)
}
