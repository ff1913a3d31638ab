package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peoplecore/flagguard/internal/alerting"
	"github.com/peoplecore/flagguard/internal/api"
	"github.com/peoplecore/flagguard/internal/config"
	"github.com/peoplecore/flagguard/internal/flagstore"
	"github.com/peoplecore/flagguard/internal/monitor"
	"github.com/peoplecore/flagguard/internal/persistence"
	"github.com/peoplecore/flagguard/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	store, err := flagstore.NewStore(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("flag store: %v", err)
	}
	defer store.Close()

	persist, err := persistence.NewStore(ctx, cfg.PersistType, cfg.PersistPath, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("persistence: %v", err)
	}

	overrides, err := cfg.LoadOverrides()
	if err != nil {
		log.Fatalf("overrides: %v", err)
	}
	if len(overrides) > 0 {
		log.Printf("per-flag threshold overrides loaded for %d flags", len(overrides))
	}

	mon := monitor.New(monitor.Options{
		Store:            store,
		Persistence:      persist,
		Defaults:         cfg.Thresholds(),
		Overrides:        overrides,
		SweepInterval:    cfg.SweepInterval,
		FlushBatchSize:   cfg.FlushBatchSize,
		AlertSuppression: cfg.AlertSuppression,
	})
	if err := mon.Load(ctx); err != nil {
		log.Fatalf("load state: %v", err)
	}
	if cfg.WebhookURL != "" {
		mon.RegisterAlertSink("webhook", alerting.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret))
		log.Printf("webhook alerts enabled: %s", cfg.WebhookURL)
	}
	mon.Start()

	telemetry.Init()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()

	srvAPI := api.NewServer(mon, cfg.AdminAPIKey)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctxShut, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShut)
	if err := mon.Close(ctxShut); err != nil {
		log.Printf("monitor close: %v", err)
	}
	log.Println("stopped")
}
