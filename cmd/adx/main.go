package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hanzo-labs/adx/pkg/adx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var (
		port        int
		logDir      string
		staticDir   string
		mockDSP     bool
		mockDSPPort int
	)
	flag.IntVar(&port, "p", 8080, "listen port")
	flag.IntVar(&port, "port", 8080, "listen port")
	flag.StringVar(&logDir, "log-dir", "logs", "log output directory")
	flag.StringVar(&staticDir, "static-dir", "static", "static config directory")
	flag.BoolVar(&mockDSP, "mock-dsp", true, "start the local mock DSP")
	flag.IntVar(&mockDSPPort, "mock-dsp-port", 9001, "mock DSP port")
	flag.Parse()

	metricsPort := getEnv("METRICS_PORT", "6062")
	clickhouseAddr := getEnv("CLICKHOUSE_ADDR", "localhost:9000")
	clickhouseEnabled := strings.ToLower(getEnv("CLICKHOUSE_ENABLED", "false")) == "true"
	redisAddr := getEnv("REDIS_ADDR", "")
	dbConnString := getEnv("DATABASE_URL", "")

	adxLog, err := adx.NewRuntimeLogger(logDir, "adx", adx.DefaultLogBuffer, adx.DefaultLogBatch, adx.DefaultLogFlushInterval)
	if err != nil {
		logger.Error("Failed to initialize runtime logger", "error", err)
		os.Exit(1)
	}

	registry := prometheus.DefaultRegisterer
	metrics := adx.NewMetrics(registry)

	catalog := adx.NewCatalog(logger)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer bootCancel()

	if dbConnString != "" {
		logger.Info("Loading catalog from PostgreSQL")
		pgSource, err := adx.NewPostgresCatalogSource(dbConnString)
		if err != nil {
			logger.Error("Failed to initialize PostgreSQL catalog source", "error", err)
			os.Exit(1)
		}
		defer pgSource.Close()
		if err := catalog.LoadFrom(bootCtx, pgSource); err != nil {
			logger.Error("Failed to load catalog from PostgreSQL", "error", err)
			os.Exit(1)
		}
	} else {
		if err := catalog.LoadFrom(bootCtx, adx.NewFileSource(staticDir)); err != nil {
			logger.Error("Failed to load static catalog", "error", err)
			os.Exit(1)
		}
	}

	// Without a persisted demand set, seed a synthetic one pointed at the
	// mock DSP.
	if len(catalog.ActiveDemands()) == 0 {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		bidURL := fmt.Sprintf("http://127.0.0.1:%d/bid", mockDSPPort)
		demands := adx.SyntheticDemands(rng, bidURL)
		if err := catalog.SetDemands(demands); err != nil {
			logger.Error("Failed to seed synthetic demands", "error", err)
			os.Exit(1)
		}
		logger.Info("Seeded synthetic demand set", "demands", len(demands))
	}

	// Likewise seed one SSP and placement so a bare local run can serve.
	if len(catalog.SspInfo()) == 0 {
		sspUUID := uuid.New().String()
		catalog.SetSspInfo([]adx.SSP{{ID: 1, UUID: sspUUID, Name: "local_test_ssp", QPS: 100}})
		catalog.Update([]adx.SspPlacement{{
			SspID:       1,
			SspUUID:     sspUUID,
			PlacementID: "local-placement-1",
			AdType:      adx.AdTypeBanner,
			Status:      adx.PlacementEnabled,
		}}, catalog.DspPlacements())
		logger.Info("Seeded local SSP", "ssp_uuid", sspUUID)
	}

	var analytics *adx.AnalyticsStore
	if clickhouseEnabled {
		logger.Info("Initializing ClickHouse analytics")
		analytics, err = adx.NewAnalyticsStore(clickhouseAddr)
		if err != nil {
			logger.Warn("Failed to initialize ClickHouse, continuing without analytics", "error", err)
			analytics = nil
		} else {
			defer analytics.Close()
		}
	}

	var qps *adx.QPSTracker
	if redisAddr != "" {
		qps, err = adx.NewQPSTracker(redisAddr)
		if err != nil {
			logger.Warn("Failed to initialize Redis QPS tracker, continuing without it", "error", err)
			qps = nil
		} else {
			defer qps.Close()
		}
	}

	dspClient := adx.NewDSPClient(logger)
	gatherer := adx.NewGatherer(dspClient, logger)
	engine := adx.NewEngine(catalog, gatherer, adxLog, logger, metrics, analytics)
	server := adx.NewServer(catalog, engine, qps, logger)

	if mockDSP {
		mock := adx.NewMockDSP(logger)
		go func() {
			if err := mock.Run(mockDSPPort); err != nil {
				logger.Error("Mock DSP failed", "error", err)
			}
		}()
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Starting metrics server", "port", metricsPort)
		if err := http.ListenAndServe(":"+metricsPort, mux); err != nil {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ADX server starting", "port", port)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	select {
	case <-sigCtx.Done():
		logger.Info("Shutting down gracefully")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			adxLog.Close()
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}

	adxLog.Close()
	logger.Info("ADX server shut down")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
