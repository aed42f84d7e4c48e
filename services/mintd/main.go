package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rikitrader/secure-mint-engine-sub001/native/oracle"
	"github.com/rikitrader/secure-mint-engine-sub001/native/pause"
	"github.com/rikitrader/secure-mint-engine-sub001/native/policy"
	"github.com/rikitrader/secure-mint-engine-sub001/native/redemption"
	"github.com/rikitrader/secure-mint-engine-sub001/native/treasury"
	"github.com/rikitrader/secure-mint-engine-sub001/observability/logging"
	telemetry "github.com/rikitrader/secure-mint-engine-sub001/observability/otel"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/archive"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/config"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/engine"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/ledger"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/server"
	"github.com/rikitrader/secure-mint-engine-sub001/services/mintd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/mintd/config.yaml", "path to mintd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("mintd: load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = strings.TrimSpace(os.Getenv("MINT_ENV"))
	}
	logger := logging.Setup("mintd", env, cfg.LogFile)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "mintd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("mintd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("mintd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("mintd: open storage: %v", err)
	}
	defer store.Close()

	rails, err := config.LoadGuardrails(cfg.GuardrailsPath)
	if err != nil {
		log.Fatalf("mintd: load guardrails: %v", err)
	}
	grants, err := rails.BuildGrants()
	if err != nil {
		log.Fatalf("mintd: build grants: %v", err)
	}
	sanctions, err := rails.Sanctions.Checker()
	if err != nil {
		log.Fatalf("mintd: build sanctions checker: %v", err)
	}

	consensus, err := oracle.NewConsensus(grants, cfg.Oracle.MinAttestors, cfg.Oracle.MaxAge.Duration, cfg.Oracle.BackingRatioBps)
	if err != nil {
		log.Fatalf("mintd: oracle consensus: %v", err)
	}
	attestors, err := rails.AttestorAddresses()
	if err != nil {
		log.Fatalf("mintd: parse attestors: %v", err)
	}
	for _, attestor := range attestors {
		consensus.Authorize(attestor)
	}

	controller := pause.NewController(grants, pause.Level(cfg.Pause.GuardianCeiling))
	controller.SetOracleHealth(consensus.Healthy)

	book := ledger.NewBook(controller)

	policyEngine, err := policy.NewEngine(policy.Config{
		GlobalSupplyCap: cfg.Policy.GlobalSupplyCap.Int,
		EpochMintCap:    cfg.Policy.EpochMintCap.Int,
		EpochDuration:   cfg.Policy.EpochDuration.Duration,
		TimelockDelay:   cfg.Policy.TimelockDelay.Duration,
		AutoPauseLevel:  pause.Level(cfg.Pause.AutoPauseLevel),
	}, book, consensus, controller, grants)
	if err != nil {
		log.Fatalf("mintd: policy engine: %v", err)
	}
	policyEngine.SetSanctionsChecker(sanctions, policy.NewSanctionsLog(store))

	var allocation treasury.Allocation
	copy(allocation[:], cfg.Treasury.AllocationBps)
	manager, err := treasury.NewManager(grants, allocation, cfg.Treasury.RebalanceThresholdBps, cfg.Treasury.TimelockDelay.Duration)
	if err != nil {
		log.Fatalf("mintd: treasury manager: %v", err)
	}

	queue, err := redemption.NewQueue(redemption.Config{
		MinRedemption:   cfg.Redemption.MinRedemption.Int,
		DailyLimit:      cfg.Redemption.DailyLimit.Int,
		RedemptionDelay: cfg.Redemption.Delay.Duration,
		FeeBps:          cfg.Redemption.FeeBps,
	}, book, manager, controller)
	if err != nil {
		log.Fatalf("mintd: redemption queue: %v", err)
	}
	var eventArchive *archive.Archive
	if archiveDSN := strings.TrimSpace(cfg.Archive.PostgresDSN); archiveDSN != "" {
		eventArchive, err = archive.Open(archiveDSN)
		if err != nil {
			log.Fatalf("mintd: open archive: %v", err)
		}
		defer eventArchive.Close()
	}

	svc, err := engine.New(engine.Deps{
		Oracle:   consensus,
		Pauses:   controller,
		Policy:   policyEngine,
		Treasury: manager,
		Queue:    queue,
		Ledger:   book,
		Grants:   grants,
		Store:    store,
		Archive:  eventArchive,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("mintd: engine: %v", err)
	}
	if cfg.Redemption.SurchargeEnabled {
		// Guardians feed the peg signal at runtime; the strategy converts it
		// into a settlement surcharge.
		queue.SetSurcharge(redemption.LinearSurcharge{CapBps: cfg.Redemption.SurchargeCapBps}, svc.PegDeviation)
	}

	api := server.New(server.Config{
		Service: svc,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.JWTSecret,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mintd: listening", "addr", cfg.ListenAddress, "env", env)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("mintd: shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("mintd: server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("mintd: shutdown", "error", err)
	}
}
