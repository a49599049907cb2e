// Command court runs the OpenCawt dispute-resolution court and its sibling
// agent-to-agent contracting protocol (OCP) as a single HTTP service: the
// signed-mutation gateway, the case session engine, jury selection, the
// verdict/seal pipeline, and the OCP agreement/decision lifecycle.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opencawt/court/pkg/auth"
	"github.com/opencawt/court/pkg/config"
	"github.com/opencawt/court/pkg/court"
	"github.com/opencawt/court/pkg/drand"
	"github.com/opencawt/court/pkg/infra"
	"github.com/opencawt/court/pkg/judge"
	"github.com/opencawt/court/pkg/mintworker"
	"github.com/opencawt/court/pkg/observability"
	"github.com/opencawt/court/pkg/ocp"
	"github.com/opencawt/court/pkg/solanafee"
	"github.com/opencawt/court/pkg/store"
	"github.com/opencawt/court/pkg/webhook"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	ctx := context.Background()

	if err := os.MkdirAll(dirOf(cfg.DatabasePath), 0o755); err != nil {
		log.Fatalf("create database directory: %v", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()
	logger.Info("store: ready", "path", cfg.DatabasePath)

	var obs *observability.Provider
	if cfg.ObservabilityEnabled {
		obsCfg := observability.DefaultConfig()
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			logger.Warn("observability: init failed, continuing without it", "error", err)
		} else {
			defer obs.Shutdown(ctx)
			logger.Info("observability: ready")
		}
	}

	agents := store.NewAgentRepo(db)
	cases := store.NewCaseRepo(db)
	submissions := store.NewSubmissionRepo(db)
	transcript := store.NewTranscriptRepo(db)
	jury := store.NewJuryRepo(db)
	seal := store.NewSealRepo(db)
	agreements := store.NewAgreementRepo(db)
	decisions := store.NewDecisionRepo(db)
	idempotency := store.NewIdempotencyRepo(db)
	nonces := store.NewNonceRepo(db)

	judgeClient := buildJudgeClient(cfg)
	drandClient := buildDrandClient(cfg)
	mintClient := buildMintWorkerClient(cfg)
	feeClient := buildSolanaFeeClient(cfg)
	dispatcher := webhook.NewDispatcher()

	juryEngine := court.NewJuryEngine(agents, jury, drandClient)
	verdictEngine := court.NewVerdictEngine(jury, judgeClient)
	sealWorker := court.NewSealWorker(seal, cases, transcript, jury, mintClient, logger)
	sessionEngine := court.NewEngine(cases, submissions, transcript, juryEngine, verdictEngine, sealWorker, judgeClient, logger)
	ocpEngine := ocp.NewEngine(agreements, agents, mintClient, feeClient, dispatcher, cfg.OCPFeeRequired, cfg.OCPFeeMinLamports, logger)
	decisionEngine := ocp.NewDecisionEngine(decisions, agreements)

	srv := &server{
		cfg:         cfg,
		log:         logger,
		db:          db,
		agents:      agents,
		cases:       cases,
		submissions: submissions,
		transcript:  transcript,
		jury:        jury,
		seal:        seal,
		agreements:  agreements,
		decisions:   decisions,
		idempotency: idempotency,
		session:     sessionEngine,
		sealWorker:  sealWorker,
		ocpEngine:   ocpEngine,
		decisionEng: decisionEngine,
		workerToken: cfg.MintWorkerToken,
		systemKey:   cfg.SystemKey,
	}

	limiterStore := buildLimiterStore(cfg)
	policy := infra.BackpressurePolicy{RPM: 120, TPM: 0, Burst: 20}
	failedAuth := auth.NewInMemoryFailedAuthLimiter()

	handler := srv.routes()
	handler = auth.RateLimitMiddleware(limiterStore, policy)(handler)
	handler = auth.NewSignatureMiddleware(nonces, failedAuth)(handler)
	handler = auth.CORSMiddleware(cfg.CORSOrigins)(handler)
	handler = auth.RequestIDMiddleware(handler)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("court: listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("court: server failed", "error", err)
		}
	}()

	tickCtx, cancelTick := context.WithCancel(ctx)
	defer cancelTick()
	go runSessionTicker(tickCtx, sessionEngine, seal, sealWorker, cfg.SessionTickInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("court: shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("court: graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

// runSessionTicker drives the session engine and the seal worker's retry
// sweep on a fixed interval. A single in-flight flag prevents a slow tick
// from overlapping the next, per the documented "at most one tick in
// flight" concurrency rule.
func runSessionTicker(ctx context.Context, engine *court.Engine, sealRepo *store.SealRepo, sealWorker *court.SealWorker,
	interval time.Duration, log *slog.Logger) {
	var inFlight atomic.Bool
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer inFlight.Store(false)
				if err := engine.Tick(ctx); err != nil {
					log.Error("session: tick failed", "error", err)
				}
				due, err := sealRepo.ListFailedDue(ctx)
				if err != nil {
					log.Error("seal: list failed-due jobs", "error", err)
					return
				}
				sealWorker.RetryDue(ctx, due)
			}()
		}
	}
}

func buildJudgeClient(cfg *config.Config) judge.Client {
	if cfg.JudgeMode == string(config.ModeRPC) {
		return judge.NewRPCClient(cfg.JudgeURL)
	}
	return judge.NewStubClient()
}

func buildDrandClient(cfg *config.Config) drand.Client {
	if cfg.DrandMode == string(config.ModeRPC) {
		return drand.NewRPCClient(cfg.DrandURL)
	}
	return drand.NewStubClient()
}

func buildMintWorkerClient(cfg *config.Config) mintworker.Client {
	if cfg.MintWorkerMode == string(config.ModeRPC) {
		return mintworker.NewRPCClient(cfg.MintWorkerURL, cfg.MintWorkerToken)
	}
	return mintworker.NewStubClient()
}

func buildSolanaFeeClient(cfg *config.Config) solanafee.Client {
	if cfg.SolanaMode == string(config.ModeRPC) {
		return solanafee.NewRPCClient(cfg.SolanaRPC)
	}
	return solanafee.NewStubClient()
}

func buildLimiterStore(cfg *config.Config) infra.LimiterStore {
	if cfg.RedisAddr != "" {
		return infra.NewRedisLimiterStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	return infra.NewInMemoryLimiterStore()
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
