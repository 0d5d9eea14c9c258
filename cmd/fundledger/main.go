package main

import (
	"FundLedger/internal/config"
	"FundLedger/internal/hub"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/observability"
	"FundLedger/internal/persistence"
	"FundLedger/internal/query"
	"FundLedger/internal/server"
	"FundLedger/internal/submitter"
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: FundLedger starting...")

	cfg, err := config.Load(os.Getenv("FUND_CONFIG"))
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure); the publish channel
	// inside the outbound publisher drops.
	persistChan := make(chan persistence.Record, cfg.PersistChanSize)
	rawChan := make(chan ingestion.RawMessage, 4096)

	// --- Idempotency + sequencing ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	dedup := ingestion.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, dbChecker, metrics)
	seqValidator := ingestion.NewSequenceValidator(metrics)

	warmKeys, err := persistence.RecentDedupKeys(ctx, db, cfg.IdempotencyLRUCapacity)
	if err != nil {
		log.Printf("WARN: failed to load dedup keys: %v", err)
	} else if len(warmKeys) > 0 {
		log.Printf("INFO: warming idempotency LRU with %d keys", len(warmKeys))
		dedup.WarmLRU(warmKeys)
	}

	// --- Hub + ingestion worker ---
	// The notifier stays muted through replay so recovery neither
	// republishes nor double-persists.
	h := hub.New(observability.NewLogger("hub"), hub.NopNotifier{})
	worker := ingestion.NewWorker(
		observability.NewLogger("ingestion"),
		h,
		rawChan,
		dedup,
		seqValidator,
		persistChan,
		metrics,
	)

	// --- Recovery: replay the command log ---
	replayed, err := worker.Replay(ctx, db)
	if err != nil {
		log.Fatalf("FATAL: command replay failed: %v", err)
	}
	if replayed > 0 {
		log.Printf("INFO: replayed %d commands", replayed)
	} else {
		log.Println("INFO: empty command log, cold start")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	natsSubscriber := ingestion.NewNATSSubscriber(js, rawChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	// --- Outbound: durable row first, best-effort publication second ---
	outboundPublisher := ingestion.NewOutboundPublisher(js, cfg.PublishBuffer, metrics)
	h.SetNotifier(hub.MultiNotifier(persistence.NewRecorder(persistChan), outboundPublisher))

	// --- Services ---
	queryService := query.NewService(db, metrics)
	grpcServer := server.NewGRPCServer(observability.NewLogger("grpc"), cfg.GRPCAddr)
	gateway, err := server.NewGateway(observability.NewLogger("gateway"), cfg.HTTPAddr, queryService, healthChecker, worker)
	if err != nil {
		log.Fatalf("FATAL: build gateway: %v", err)
	}

	// --- Queue submitter ---
	queueSubmitter := submitter.New(observability.NewLogger("submitter"), worker, cfg.SubmitSchedule)
	if err := queueSubmitter.Start(); err != nil {
		log.Fatalf("FATAL: start submitter: %v", err)
	}

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	go func() {
		errChan <- worker.Run(ctx)
	}()

	go func() {
		errChan <- grpcServer.Start()
	}()

	go func() {
		errChan <- gateway.Start()
	}()

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Printf("INFO: FundLedger ready (grpc=%s, http=%s, metrics=%s)",
		cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	queueSubmitter.Stop()
	natsSubscriber.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gateway.Stop(shutdownCtx); err != nil {
		log.Printf("WARN: gateway shutdown: %v", err)
	}
	grpcServer.Stop()
	outboundPublisher.Close()

	log.Println("INFO: FundLedger shutdown complete")
}
