package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"privacyhub/internal/blocking"
	blockinghandler "privacyhub/internal/blocking/handler"
	"privacyhub/internal/blocking/relay"
	consenthandler "privacyhub/internal/consent/handler"
	consentmetrics "privacyhub/internal/consent/metrics"
	consentmodels "privacyhub/internal/consent/models"
	consentservice "privacyhub/internal/consent/service"
	consentsignal "privacyhub/internal/consent/signal"
	consentstore "privacyhub/internal/consent/store"
	dsrhandler "privacyhub/internal/dsr/handler"
	"privacyhub/internal/dsr/mailer"
	dsrmetrics "privacyhub/internal/dsr/metrics"
	dsrmodels "privacyhub/internal/dsr/models"
	dsrservice "privacyhub/internal/dsr/service"
	dsrstore "privacyhub/internal/dsr/store"
	"privacyhub/internal/dsr/tokens"
	"privacyhub/internal/dsr/workers/overdue"
	"privacyhub/internal/platform/config"
	"privacyhub/internal/platform/database"
	"privacyhub/internal/platform/health"
	"privacyhub/internal/platform/kafka"
	"privacyhub/internal/platform/kafka/producer"
	"privacyhub/internal/platform/logger"
	"privacyhub/internal/platform/outbox"
	outboxmetrics "privacyhub/internal/platform/outbox/metrics"
	outboxworker "privacyhub/internal/platform/outbox/worker"
	"privacyhub/internal/platform/redis"
	"privacyhub/internal/platform/tracer"
	"privacyhub/internal/ratelimit/limiter"
	ratelimitmetrics "privacyhub/internal/ratelimit/metrics"
	"privacyhub/internal/ratelimit/store/bucket"
	"privacyhub/pkg/platform/middleware/throttle"
	"privacyhub/pkg/platform/privacy"
)

const (
	outboxRetention   = 7 * 24 * time.Hour
	pageIdleTimeout   = 30 * time.Minute
	pageSweepInterval = time.Minute
	redisStatsPeriod  = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the stores, services and workers and serves until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error("tracer shutdown failed", "error", err)
		}
	}()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	app, err := buildApp(cfg, infra, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server",
			"addr", cfg.Server.Addr,
			"environment", cfg.Environment,
			"postgres", infra.db != nil,
			"redis", infra.redis != nil,
			"kafka", cfg.Kafka.Brokers != "",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return app.outbox.Run(gctx) })
	g.Go(func() error { return app.overdue.Run(gctx) })
	g.Go(func() error {
		app.reportThrottle.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweepPages(gctx, app.pages, log)
		return nil
	})
	if infra.redis != nil {
		g.Go(func() error { return infra.redis.RunStats(gctx, redisStatsPeriod) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// infra holds the optional backing services. Each nil field falls back to an
// in-memory or no-op implementation.
type infra struct {
	db        *database.Pool
	redis     *redis.Client
	publisher producer.Publisher
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	publisher, err := kafka.NewPublisher(cfg.Kafka, log)
	if err != nil {
		return nil, err
	}
	return &infra{db: db, redis: rdb, publisher: publisher}, nil
}

func (i *infra) close(log *slog.Logger) {
	if err := i.publisher.Close(); err != nil {
		log.Error("kafka producer close failed", "error", err)
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Error("redis close failed", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Error("database close failed", "error", err)
		}
	}
}

type app struct {
	router         http.Handler
	outbox         *outboxworker.Worker
	overdue        *overdue.Worker
	reportThrottle *throttle.Limiter
	pages          *blocking.Registry
}

func buildApp(cfg *config.Config, infra *infra, log *slog.Logger) (*app, error) {
	hasher := privacy.NewHasher(cfg.Security.IPHashKey)
	otelTracer := tracer.NewOTel()

	// Blocking engine and the server-side page registry, fed by consent replays.
	blockingMetrics := blocking.NewMetrics()
	engine := blocking.New(blocking.RulesFromPolicy(cfg.Policy.BlockingRules),
		blocking.WithLogger(log),
		blocking.WithMetrics(blockingMetrics),
	)
	pages := blocking.NewRegistry(engine, relay.New(infra.publisher, cfg.Kafka.EventsTopic))

	// Consent store, signal emitter and service.
	consentMetrics := consentmetrics.New()
	emitter := consentsignal.New(
		consentsignal.WithMapping(consentsignal.MappingFrom(cfg.Policy.ConsentMode)),
		consentsignal.WithMetrics(consentMetrics),
		consentsignal.WithLogger(log),
	)
	consentSink := consentsignal.NewKafkaSink(infra.publisher, cfg.Kafka.ConsentTopic, consentsignal.WithSinkLogger(log))
	emitter.AddSink(consentSink)
	emitter.OnReplay(pages.Replay)

	consentOpts := []consentservice.Option{
		consentservice.WithEmitter(emitter),
		consentservice.WithHasher(hasher),
		consentservice.WithCatalogue(catalogue(cfg.Policy.Categories)),
		consentservice.WithMetrics(consentMetrics),
		consentservice.WithTracer(otelTracer),
		consentservice.WithLogger(log),
	}
	var (
		consentStore consentservice.Store
		reports      consenthandler.ReportStore
		requests     dsrservice.Store
		events       outbox.Store
		dsrTx        dsrservice.StoreTx
	)
	if infra.db != nil {
		db := infra.db.DB()
		consentStore = consentstore.NewPostgres(db)
		reports = consentstore.NewPostgresReportStore(db)
		consentOpts = append(consentOpts, consentservice.WithTx(newConsentPostgresTx(db)))
		requests = dsrstore.NewPostgres(db)
		events = outbox.NewPostgres(db)
		dsrTx = newDSRPostgresTx(db)
	} else {
		log.Warn("no database configured, using in-memory stores")
		consentStore = consentstore.New()
		reports = consentstore.NewReportStore(10000)
		requests = dsrstore.NewInMemory()
		memEvents := outbox.NewInMemoryStore()
		events = memEvents
		dsrTx = dsrservice.NewLockedTx(requests, memEvents)
	}
	consentSvc := consentservice.New(consentStore, consentOpts...)

	// Data subject requests.
	sla, err := dsrmodels.SLATableFrom(cfg.Policy.SLADays)
	if err != nil {
		return nil, fmt.Errorf("policy sla table: %w", err)
	}
	var throttleStore limiter.BucketStore = bucket.NewInMemoryBucketStore()
	if infra.redis != nil {
		throttleStore = bucket.NewRedis(infra.redis.Client)
	}
	submissionThrottle := limiter.New(throttleStore, cfg.DSR.ThrottleLimit, cfg.DSR.ThrottleWindow,
		limiter.WithMetrics(ratelimitmetrics.New()),
		limiter.WithLogger(log),
	)
	var mail dsrservice.Mailer = mailer.NewLog(log)
	if cfg.Kafka.Brokers != "" {
		mail = mailer.NewKafka(infra.publisher, cfg.Kafka.MailTopic)
	}
	dsrSvc := dsrservice.New(requests, tokens.NewTrackingIssuer(cfg.Security.TokenSecret, cfg.DSR.TrackingTTL),
		dsrservice.WithTx(dsrTx),
		dsrservice.WithMailer(mail),
		dsrservice.WithThrottle(submissionThrottle),
		dsrservice.WithHasher(hasher),
		dsrservice.WithSLA(sla),
		dsrservice.WithVerificationTTL(cfg.DSR.VerificationTTL),
		dsrservice.WithVerifyBaseURL(cfg.DSR.VerifyBaseURL),
		dsrservice.WithManualReview(cfg.DSR.RequireManualReview),
		dsrservice.WithMetrics(dsrmetrics.New()),
		dsrservice.WithTracer(otelTracer),
		dsrservice.WithLogger(log),
	)

	overdueWorker, err := overdue.New(dsrSvc, cfg.DSR.OverdueSchedule, overdue.WithLogger(log))
	if err != nil {
		return nil, err
	}
	outboxWorker := outboxworker.New(events, infra.publisher,
		outboxworker.WithTopic(cfg.Kafka.EventsTopic),
		outboxworker.WithPollInterval(cfg.Kafka.OutboxInterval),
		outboxworker.WithRetention(outboxRetention),
		outboxworker.WithMetrics(outboxmetrics.New()),
		outboxworker.WithLogger(log),
	)

	healthHandler := health.New(cfg.Environment)
	healthHandler.RegisterCheck("consent_signal", consentSink.Health)
	if infra.db != nil {
		healthHandler.RegisterCheck("postgres", infra.db.Health)
	}
	if infra.redis != nil {
		healthHandler.RegisterCheck("redis", infra.redis.Health)
	}
	if cfg.Kafka.Brokers != "" {
		healthHandler.RegisterCheck("kafka", func(ctx context.Context) error {
			if !infra.publisher.Healthy(ctx) {
				return errors.New("kafka brokers unreachable")
			}
			return nil
		})
	}

	reportThrottle := throttle.New(throttle.Config{PerMinute: cfg.Reports.PerMinute, Burst: cfg.Reports.Burst})
	router, err := newRouter(routerDeps{
		cfg:            cfg,
		log:            log,
		health:         healthHandler,
		consent:        consenthandler.New(consentSvc, reports, hasher, log, consentMetrics),
		dsr:            dsrhandler.New(dsrSvc, log, dsrhandler.WithThrottleReset(submissionThrottle)),
		blocking:       blockinghandler.New(pages, consentSvc, log),
		reportThrottle: reportThrottle,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		router:         router,
		outbox:         outboxWorker,
		overdue:        overdueWorker,
		reportThrottle: reportThrottle,
		pages:          pages,
	}, nil
}

func catalogue(names []string) []consentmodels.Category {
	cats := make([]consentmodels.Category, 0, len(names))
	for _, name := range names {
		cats = append(cats, consentmodels.Category(name))
	}
	return cats
}

// sweepPages closes server-side pages nobody has touched for pageIdleTimeout.
func sweepPages(ctx context.Context, pages *blocking.Registry, log *slog.Logger) {
	ticker := time.NewTicker(pageSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if closed := pages.Sweep(now.Add(-pageIdleTimeout)); closed > 0 {
				log.Debug("closed idle blocking pages", "closed", closed, "open", pages.Len())
			}
		}
	}
}
