package di

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"UltraFlow/internal/domain/repository"
	"UltraFlow/internal/execution"
	"UltraFlow/internal/handler/api"
	mid "UltraFlow/internal/middleware"
	"UltraFlow/internal/pipeline"
	internalrepo "UltraFlow/internal/repository"
	"UltraFlow/internal/risk"
	"UltraFlow/internal/scoring"
	"UltraFlow/internal/service/stream"
	"UltraFlow/internal/sizing"
	"UltraFlow/internal/usecase"
	"UltraFlow/pkg/cache"
	pkgch "UltraFlow/pkg/clickhouse"
	"UltraFlow/pkg/config"
	pkgkafka "UltraFlow/pkg/kafka"
	applogger "UltraFlow/pkg/logger"
	"UltraFlow/pkg/metrics"
	"UltraFlow/pkg/queue"
	"UltraFlow/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	format := "json"
	if cfg.Environment == "development" {
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: "info", Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache creates the cache service: layered over Redis when Redis is
// configured, otherwise in-memory only.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}

	host, port := splitAddr(cfg.Redis.Addr)
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("ultraflow"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(rc), nil
}

func splitAddr(addr string) (string, int) {
	host, portStr, found := strings.Cut(addr, ":")
	if !found {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.ClickHouse.Host == "" {
		return nil, nil
	}

	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	// Initialize schema
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database,
		"CREATE TABLE IF NOT EXISTS " + cfg.ClickHouse.Table + " (decision_id String, key String, symbol String, side String, outcome String, reason String, score Float64, quantity Float64, notional Float64, day String, decided_at DateTime64(3)) ENGINE=MergeTree ORDER BY (symbol, decided_at)",
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer for execution reports.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}

	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideDecisionStorage creates ClickHouse decision storage.
func ProvideDecisionStorage(chClient *pkgch.Client, cfg *config.Config) repository.Storage {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewClickHouseStorage(chClient.DB(), cfg.ClickHouse.Table)
}

// ProvideDecisionPublisher creates the Kafka decision publisher.
func ProvideDecisionPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideBudgetStore creates the snapshot store for the risk guard.
func ProvideBudgetStore(c cache.Service) repository.BudgetStore {
	return internalrepo.NewCacheBudgetStore(c)
}

// ProvideOrderSink creates the execution sink: paper by default, Bybit when
// configured, wrapped in a circuit breaker unless disabled.
func ProvideOrderSink(cfg *config.Config, log *applogger.Logger) repository.OrderSink {
	var sink repository.OrderSink
	switch cfg.Exchange.Mode {
	case "bybit":
		sink = execution.NewBybitSink(execution.BybitConfig{
			APIKey:         cfg.Exchange.APIKey,
			APISecret:      cfg.Exchange.APISecret,
			Env:            cfg.Exchange.Env,
			Category:       cfg.Exchange.Category,
			DefaultLotStep: cfg.Sizing.DefaultLotStep,
		}, log)
	default:
		sink = execution.NewPaperSink(log,
			execution.WithPaperDefaultLotStep(cfg.Sizing.DefaultLotStep))
	}

	if cfg.Exchange.Breaker.Enabled {
		sink = execution.NewBreakerSink(sink, execution.BreakerConfig{
			MaxRequests:         cfg.Exchange.Breaker.MaxRequests,
			Interval:            cfg.Exchange.Breaker.Interval,
			Timeout:             cfg.Exchange.Breaker.Timeout,
			ErrorRateThreshold:  cfg.Exchange.Breaker.ErrorRateThreshold,
			ConsecutiveFailures: cfg.Exchange.Breaker.ConsecutiveFailures,
		}, log)
	}
	return sink
}

// ProvideScoringEngine creates the weighted scoring engine.
func ProvideScoringEngine(cfg *config.Config, log *applogger.Logger) (*scoring.Engine, error) {
	return scoring.NewEngine(cfg.Scoring.Weights, cfg.Scoring.MinScore, log)
}

// ProvideSizer creates the position sizer.
func ProvideSizer(cfg *config.Config, sink repository.OrderSink) *sizing.Sizer {
	return sizing.NewSizer(cfg.Sizing.RiskPct, sink)
}

// ProvideGuard creates the risk guard with snapshot persistence.
func ProvideGuard(
	cfg *config.Config,
	store repository.BudgetStore,
	m repository.Metrics,
	log *applogger.Logger,
) *risk.Guard {
	loc, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		log.Warn("unknown risk timezone, falling back to UTC", applogger.String("timezone", cfg.Risk.Timezone))
		loc = time.UTC
	}
	return risk.NewGuard(risk.Config{
		MaxDailyLossFrac: cfg.Risk.MaxDailyLossFrac,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		AllowPyramiding:  cfg.Risk.AllowPyramiding,
		Timezone:         loc,
	}, m, log, risk.WithStore(store))
}

// ProvideDecisionJournal creates the audit journal routed by config.
func ProvideDecisionJournal(
	pub repository.Publisher,
	store repository.Storage,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.DecisionJournal {
	return usecase.NewDecisionJournal(pub, store, m, cfg.Journal.Backend)
}

// ProvidePipeline creates the admission pipeline.
func ProvidePipeline(
	engine *scoring.Engine,
	sizer *sizing.Sizer,
	guard *risk.Guard,
	sink repository.OrderSink,
	journal *usecase.DecisionJournal,
	c cache.Service,
	m repository.Metrics,
	log *applogger.Logger,
	cfg *config.Config,
) *pipeline.Pipeline {
	return pipeline.New(engine, sizer, guard, sink, c, m, log,
		pipeline.WithDispatchTimeout(cfg.Pipeline.DispatchTimeout),
		pipeline.WithCacheTTL(cfg.Pipeline.DecisionTTL),
		pipeline.WithJournal(journal),
	)
}

// ProvideIntake wraps the pipeline with validation and throttling.
func ProvideIntake(pipe *pipeline.Pipeline, m repository.Metrics, cfg *config.Config) *mid.SignalIntake {
	return mid.NewSignalIntake(pipe, m,
		mid.WithMaxRPS(cfg.Pipeline.MaxRPS),
		mid.WithBurst(cfg.Pipeline.Burst),
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
	)
}

// ProvideSignalStream creates the charting-platform WebSocket stream.
func ProvideSignalStream(cfg *config.Config) repository.SignalStream {
	if !cfg.Stream.Enabled {
		return nil
	}
	return stream.New(
		cfg.Stream.APIKey,
		cfg.Stream.WebSocketURL,
		cfg.Stream.Symbols,
		cfg.Stream.ReconnectDelay,
		cfg.Stream.PingInterval,
	)
}

// ProvideSignalCollector creates the stream collector use case.
func ProvideSignalCollector(
	s repository.SignalStream,
	intake *mid.SignalIntake,
	m repository.Metrics,
) *usecase.SignalCollector {
	if s == nil {
		return nil
	}
	return usecase.NewSignalCollector(s, intake, m)
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideLogQueue attaches an aggregating log collector that ships repeated
// log entries through a Redis queue.
func ProvideLogQueue(cfg *config.Config, log *applogger.Logger) *queue.RedisQueue {
	if !cfg.Redis.Enabled {
		return nil
	}
	q := queue.NewRedisPublisher(log, newRedisClient(cfg), queue.WithKeyPrefix("ultraflow:logs"))
	log.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          "aggregated_logs",
		Publisher:      q,
	})
	return q
}

// ProvideReportQueue creates a Redis-backed execution reports consumer for
// deployments that run without Kafka.
func ProvideReportQueue(cfg *config.Config, log *applogger.Logger, rh *usecase.ExecutionReportsHandler) *queue.RedisQueue {
	if !cfg.Redis.Enabled || len(cfg.Kafka.Brokers) > 0 {
		return nil
	}
	return queue.NewRedisConsumer(log,
		&queue.QueueConfig{Workers: 2, RetryLimit: 3},
		newRedisClient(cfg),
		[]queue.Job{usecase.NewExecutionReportJob(rh)},
		queue.WithKeyPrefix("ultraflow:reports"),
	)
}

// ProvideReportsHandler registers the execution reports consumer handler.
func ProvideReportsHandler(guard *risk.Guard, m repository.Metrics, cfg *config.Config) *usecase.ExecutionReportsHandler {
	return usecase.NewExecutionReportsHandler(cfg.Kafka.ReportsTopic, guard, m)
}

// ProvideDecisionsUseCase creates the decision query use case.
func ProvideDecisionsUseCase(store repository.Storage) *usecase.DecisionsUseCase {
	if store == nil {
		return nil
	}
	return usecase.NewDecisionsUseCase(store)
}

// ProvideAdmissionHandler creates the HTTP handler for the admission API.
func ProvideAdmissionHandler(
	log *applogger.Logger,
	intake *mid.SignalIntake,
	pipe *pipeline.Pipeline,
	guard *risk.Guard,
	decisions *usecase.DecisionsUseCase,
) *api.AdmissionHandler {
	return api.NewAdmissionHandler(log, intake, pipe, guard, decisions)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.SignalCollector,
	consumer *pkgkafka.Consumer,
	rh *usecase.ExecutionReportsHandler,
	journal *usecase.DecisionJournal,
	handler *api.AdmissionHandler,
	chClient *pkgch.Client,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	// Queues share a type, so they are built here rather than in the graph.
	logQueue := ProvideLogQueue(cfg, log)
	reportQueue := ProvideReportQueue(cfg, log, rh)
	return server.New(cfg, log, collector, consumer, rh, reportQueue, logQueue, journal, handler, chClient)
}
