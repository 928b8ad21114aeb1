package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"UltraFlow/internal/usecase"
	pkgch "UltraFlow/pkg/clickhouse"
	"UltraFlow/pkg/config"
	xhttp "UltraFlow/pkg/http"
	pkgkafka "UltraFlow/pkg/kafka"
	applogger "UltraFlow/pkg/logger"
	"UltraFlow/pkg/queue"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	collector   *usecase.SignalCollector
	consumer    *pkgkafka.Consumer
	rh          pkgkafka.MessageHandler
	reportQueue *queue.RedisQueue
	logQueue    *queue.RedisQueue
	journal     *usecase.DecisionJournal
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
	handler     xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.SignalCollector,
	consumer *pkgkafka.Consumer,
	rh pkgkafka.MessageHandler,
	reportQueue *queue.RedisQueue,
	logQueue *queue.RedisQueue,
	journal *usecase.DecisionJournal,
	handler xhttp.Handler,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:         cfg,
		log:         log,
		collector:   collector,
		consumer:    consumer,
		rh:          rh,
		reportQueue: reportQueue,
		logQueue:    logQueue,
		journal:     journal,
		handler:     handler,
		chClient:    chClient,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.log

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRequestLogger(a.log),
	)

	// Start the stream collector when a stream is configured; webhook-only
	// deployments run without one.
	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("collector error", applogger.Error(err))
			}
		}()
		l.Info("collector started", applogger.Strings("symbols", a.cfg.Stream.Symbols))
	}

	// Start the execution reports consumer if Kafka is configured
	if a.consumer != nil && a.rh != nil {
		a.consumer.RegisterHandler(a.rh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.rh.Topic()))
	}

	// Start the Redis reports queue for deployments without Kafka
	if a.reportQueue != nil {
		if err := a.reportQueue.Start(); err != nil {
			l.Error("report queue start error", applogger.Error(err))
		} else {
			l.Info("report queue started")
		}
	}

	// Start HTTP server
	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	l := a.log

	// Stop collector (intake + stream)
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Stop consumer
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	// Stop queues: reports first, then the log shipper after its final flush
	if a.reportQueue != nil {
		if err := a.reportQueue.Stop(ctx); err != nil {
			l.Warn("report queue stop error", applogger.Error(err))
		}
	}
	if a.logQueue != nil {
		a.log.RemoveCollector()
		if err := a.logQueue.Stop(ctx); err != nil {
			l.Warn("log queue stop error", applogger.Error(err))
		}
	}

	// Close journal resources (publisher/storage)
	if a.journal != nil {
		a.journal.Close()
	}

	// Close infrastructure clients
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
