//go:build wireinject
// +build wireinject

package di

import (
	"UltraFlow/pkg/config"
	"UltraFlow/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient services
		ProvideLogger,
		ProvideMetrics,
		ProvideCache,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideDecisionStorage,
		ProvideDecisionPublisher,
		ProvideBudgetStore,
		ProvideOrderSink,
		ProvideSignalStream,

		// Core pipeline
		ProvideScoringEngine,
		ProvideSizer,
		ProvideGuard,
		ProvideDecisionJournal,
		ProvidePipeline,
		ProvideIntake,

		// Use cases and transport
		ProvideSignalCollector,
		ProvideReportsHandler,
		ProvideDecisionsUseCase,
		ProvideAdmissionHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
