package usecase

import (
	"context"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
	mid "UltraFlow/internal/middleware"
)

// SignalCollector collects signals from the inbound stream and runs them
// through the intake middleware.
type SignalCollector struct {
	stream  drepo.SignalStream
	intake  *mid.SignalIntake
	metrics drepo.Metrics
}

// NewSignalCollector creates a new SignalCollector instance.
func NewSignalCollector(stream drepo.SignalStream, intake *mid.SignalIntake, metrics drepo.Metrics) *SignalCollector {
	return &SignalCollector{stream: stream, intake: intake, metrics: metrics}
}

// IsConnected returns true if the signal stream is connected.
func (c *SignalCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *SignalCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	c.intake.Start(ctx)
	sigCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, sigCh, errCh)
	return nil
}

func (c *SignalCollector) consume(ctx context.Context, sigCh <-chan *models.Signal, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				c.metrics.RecordError("stream")
				_ = c.stream.Reconnect(ctx)
			}
		case sig := <-sigCh:
			if sig == nil {
				continue
			}
			// Rejections are terminal decisions, not errors; the intake
			// already counts validation and throttle drops.
			_, _ = c.intake.Process(ctx, sig)
		}
	}
}

func (c *SignalCollector) Stop() error { return c.stream.Close() }

// Shutdown stops the intake and closes the stream.
func (c *SignalCollector) Shutdown(ctx context.Context) error {
	c.intake.Stop()
	return c.stream.Close()
}
