package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"UltraFlow/internal/domain/models"
	drepo "UltraFlow/internal/domain/repository"
	xlogger "UltraFlow/pkg/logger"
)

// BybitConfig selects the venue environment and trading category.
type BybitConfig struct {
	APIKey    string
	APISecret string
	// Env is one of "demo", "testnet" or "mainnet". Demo hits Bybit's
	// paper-trading environment with real market data.
	Env      string
	Category string

	// DefaultLotStep is used when instrument info cannot be fetched.
	DefaultLotStep float64
}

// BybitSink places market orders on Bybit's unified trading account API and
// resolves lot steps from the exchange's instrument info endpoint.
type BybitSink struct {
	client   *bybit_api.Client
	category string
	log      *xlogger.Logger

	defaultStep float64

	mu    sync.RWMutex
	steps map[string]float64
}

func NewBybitSink(cfg BybitConfig, log *xlogger.Logger) *BybitSink {
	if log == nil {
		log = xlogger.Nop()
	}

	var baseURL string
	switch strings.ToLower(cfg.Env) {
	case "demo":
		baseURL = "https://api-demo.bybit.com"
	case "testnet":
		baseURL = bybit_api.TESTNET
	default:
		baseURL = bybit_api.MAINNET
	}

	category := cfg.Category
	if category == "" {
		category = "linear"
	}
	defaultStep := cfg.DefaultLotStep
	if defaultStep <= 0 {
		defaultStep = 0.001
	}

	return &BybitSink{
		client:      bybit_api.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit_api.WithBaseURL(baseURL)),
		category:    category,
		log:         log,
		defaultStep: defaultStep,
		steps:       make(map[string]float64),
	}
}

// LotStep returns the cached lot step for symbol, fetching it from the
// exchange on first use. Fetch failures fall back to the configured default so
// sizing never blocks on venue availability.
func (s *BybitSink) LotStep(symbol string) float64 {
	s.mu.RLock()
	step, ok := s.steps[symbol]
	s.mu.RUnlock()
	if ok {
		return step
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	step, err := s.fetchLotStep(ctx, symbol)
	if err != nil {
		s.log.Warn("instrument info fetch failed, using default lot step",
			xlogger.String("symbol", symbol),
			xlogger.Any("default_step", s.defaultStep),
			xlogger.Error(err))
		return s.defaultStep
	}

	s.mu.Lock()
	s.steps[symbol] = step
	s.mu.Unlock()
	return step
}

// WarmLotSteps pre-fetches lot steps for the given symbols at startup.
func (s *BybitSink) WarmLotSteps(ctx context.Context, symbols ...string) error {
	for _, symbol := range symbols {
		step, err := s.fetchLotStep(ctx, symbol)
		if err != nil {
			return fmt.Errorf("warm lot step for %s: %w", symbol, err)
		}
		s.mu.Lock()
		s.steps[symbol] = step
		s.mu.Unlock()
	}
	return nil
}

func (s *BybitSink) fetchLotStep(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": s.category,
		"symbol":   symbol,
	}

	result, err := s.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch instrument info: %w", err)
	}

	serverResp := result
	if serverResp == nil {
		return 0, fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return 0, fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal result: %w", err)
	}

	var instrumentResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			LotSizeFilter struct {
				MinOrderQty   string `json:"minOrderQty"`
				QtyStep       string `json:"qtyStep"`
				BasePrecision string `json:"basePrecision"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(resultBytes, &instrumentResult); err != nil {
		return 0, fmt.Errorf("failed to unmarshal instrument result: %w", err)
	}

	for _, item := range instrumentResult.List {
		if item.Symbol != symbol {
			continue
		}
		// Spot instruments report basePrecision instead of qtyStep.
		for _, raw := range []string{item.LotSizeFilter.QtyStep, item.LotSizeFilter.BasePrecision, item.LotSizeFilter.MinOrderQty} {
			if step, err := strconv.ParseFloat(raw, 64); err == nil && step > 0 {
				return step, nil
			}
		}
		return 0, fmt.Errorf("instrument %s has no usable lot size filter", symbol)
	}
	return 0, fmt.Errorf("instrument %s not found", symbol)
}

func (s *BybitSink) Place(ctx context.Context, symbol string, side models.Side, quantity float64) (string, error) {
	apiParams := map[string]interface{}{
		"category":  s.category,
		"symbol":    symbol,
		"side":      sideToBybit(side),
		"orderType": "Market",
		"qty":       strconv.FormatFloat(quantity, 'f', -1, 64),
	}

	result, err := s.client.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to place order: %w", err)
	}

	serverResp := result
	if serverResp == nil {
		return "", fmt.Errorf("invalid response type")
	}
	if serverResp.RetCode != 0 {
		return "", fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	var orderResult struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(resultBytes, &orderResult); err != nil {
		return "", fmt.Errorf("failed to unmarshal order result: %w", err)
	}
	if orderResult.OrderID == "" {
		return "", fmt.Errorf("order response missing orderId")
	}

	s.log.Info("order placed",
		xlogger.String("order_id", orderResult.OrderID),
		xlogger.String("symbol", symbol),
		xlogger.String("side", string(side)),
		xlogger.Any("quantity", quantity))

	return orderResult.OrderID, nil
}

func (s *BybitSink) Close() error { return nil }

func sideToBybit(side models.Side) string {
	if side == models.SideShort {
		return "Sell"
	}
	return "Buy"
}

var _ drepo.OrderSink = (*BybitSink)(nil)
