package api

import (
	"net/http"
	"time"

	models "UltraFlow/internal/domain/models"
	mid "UltraFlow/internal/middleware"
	"UltraFlow/internal/pipeline"
	"UltraFlow/internal/risk"
	"UltraFlow/internal/usecase"
	xhttp "UltraFlow/pkg/http"
	xlogger "UltraFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AdmissionHandler implements Echo-based HTTP handlers for the admission
// pipeline: the signal webhook, decision lookups, and risk-budget inspection.
type AdmissionHandler struct {
	logger    *xlogger.Logger
	intake    *mid.SignalIntake
	pipe      *pipeline.Pipeline
	guard     *risk.Guard
	decisions *usecase.DecisionsUseCase
}

func NewAdmissionHandler(
	logger *xlogger.Logger,
	intake *mid.SignalIntake,
	pipe *pipeline.Pipeline,
	guard *risk.Guard,
	decisions *usecase.DecisionsUseCase,
) *AdmissionHandler {
	return &AdmissionHandler{
		logger:    logger,
		intake:    intake,
		pipe:      pipe,
		guard:     guard,
		decisions: decisions,
	}
}

func (h *AdmissionHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/signals", h.Submit)
	g.GET("/decisions/:key", h.Decision)
	g.GET("/decisions", h.Decisions)
	g.GET("/budget", h.Budget)
	g.GET("/positions", h.Positions)
	g.POST("/symbols/:symbol/block", h.Block)
	g.DELETE("/symbols/:symbol/block", h.Unblock)
}

// Submit is the charting-platform webhook. The response always carries the
// terminal decision for the signal's idempotency key, whether produced by
// this delivery or an earlier one.
func (h *AdmissionHandler) Submit(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	sig := req.ToSignal(time.Now().UTC())
	d, err := h.intake.Process(c.Request().Context(), sig)
	if err != nil {
		h.logger.Error("signal intake error", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("signal not accepted: %v", err))
	}
	return xhttp.SuccessResponse(c, d)
}

// Decision looks up a previously produced decision by idempotency key.
func (h *AdmissionHandler) Decision(c echo.Context) error {
	req := &models.DecisionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	d, ok := h.pipe.Lookup(c.Request().Context(), req.Key)
	if !ok {
		return xhttp.NotFoundResponse(c, "no decision for key")
	}
	return xhttp.SuccessResponse(c, d)
}

// Decisions queries the audit journal for a symbol's recent decisions.
func (h *AdmissionHandler) Decisions(c echo.Context) error {
	if h.decisions == nil {
		return xhttp.NotFoundResponse(c, "decision storage not configured")
	}

	now := time.Now().UTC()
	p := usecase.GetDecisionsParams{
		Symbol: c.QueryParam("symbol"),
		From:   xhttp.ParseTimeDefault(c.QueryParam("from"), now.Add(-24*time.Hour)),
		To:     xhttp.ParseTimeDefault(c.QueryParam("to"), now),
		Limit:  xhttp.ParseIntDefault(c.QueryParam("limit"), 1000),
	}

	res, err := h.decisions.GetDecisions(c.Request().Context(), p)
	if err != nil {
		h.logger.Error("decisions usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Budget returns the guard's current day-level risk state.
func (h *AdmissionHandler) Budget(c echo.Context) error {
	snap := h.guard.Snapshot()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"day":           snap.Day,
		"realized_loss": snap.RealizedLoss,
		"breached":      h.guard.Breached(),
		"updated_at":    snap.UpdatedAt,
	})
}

// Positions lists symbols the guard currently counts against the cap.
func (h *AdmissionHandler) Positions(c echo.Context) error {
	snap := h.guard.Snapshot()
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"open":    snap.Open,
		"pending": snap.Pending,
	})
}

// Block manually blocks a symbol for the rest of the trading day.
func (h *AdmissionHandler) Block(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol required")
	}
	h.guard.Block(c.Request().Context(), symbol)
	return xhttp.SuccessResponse(c, map[string]string{"symbol": symbol, "state": "blocked"})
}

// Unblock lifts a manual block.
func (h *AdmissionHandler) Unblock(c echo.Context) error {
	symbol := c.Param("symbol")
	if symbol == "" {
		return xhttp.BadRequestResponse(c, "symbol required")
	}
	h.guard.Unblock(c.Request().Context(), symbol)
	return xhttp.SuccessResponse(c, map[string]string{"symbol": symbol, "state": "idle"})
}

func (h *AdmissionHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
