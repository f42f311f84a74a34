package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"exchange-gateway/internal/cache"
	"exchange-gateway/internal/metrics"
	"exchange-gateway/internal/models"
	"exchange-gateway/internal/provider"
	"exchange-gateway/internal/service"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was written.
const statusClientClosedRequest = 499

// ExchangeService is the operation surface the handler needs.
type ExchangeService interface {
	GetLatestRates(ctx context.Context, base string) (*models.RateSnapshot, error)
	Convert(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error)
	GetHistoricalRates(ctx context.Context, base string, start, end time.Time, page, pageSize int) (*models.HistoricalRateSet, error)
	SupportedCurrencies() []string
}

type CurrencyHandler struct {
	service ExchangeService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewCurrencyHandler(service ExchangeService, m *metrics.Metrics, logger *zap.Logger) *CurrencyHandler {
	return &CurrencyHandler{
		service: service,
		metrics: m,
		logger:  logger,
	}
}

func (h *CurrencyHandler) GetLatestRates(c *gin.Context) {
	h.metrics.RateRequestsTotal.Inc()

	base := c.Query("base")
	if base == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required parameter: base"})
		return
	}

	snap, err := h.service.GetLatestRates(c.Request.Context(), base)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *CurrencyHandler) ConvertCurrency(c *gin.Context) {
	h.metrics.ConversionRequestsTotal.Inc()

	from := c.Query("from")
	to := c.Query("to")
	amount := c.Query("amount")
	if from == "" || to == "" || amount == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required parameters: from, to and amount"})
		return
	}

	snap, err := h.service.Convert(c.Request.Context(), from, to, json.Number(amount))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (h *CurrencyHandler) GetRateHistory(c *gin.Context) {
	h.metrics.HistoricalRequestsTotal.Inc()

	base := c.Query("base")
	startStr := c.Query("start_date")
	endStr := c.Query("end_date")
	if base == "" || startStr == "" || endStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required parameters: base, start_date and end_date"})
		return
	}

	start, err := time.Parse(models.DateLayout, startStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date, use YYYY-MM-DD"})
		return
	}
	end, err := time.Parse(models.DateLayout, endStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date, use YYYY-MM-DD"})
		return
	}

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
		return
	}

	set, err := h.service.GetHistoricalRates(c.Request.Context(), base, start, end, page, pageSize)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, set)
}

func (h *CurrencyHandler) GetSupportedCurrencies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"currencies": h.service.SupportedCurrencies()})
}

func (h *CurrencyHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatus(statusClientClosedRequest)
	case errors.Is(err, service.ErrInvalidCurrency),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidDateRange),
		errors.Is(err, service.ErrInvalidPagination),
		errors.Is(err, provider.ErrUnsupportedProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrUpstream):
		h.logger.Error("upstream provider failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream provider failure"})
	case errors.Is(err, cache.ErrUnavailable):
		h.logger.Error("cache store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache store unavailable"})
	default:
		h.logger.Error("unexpected error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
