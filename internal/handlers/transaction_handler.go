package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/repository"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/telemetry"
)

type TransactionHandler struct {
	repo interfaces.TransactionRepository
}

func NewTransactionHandler(repo interfaces.TransactionRepository) *TransactionHandler {
	return &TransactionHandler{repo: repo}
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	orderRef := c.Param("orderRef")

	record, err := h.repo.GetByOrderRef(c.Request.Context(), orderRef)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return
	}

	if err != nil {
		telemetry.Logger.Error("Failed to fetch transaction", zap.String("order_ref", orderRef), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch transaction"})
		return
	}

	c.JSON(http.StatusOK, record)
}

type HealthHandler struct {
	checker interfaces.HealthChecker
	service string
}

func NewHealthHandler(checker interfaces.HealthChecker, service string) *HealthHandler {
	return &HealthHandler{checker: checker, service: service}
}

func (h *HealthHandler) Health(c *gin.Context) {
	if h.checker == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service})
		return
	}
	status, err := h.checker.CheckHealth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "service": h.service, "error": err.Error()})
		return
	}
	if !status.IsHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "service": h.service, "checks": status.Details})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service, "checks": status.Details})
}
