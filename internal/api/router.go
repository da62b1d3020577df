package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/terminal-orchestrator/internal/handlers"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/terminal-orchestrator/internal/telemetry"
)

const serviceName = "terminal-orchestrator"

type Deps struct {
	Terminal handlers.Terminal
	Repo     interfaces.TransactionRepository
	Health   interfaces.HealthChecker
	Gatherer prometheus.Gatherer
}

func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Health check
	r.GET("/health", handlers.NewHealthHandler(deps.Health, serviceName).Health)

	// Terminal routes
	terminal := handlers.NewTerminalHandler(deps.Terminal)
	r.POST("/transactions", terminal.InitiateTransaction)
	r.POST("/transactions/cancel", terminal.Cancel)
	r.POST("/refunds", terminal.Refund)
	r.POST("/reset", terminal.Reset)
	r.GET("/state", terminal.GetState)
	r.GET("/state/stream", terminal.StreamState)

	if deps.Repo != nil {
		r.GET("/transactions/:orderRef", handlers.NewTransactionHandler(deps.Repo).GetTransaction)
	} else {
		r.GET("/transactions/:orderRef", func(c *gin.Context) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "persistence is not configured"})
		})
	}

	return r
}
