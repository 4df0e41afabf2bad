package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if caller := c.GetHeader(CallerIDHeader); caller != "" {
			fields = append(fields, zap.String("caller_id", caller))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		default:
			logger.Info("Request handled", fields...)
		}
	}
}

// NewRouter wires the HTTP routes
func NewRouter(decisions *DecisionHandler, policies *PolicyHandler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		// Decision endpoints
		api.POST("/decisions", decisions.Decide)
		api.GET("/decisions", decisions.ListDecisions)
		api.GET("/decisions/:id", decisions.GetDecision)
		api.GET("/decisions/:id/report", decisions.GetReport)
		api.POST("/decisions/:id/exports", decisions.ExportReport)

		// Cache endpoints
		api.DELETE("/cache", decisions.ClearCache)
		api.GET("/cache/stats", decisions.CacheStats)

		// Policy endpoints
		api.POST("/policies", policies.AddPolicies)
		api.PUT("/policies", policies.ReindexPolicies)
		api.GET("/policies/search", policies.SearchPolicies)
		api.GET("/policies/stats", policies.PolicyStats)
	}

	return r
}
