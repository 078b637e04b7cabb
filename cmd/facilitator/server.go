package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-foundation/x402-go/v2"
	"github.com/x402-foundation/x402-go/v2/extensions/bazaar"
)

const (
	verifyTimeout = 30 * time.Second
	settleTimeout = 60 * time.Second
)

// paymentFacilitator is the slice of the facilitator the HTTP layer
// needs. Both X402Facilitator and the idempotent wrapper satisfy it.
type paymentFacilitator interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
	GetSupported() x402.SupportedResponse
}

func newRouter(facilitator paymentFacilitator, catalog *bazaar.Catalog, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics())

	router.POST("/verify", handleVerify(facilitator, logger))
	router.POST("/settle", handleSettle(facilitator, logger))
	router.GET("/supported", handleSupported(facilitator))
	router.GET("/discovery/resources", handleDiscovery(catalog))
	router.GET("/health", handleHealth(facilitator, catalog))
	router.GET("/metrics", metricsHandler())

	return router
}

// handleVerify checks a payment against its requirements. Protocol
// rejections come back as 200 with isValid=false; only a failure of the
// facilitator itself is a 500.
func handleVerify(facilitator paymentFacilitator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req x402.VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
		defer cancel()

		response, err := facilitator.Verify(ctx, req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			logger.Error("verify failed", "error", err)
			observeOutcome("verify", "error")
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		if response.IsValid {
			observeOutcome("verify", "valid")
		} else {
			observeOutcome("verify", "invalid")
		}
		c.JSON(200, response)
	}
}

// handleSettle executes a payment on-chain. A rejected settlement is
// still a 200 with success=false so clients can read the reason.
func handleSettle(facilitator paymentFacilitator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req x402.SettleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), settleTimeout)
		defer cancel()

		response, err := facilitator.Settle(ctx, req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			logger.Error("settle failed", "error", err)
			observeOutcome("settle", "error")
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		if response.Success {
			observeOutcome("settle", "settled")
		} else {
			observeOutcome("settle", "rejected")
		}
		c.JSON(200, response)
	}
}

func handleSupported(facilitator paymentFacilitator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, facilitator.GetSupported())
	}
}

func handleDiscovery(catalog *bazaar.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := bazaar.ListOptions{
			Type:   c.Query("type"),
			Limit:  intQuery(c, "limit", 0),
			Offset: intQuery(c, "offset", 0),
		}
		c.JSON(200, catalog.List(opts))
	}
}

func handleHealth(facilitator paymentFacilitator, catalog *bazaar.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		supported := facilitator.GetSupported()

		seen := make(map[string]bool)
		networks := []string{}
		for _, kind := range supported.Kinds {
			if !seen[string(kind.Network)] {
				seen[string(kind.Network)] = true
				networks = append(networks, string(kind.Network))
			}
		}

		c.JSON(200, gin.H{
			"status":              "ok",
			"networks":            networks,
			"extensions":          supported.Extensions,
			"discoveredResources": catalog.Len(),
		})
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
