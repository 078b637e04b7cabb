package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "x402",
		Subsystem: "facilitator",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})

	paymentOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "x402",
		Subsystem: "facilitator",
		Name:      "payment_operations_total",
		Help:      "Verify and settle outcomes.",
	}, []string{"operation", "outcome"})
)

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		requestDuration.WithLabelValues(route, status).Observe(time.Since(start).Seconds())
	}
}

func observeOutcome(operation, outcome string) {
	paymentOperations.WithLabelValues(operation, outcome).Inc()
}

func metricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
