// Package middleware holds the gin middleware shared by the gateway,
// vault, and provider-sim servers.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/pkg/correlation"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Correlation extracts or generates the correlation id, stores it in
// the request context, and echoes it on the response.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("X-Correlation-Id")
		if cid == "" {
			cid = correlation.Generate()
		}
		ctx := correlation.With(c.Request.Context(), cid)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-Id", cid)
		c.Next()
	}
}

// MerchantAuth rejects mutating requests without an X-Merchant-Id
// header. Reads, health checks, and webhook ingress are exempt.
func MerchantAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch {
		case c.Request.Method == http.MethodGet:
			c.Next()
			return
		case c.FullPath() == "/health":
			c.Next()
			return
		case strings.HasPrefix(c.Request.URL.Path, "/webhooks/"):
			c.Next()
			return
		}
		if c.GetHeader("X-Merchant-Id") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody{
				Detail: "X-Merchant-Id header required",
			})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request with latency and status.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("correlation_id", correlation.FromContext(c.Request.Context())).
			Msg("request")
	}
}

// Metrics appends one JSONL line per request to the metrics stream.
// Metric failures never fail the request.
func Metrics(store *filestore.Store, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		line := map[string]any{
			"timestamp":      float64(time.Now().UnixMilli()) / 1000.0,
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status_code":    c.Writer.Status(),
			"duration_ms":    float64(time.Since(start).Microseconds()) / 1000.0,
			"correlation_id": correlation.FromContext(c.Request.Context()),
		}
		if err := store.AppendJSONL("metrics/service_metrics.jsonl", line); err != nil {
			log.Debug().Err(err).Msg("metrics append failed")
		}
	}
}

// Recovery converts panics into a 500 with the standard error body.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Any("panic", r).Str("path", c.Request.URL.Path).Msg("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorBody{
					Detail: "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
