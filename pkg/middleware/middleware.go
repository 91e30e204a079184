package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/goldfeed/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RequestLogger logs one line per request through the global zerolog logger.
// Streaming endpoints log when the client disconnects.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		default:
			event = log.Debug()
		}

		event.
			Str("component", "http").
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery turns a handler panic into a logged 500 instead of a dropped connection
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("component", "http").
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Msg("handler panicked")
		response.InternalError(c, response.MsgInternalError)
	})
}

// background runs fn every interval until ctx is done
func background(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
