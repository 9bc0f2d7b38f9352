package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/metrics"
)

// Logger writes one structured line per request and records its latency.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			if err != nil {
				// render now so the logged status is the real one; echo skips
				// committed responses when the error bubbles up again
				c.Error(err)
			}

			status := c.Response().Status
			latency := time.Since(start)

			evt := logger.Info()
			if err != nil && status >= 500 {
				evt = logger.Error().Err(err)
			} else if err != nil {
				evt = logger.Warn().Err(err)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", latency).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			metrics.HTTPRequestDuration.
				WithLabelValues(req.Method, c.Path(), strconv.Itoa(status)).
				Observe(latency.Seconds())

			return err
		}
	}
}
