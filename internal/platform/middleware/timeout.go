package middleware

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline. The handler runs
// on the calling goroutine so the transaction middleware keeps sole ownership
// of the response; pgx aborts statements once the deadline passes and the
// resulting error rolls the transaction back. A non-positive timeout disables
// the deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			req := c.Request()
			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			defer cancel()

			c.SetRequest(req.WithContext(ctx))
			defer c.SetRequest(req)

			err := next(c)
			if err == nil && ctx.Err() == context.DeadlineExceeded && !c.Response().Committed {
				return ctx.Err()
			}
			return err
		}
	}
}
