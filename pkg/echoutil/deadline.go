package echoutil

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	binderr "github.com/opst/importexec/pkg/api-types-binding/errors"
)

// Deadline bounds each request by timeout.
//
// The request context passed to handlers is canceled at the deadline.
// When the handler returns after the deadline has passed, the response is
// 504 Gateway Timeout unless the handler has already written one.
//
// Handlers must honour the request context. Deadline does not abandon a
// handler which ignores it.
func Deadline(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			req := c.Request()
			ctx, cancel := context.WithTimeout(req.Context(), timeout)
			defer cancel()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if c.Response().Committed {
				return err
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return binderr.GatewayTimeout(ctx.Err())
			}
			return err
		}
	}
}
