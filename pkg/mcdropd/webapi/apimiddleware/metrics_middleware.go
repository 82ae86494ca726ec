package apimiddleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/metrics"
)

// RequestMetrics counts and times every request by method and route pattern. The
// pattern (for example /api/v1/sessions/:code) keeps session codes out of the label
// values.
func RequestMetrics(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !c.Response().Committed {
					status = http.StatusInternalServerError
				}
			}

			endpoint := c.Path()
			if endpoint == "" {
				endpoint = "unmatched"
			}

			method := c.Request().Method
			m.APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
			m.APIRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
