// Provider webhook rate-limit bypass.
//
// Messaging providers retry webhook deliveries on their own schedule, and a
// 429 makes them mark the endpoint unhealthy or drop the event. Inbound
// deliveries are already deduplicated durably at the persistence layer, so
// rate limiting them adds risk without protection. This middleware marks
// requests under the given path prefixes so the rate limiter lets them
// through.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ctxKeyRateBypass marks a request the rate limiter must not count.
const ctxKeyRateBypass = "rate.bypass"

// RateBypassForPrefixes returns middleware that exempts matching paths from
// rate limiting. Install it before the rate limiter.
func RateBypassForPrefixes(prefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				c.Set(ctxKeyRateBypass, true)
				break
			}
		}
		c.Next()
	}
}
