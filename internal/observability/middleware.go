package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Keys the upgrade route leaves on the gin context for the request logger.
const (
	ContextHandshakeKey   = "blimpws.handshake"
	ContextOffersKey      = "blimpws.offers"
	ContextSubprotocolKey = "blimpws.subprotocol"
)

// MarkHandshake records a handshake outcome in metrics and on the request
// context. token is empty unless negotiation selected one.
func MarkHandshake(c *gin.Context, outcome string, offers []string, token string) {
	RecordHandshake(outcome, token)
	c.Set(ContextHandshakeKey, outcome)
	c.Set(ContextOffersKey, offers)
	if token != "" {
		c.Set(ContextSubprotocolKey, token)
	}
}

// RequestLogger logs one line per request. Upgrade attempts are logged as
// ws_handshake with the offered tokens and the outcome.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := requestStatus(c)
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", requestPath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP())

		outcome := c.GetString(ContextHandshakeKey)
		if outcome == "" {
			event.Msg("http_request")
			return
		}
		event.
			Str("handshake", outcome).
			Strs("offers", c.GetStringSlice(ContextOffersKey)).
			Str("subprotocol", c.GetString(ContextSubprotocolKey)).
			Msg("ws_handshake")
	}
}

func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, requestPath(c), requestStatus(c), time.Since(start))
	}
}

// requestStatus reports 101 for accepted upgrades; the hijacked writer still
// holds gin's default status.
func requestStatus(c *gin.Context) int {
	if c.GetString(ContextHandshakeKey) == HandshakeAccepted {
		return http.StatusSwitchingProtocols
	}
	return c.Writer.Status()
}

func requestPath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}
