package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/blimpws/internal/auth"
	"github.com/danmuck/blimpws/internal/observability"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NoValidSubprotocolsBody is the 400 body sent when negotiation selects nothing.
const NoValidSubprotocolsBody = "no provided valid subprotocols"

const version = "0.1.0"

// Engine builds the HTTP surface: the upgrade route plus health and metrics.
func (s *Server) Engine(ctx context.Context, handler Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))

	upgrader := websocket.Upgrader{
		HandshakeTimeout: s.cfg.Session.HandshakeTimeout,
	}
	if origins := normalizeOrigins(s.cfg.CorsOrigins); len(origins) > 0 {
		corsCfg := cors.Config{
			AllowMethods:    []string{"GET"},
			AllowHeaders:    []string{"Origin", "Authorization", "Sec-WebSocket-Protocol"},
			AllowWebSockets: true,
			MaxAge:          12 * time.Hour,
		}
		if len(origins) == 1 && origins[0] == "*" {
			corsCfg.AllowAllOrigins = true
		} else {
			corsCfg.AllowOrigins = origins
		}
		r.Use(cors.New(corsCfg))
		// cors has already rejected disallowed origins
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET(s.cfg.Path, s.handleUpgrade(ctx, &upgrader, handler))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"uptime":       time.Since(s.started).String(),
			"component":    s.cfg.Name,
			"sessions":     s.ActiveSessions(),
			"subprotocols": subprotocol.Tokens(subprotocol.All()),
			"version":      version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) handleUpgrade(ctx context.Context, upgrader *websocket.Upgrader, handler Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		remote := c.Request.RemoteAddr
		offers := offeredTokens(c.Request.Header)
		if err := auth.CheckRequest(s.validator, c.Request); err != nil {
			observability.MarkHandshake(c, observability.HandshakeUnauthorized, offers, "")
			s.logger.Warn().Str("remote", remote).Err(err).Msg("server.handleUpgrade unauthorized")
			c.String(http.StatusUnauthorized, "unauthorized")
			return
		}

		sp, token, ok := subprotocol.Negotiate(offers)
		if !ok {
			observability.MarkHandshake(c, observability.HandshakeNoSubprotocol, offers, "")
			s.logger.Warn().
				Str("remote", remote).
				Strs("offers", offers).
				Str("policy", string(subprotocol.PolicyFirstParseable)).
				Msg("server.handleUpgrade no valid subprotocol")
			c.String(http.StatusBadRequest, NoValidSubprotocolsBody)
			return
		}

		// echo the exact winning token; Upgrader.Subprotocols stays nil so gorilla uses this header
		header := http.Header{}
		header.Set("Sec-Websocket-Protocol", token)
		conn, err := upgrader.Upgrade(c.Writer, c.Request, header)
		if err != nil {
			observability.MarkHandshake(c, observability.HandshakeUpgradeError, offers, token)
			s.logger.Warn().Str("remote", remote).Err(err).Msg("server.handleUpgrade upgrade failed")
			return
		}
		sess, err := session.New(conn, sp, s.cfg.Session)
		if err != nil {
			observability.MarkHandshake(c, observability.HandshakeUpgradeError, offers, token)
			_ = conn.Close()
			return
		}
		observability.MarkHandshake(c, observability.HandshakeAccepted, offers, token)

		// hijacked connections outlive http.Server.Shutdown, so a late upgrade is turned away here
		if !s.trackSession(sess) {
			s.logger.Info().Uint64("session", sess.ID()).Msg("server.handleUpgrade shutting down, session refused")
			_ = sess.CloseWith(websocket.CloseGoingAway, "server shutdown")
			return
		}
		s.logger.Info().
			Uint64("session", sess.ID()).
			Str("remote", sess.RemoteAddr()).
			Str("subprotocol", token).
			Str("policy", string(subprotocol.PolicyFirstParseable)).
			Msg("server.handleUpgrade accepted")

		go func() {
			defer s.untrackSession(sess)
			defer sess.Close()
			handler(ctx, sess)
		}()
	}
}

// offeredTokens joins every Sec-WebSocket-Protocol line in arrival order;
// a list split across lines is the same offer as one comma-joined line.
func offeredTokens(h http.Header) []string {
	return subprotocol.SplitOffer(strings.Join(h.Values("Sec-Websocket-Protocol"), ","))
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			return []string{"*"}
		}
		out = append(out, strings.TrimRight(origin, "/"))
	}
	return out
}
