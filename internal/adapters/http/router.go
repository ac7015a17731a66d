// Package http wires the gin router: the websocket endpoint, the call
// lifecycle REST surface, ICE configuration for clients, health and
// metrics.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/adapters/signal"
	"github.com/campfire-im/relay/internal/app"
	"github.com/campfire-im/relay/internal/auth"
	"github.com/campfire-im/relay/internal/config"
	"github.com/campfire-im/relay/internal/domain"
)

// Deps collects everything the router serves.
type Deps struct {
	Config   *config.Config
	Verifier auth.TokenVerifier
	Calls    *app.Calls
	Signal   *signal.Controller
}

func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	if deps.Config.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.Config.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		deps.Signal.Handle(ctx, c)
	})

	api.GET("/webrtc/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": iceServers(deps.Config)})
	})

	calls := api.Group("/calls")
	calls.Use(bearerAuth(deps.Verifier))
	calls.POST("/initiate", initiateCall(deps.Calls))
	calls.POST("/:id/accept", transitionCall(deps.Calls, "accept"))
	calls.POST("/:id/reject", transitionCall(deps.Calls, "reject"))
	calls.POST("/:id/end", endCall(deps.Calls))

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// iceServers builds the client-side RTCPeerConnection configuration
// from the configured STUN/TURN urls.
func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.STUNServers)+1)
	for _, url := range cfg.WebRTC.STUNServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	if cfg.WebRTC.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.WebRTC.TURNServer},
			Username:   cfg.WebRTC.TURNUsername,
			Credential: cfg.WebRTC.TURNCredential,
		})
	}
	return servers
}

func bearerAuth(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			if after, ok := strings.CutPrefix(h, "Bearer "); ok {
				token = after
			}
		}
		uid, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.Set("user_id", int64(uid))
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetInt64("user_id"))
}

func callID(c *gin.Context) (domain.CallID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad call id"})
		return 0, false
	}
	return domain.CallID(id), true
}

func initiateCall(calls *app.Calls) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			ConversationID int64 `json:"conversation_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing conversation_id"})
			return
		}
		call, err := calls.Initiate(c.Request.Context(), domain.ConversationID(body.ConversationID), currentUser(c))
		if err != nil {
			respondCallError(c, err)
			return
		}
		c.JSON(http.StatusCreated, call)
	}
}

func transitionCall(calls *app.Calls, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callID(c)
		if !ok {
			return
		}
		var (
			call *domain.Call
			err  error
		)
		switch action {
		case "accept":
			call, err = calls.Accept(c.Request.Context(), id, currentUser(c))
		case "reject":
			call, err = calls.Reject(c.Request.Context(), id, currentUser(c))
		}
		if err != nil {
			respondCallError(c, err)
			return
		}
		c.JSON(http.StatusOK, call)
	}
}

func endCall(calls *app.Calls) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callID(c)
		if !ok {
			return
		}
		var body struct {
			Duration *int `json:"duration"`
		}
		// Body is optional; duration defaults to computed.
		_ = c.ShouldBindJSON(&body)
		call, err := calls.End(c.Request.Context(), id, currentUser(c), body.Duration)
		if err != nil {
			respondCallError(c, err)
			return
		}
		c.JSON(http.StatusOK, call)
	}
}

func respondCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrUnknownCall):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, app.ErrNotAMember):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, app.ErrCallAlreadyActive), errors.Is(err, app.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("call endpoint")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
