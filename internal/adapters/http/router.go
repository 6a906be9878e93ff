package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/callsignal/internal/app/orch"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CallService is what the API drives; *orch.Call implements it.
type CallService interface {
	Status() orch.Status
	Participants() []core.ParticipantState
	SetAudioEnabled(on bool)
	SetVideoEnabled(on bool)
	SetSpeaking(on bool)
	RaiseHand(raised bool) error
	SetNick(nick string) error
	SendReaction(reaction string) error
	HangUp() error
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type handRequest struct {
	Raised *bool `json:"raised" binding:"required"`
}

type nickRequest struct {
	Nick string `json:"nick" binding:"required"`
}

type reactionRequest struct {
	Reaction string `json:"reaction" binding:"required"`
}

func SetupRouter(cfg *config.Config, call CallService) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	log.Info().Str("module", "adapters.http").Str("room", cfg.Room.Token).Msg("router setup")

	api := r.Group("/api")
	api.GET("/call", func(c *gin.Context) {
		c.JSON(http.StatusOK, call.Status())
	})
	api.GET("/call/participants", func(c *gin.Context) {
		c.JSON(http.StatusOK, call.Participants())
	})
	api.POST("/call/audio", toggle(call.SetAudioEnabled))
	api.POST("/call/video", toggle(call.SetVideoEnabled))
	api.POST("/call/speaking", toggle(call.SetSpeaking))

	api.POST("/call/hand", func(c *gin.Context) {
		var req handRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, call.RaiseHand(*req.Raised))
	})
	api.POST("/call/nick", func(c *gin.Context) {
		var req nickRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, call.SetNick(req.Nick))
	})
	api.POST("/call/reaction", func(c *gin.Context) {
		var req reactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, call.SendReaction(req.Reaction))
	})
	api.DELETE("/call", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("hang up requested")
		respond(c, call.HangUp())
	})

	return r
}

func toggle(set func(bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		set(*req.Enabled)
		c.Status(http.StatusNoContent)
	}
}

func respond(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, orch.ErrNotInCall):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
