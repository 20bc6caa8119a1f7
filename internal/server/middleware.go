package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/leaseworks/leaseworks/internal/observability/context"
)

// Caller identity arrives from the upstream auth proxy as headers. The
// engine trusts them blindly, so it must never be exposed without that
// proxy in front.
const (
	headerActorType = "X-Actor-Type"
	headerActorID   = "X-Actor-Id"

	actorTypeLandlord = "landlord"
	actorTypeTenant   = "tenant"

	ctxActorTypeKey = "actor_type"
	ctxActorIDKey   = "actor_id"
)

func (s *Server) IdentityFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorType := strings.ToLower(strings.TrimSpace(c.GetHeader(headerActorType)))
		actorID := strings.TrimSpace(c.GetHeader(headerActorID))

		if actorType != actorTypeLandlord && actorType != actorTypeTenant {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if _, err := snowflake.ParseString(actorID); err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(ctxActorTypeKey, actorType)
		c.Set(ctxActorIDKey, actorID)

		ctx := obscontext.WithActor(c.Request.Context(), actorType, actorID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func (s *Server) RequireLandlord() gin.HandlerFunc {
	return requireActorType(actorTypeLandlord)
}

func (s *Server) RequireTenant() gin.HandlerFunc {
	return requireActorType(actorTypeTenant)
}

func requireActorType(want string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxActorTypeKey) != want {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func callerID(c *gin.Context) snowflake.ID {
	id, err := snowflake.ParseString(c.GetString(ctxActorIDKey))
	if err != nil {
		return 0
	}
	return id
}
