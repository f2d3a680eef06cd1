package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/packing_backend/utils"
)

const (
	HeaderActor         = "x-actor"
	HeaderCorrelationId = "x-correlation-id"
)

// SessionMiddleware puts the calling actor and a correlation id on the request
// context. Authentication happens at the gateway; the actor header is trusted.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = utils.SetActorInContext(ctx, actor)
		}
		cid := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, cid)
		c.Header(HeaderCorrelationId, cid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
