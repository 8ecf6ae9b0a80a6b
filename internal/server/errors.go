package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/logging"
)

const ownerKey = "owner"

type errorBody struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidIdentifier, model.KindInvalidRequest:
		return http.StatusBadRequest
	case model.KindMissingCredential:
		return http.StatusPreconditionFailed
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)

	event := logging.Warn()
	if status >= http.StatusInternalServerError {
		event = logging.Error()
	}
	event.Err(err).Str("path", c.FullPath()).Str("kind", string(kind)).Msg("request failed")

	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Kind: kind, Message: model.MessageOf(err)}})
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderOwnerID))
		if id == "" {
			writeError(c, model.InvalidRequest("%s header is required", HeaderOwnerID))
			return
		}
		c.Set(ownerKey, id)
		c.Next()
	}
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}
