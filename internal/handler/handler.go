package handler

import (
	"net/http"

	"merchantops/internal/apperror"
	"merchantops/internal/logger"
	"merchantops/internal/middleware"
	"merchantops/internal/service"
	"merchantops/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// respondError maps service errors onto status codes. Messages of errors that
// are not user facing are replaced and only logged.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status := apperror.HTTPStatus(err)
	msg := err.Error()
	if !apperror.IsUserFacing(err) {
		l := logger.From(c.Request.Context(), log)
		l.Error().Err(err).
			Str("route", c.FullPath()).
			Msg("request failed")
		msg = http.StatusText(status)
	}
	_ = c.Error(err)
	c.JSON(status, response.Error(status, msg))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
}

func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{ID: middleware.ActorID(c), Label: middleware.ActorLabel(c)}
}

// paramUUID parses a path parameter, writing a 400 when it is malformed.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
