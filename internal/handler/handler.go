// Package handler holds helpers shared by the HTTP handlers.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-api/internal/middleware"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/pkg/httputil"
)

// ParamID parses a positive int64 path parameter, answering 400 when it
// is malformed.
func ParamID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondWithStatus(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// Actor returns the authenticated staff member, answering 401 when the
// request carries none.
func Actor(c *gin.Context) (model.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		httputil.RespondWithStatus(c, http.StatusUnauthorized, "unauthenticated")
		return model.Actor{}, false
	}
	return actor, true
}

// BindJSON decodes the body, answering 400 on malformed JSON. Field rules are
// enforced by the services.
func BindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		httputil.RespondWithStatus(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
