package admission

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-api/internal/handler"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/service/admission"
	"github.com/jwalitptl/opd-api/pkg/httputil"
)

type Handler struct {
	admissions *admission.Service
}

func NewHandler(admissions *admission.Service) *Handler {
	return &Handler{admissions: admissions}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admissions/:id/status", h.UpdateStatus)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.UpdateAdmissionStatusRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	adm, err := h.admissions.UpdateStatus(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, adm)
}
