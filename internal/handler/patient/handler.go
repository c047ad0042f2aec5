package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-api/internal/handler"
	"github.com/jwalitptl/opd-api/internal/middleware"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/service/patient"
	"github.com/jwalitptl/opd-api/pkg/httputil"
)

type Handler struct {
	patients *patient.Service
}

func NewHandler(patients *patient.Service) *Handler {
	return &Handler{patients: patients}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	records := r.Group("/patient-records")
	{
		records.POST("/:id/notes", h.AddProgressNote)
		records.GET("/:id/notes", middleware.RequireRole(model.RecordReaders...), h.ListProgressNotes)
	}
}

func (h *Handler) AddProgressNote(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.AddProgressNoteRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	note, err := h.patients.AddProgressNote(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, note)
}

func (h *Handler) ListProgressNotes(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	notes, err := h.patients.ListProgressNotes(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, notes)
}
