package visit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-api/internal/handler"
	"github.com/jwalitptl/opd-api/internal/middleware"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/service/consultation"
	"github.com/jwalitptl/opd-api/internal/service/encounter"
	"github.com/jwalitptl/opd-api/pkg/httputil"
)

type Handler struct {
	encounters    *encounter.Service
	consultations *consultation.Service
}

func NewHandler(encounters *encounter.Service, consultations *consultation.Service) *Handler {
	return &Handler{
		encounters:    encounters,
		consultations: consultations,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	visits := r.Group("/visits")
	{
		visits.POST("", h.RegisterVisit)
		visits.GET("", middleware.RequireRole(model.RecordReaders...), h.ListQueue)
		visits.GET("/:id", middleware.RequireRole(model.RecordReaders...), h.GetVisit)
		visits.POST("/:id/start", h.StartConsultation)
		visits.POST("/:id/complete", h.CompleteConsultation)
		visits.POST("/:id/cancel", h.CancelVisit)
	}
}

func (h *Handler) RegisterVisit(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	var req model.RegisterVisitRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	visit, err := h.encounters.Register(c.Request.Context(), actor, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, visit)
}

func (h *Handler) StartConsultation(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	visit, err := h.encounters.Start(c.Request.Context(), actor, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, visit)
}

func (h *Handler) CompleteConsultation(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.CompleteConsultationRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.consultations.CompleteConsultation(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, result)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelVisit(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 && !handler.BindJSON(c, &req) {
		return
	}

	if err := h.encounters.Cancel(c.Request.Context(), actor, id, req.Reason); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, gin.H{"id": id, "visit_status": model.VisitStatusCancelled})
}

func (h *Handler) GetVisit(c *gin.Context) {
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	details, err := h.encounters.GetDetails(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, details)
}

// ListQueue returns the waiting and in-progress visits of a day. date is
// YYYY-MM-DD and defaults to today in the clinic timezone.
func (h *Handler) ListQueue(c *gin.Context) {
	var doctorID *int64
	if raw := c.Query("doctor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httputil.RespondWithStatus(c, http.StatusBadRequest, "invalid doctor_id")
			return
		}
		doctorID = &id
	}

	var day time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.RespondWithStatus(c, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
			return
		}
		day = parsed
	}

	queue, err := h.encounters.ListQueue(c.Request.Context(), doctorID, day)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, queue)
}
