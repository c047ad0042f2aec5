package payment

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/opd-api/internal/handler"
	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/pkg/httputil"
)

type Handler struct {
	billing *billing.Service
}

func NewHandler(billingSvc *billing.Service) *Handler {
	return &Handler{billing: billingSvc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/:id/pay", h.MarkPaid)
}

// MarkPaid settles a pending ledger entry and returns the receipt with the
// change due.
func (h *Handler) MarkPaid(c *gin.Context) {
	actor, ok := handler.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.MarkPaidRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	receipt, err := h.billing.MarkPaid(c.Request.Context(), actor, id, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, receipt)
}
