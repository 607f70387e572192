package inventory

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockledger/backoffice/internal/platform/httpx"
	"github.com/stockledger/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for the stock views.
type Handler struct {
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listInventory)
	r.Get("/report", h.report)
	r.Get("/drift", h.drift)
	r.Get("/products/{id}/trace", h.trace)
	r.Put("/products/{id}/min-stock", h.updateMinStock)
	r.Post("/snapshots", h.addSnapshot)
	r.Post("/snapshots/seed", h.seedBaseline)
}

func stockFilterFromRequest(r *http.Request) StockFilter {
	q := r.URL.Query()
	return StockFilter{
		Search:  q.Get("search"),
		Bucket:  ParseBucket(q.Get("status")),
		Page:    httpx.QueryInt(r, "page", 1),
		PerPage: httpx.QueryInt(r, "per_page", shared.DefaultPerPage),
	}
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	items, page, err := h.service.ListInventory(r.Context(), stockFilterFromRequest(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	from, err := httpx.QueryDate(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.QueryDate(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, page, err := h.service.Report(r.Context(), stockFilterFromRequest(r), from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows, "pagination": page})
}

func (h *Handler) trace(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	trace, err := h.service.Trace(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if trace == nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, trace)
}

type minStockRequest struct {
	MinStock decimal.Decimal `json:"min_stock"`
}

func (h *Handler) updateMinStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req minStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	th, err := h.service.UpdateMinStock(r.Context(), id, req.MinStock, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, th)
}

type snapshotRequest struct {
	ProductID  int64           `json:"product_id" validate:"required"`
	SnapshotAt time.Time       `json:"snapshot_at" validate:"required"`
	OnHand     decimal.Decimal `json:"on_hand"`
	RefType    string          `json:"ref_type" validate:"required,max=32"`
	RefID      int64           `json:"ref_id"`
}

func (h *Handler) addSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.AddSnapshotIfNotExists(r.Context(), req.ProductID, req.SnapshotAt, req.OnHand, req.RefType, req.RefID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{"created": created})
}

type seedRequest struct {
	BaselineAt *time.Time `json:"baseline_at"`
}

func (h *Handler) seedBaseline(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	n, err := h.service.SeedBaseline(r.Context(), req.BaselineAt, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"inserted": n})
}

func (h *Handler) drift(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Drift(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}
