package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/terralot/terralot/internal/platform/httpx"
	"github.com/terralot/terralot/internal/shared"
)

// Handler manages catalog HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/cursor", h.cursor)
	r.Get("/{id}", h.show)
	r.Post("/", h.create)
}

type lotResponse struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"`
	Description   string     `json:"description,omitempty"`
	PriceCents    int64      `json:"price_cents"`
	PriceDisplay  string     `json:"price_display"`
	Status        string     `json:"status"`
	HeldByPartner string     `json:"held_by_partner_id,omitempty"`
	HeldForBuyer  string     `json:"held_for_buyer_id,omitempty"`
	OptionTakenAt *time.Time `json:"option_taken_at,omitempty"`
}

func (h *Handler) toResponse(lot Lot) lotResponse {
	return lotResponse{
		ID:            lot.ID,
		Reference:     lot.Reference,
		Description:   lot.Description,
		PriceCents:    lot.PriceCents,
		PriceDisplay:  h.service.DisplayPrice(lot.PriceCents),
		Status:        string(lot.Status),
		HeldByPartner: lot.HeldByPartner,
		HeldForBuyer:  lot.HeldForBuyer,
		OptionTakenAt: lot.OptionTakenAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	filter := ListFilter{
		Status:  LotStatus(r.URL.Query().Get("status")),
		Page:    page,
		PerPage: perPage,
	}

	lots, pagination, err := h.service.ListLots(r.Context(), filter)
	if err != nil {
		if errors.Is(err, ErrInvalidLot) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("list lots", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	items := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		items = append(items, h.toResponse(lot))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"lots":       items,
		"pagination": pagination,
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrLotNotFound) {
			httpx.ProblemCode(w, http.StatusNotFound, "NotFound", "lot not found")
			return
		}
		h.logger.Error("get lot", slog.String("lot_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(lot))
}

func (h *Handler) cursor(w http.ResponseWriter, r *http.Request) {
	at, err := h.service.Cursor(r.Context())
	if err != nil {
		h.logger.Error("catalog cursor", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := map[string]any{"changed_at": nil}
	if !at.IsZero() {
		resp["changed_at"] = at
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type createLotRequest struct {
	Reference   string `json:"reference" validate:"required,max=64"`
	Description string `json:"description" validate:"max=2048"`
	PriceCents  int64  `json:"price_cents" validate:"gte=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.IsAdmin() {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	var req createLotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lot, err := h.service.CreateLot(r.Context(), CreateLotInput{
		Reference:   req.Reference,
		Description: req.Description,
		PriceCents:  req.PriceCents,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateReference):
			httpx.Problem(w, http.StatusConflict, "Duplicate", "lot reference already exists")
		case errors.Is(err, ErrInvalidLot):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			h.logger.Error("create lot", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(lot))
}
