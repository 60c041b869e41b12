package reservation

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/terralot/terralot/internal/catalog"
	"github.com/terralot/terralot/internal/platform/httpx"
	"github.com/terralot/terralot/internal/shared"
)

// Handler manages reservation HTTP endpoints.
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
	r.Post("/", h.place)
	r.Post("/{id}/cancel", h.cancel)
}

// MountLotRoutes registers the lot status override endpoint.
func (h *Handler) MountLotRoutes(r chi.Router) {
	r.Post("/{id}/status", h.forceStatus)
}

type optionResponse struct {
	ID        string    `json:"id"`
	LotID     string    `json:"lot_id"`
	PartnerID string    `json:"partner_id"`
	BuyerID   string    `json:"buyer_id,omitempty"`
	Status    string    `json:"status"`
	PlacedAt  time.Time `json:"placed_at"`
	ExpiresAt time.Time `json:"expires_at"`
	PlacedBy  string    `json:"placed_by"`
}

func toOptionResponse(o Option) optionResponse {
	return optionResponse{
		ID:        o.ID,
		LotID:     o.LotID,
		PartnerID: o.PartnerID,
		BuyerID:   o.BuyerID,
		Status:    string(o.Status),
		PlacedAt:  o.PlacedAt,
		ExpiresAt: o.ExpiresAt,
		PlacedBy:  string(o.PlacedBy),
	}
}

// respondDomainError maps reservation errors onto problem documents with a
// stable code clients can branch on.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrLotNotAvailable):
		httpx.ProblemCode(w, http.StatusConflict, "LotNotAvailable", "lot is not currently available")
	case errors.Is(err, ErrLotAlreadyHeld):
		httpx.ProblemCode(w, http.StatusConflict, "LotAlreadyHeld", "another active option holds this lot")
	case errors.Is(err, ErrQuotaExceeded):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "QuotaExceeded", "partner is at its simultaneous option cap")
	case errors.Is(err, ErrBuyerNotOwned):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "BuyerNotOwned", "buyer does not belong to the requesting partner")
	case errors.Is(err, ErrInvalidTransition):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, "InvalidTransition", "requested lot status change is not allowed")
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrLotNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, "NotFound", "unknown lot or option")
	default:
		h.logger.Error("reservation", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

type placeRequest struct {
	LotID        string `json:"lot_id" validate:"required,uuid4"`
	PartnerID    string `json:"partner_id" validate:"omitempty,uuid4"`
	BuyerID      string `json:"buyer_id" validate:"omitempty,uuid4"`
	DurationDays int    `json:"duration_days" validate:"gte=0,lte=365"`
}

func (h *Handler) place(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	var req placeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := PlaceInput{
		LotID:                req.LotID,
		PartnerID:            req.PartnerID,
		BuyerID:              req.BuyerID,
		RequestedBy:          actor.Kind,
		DurationOverrideDays: req.DurationDays,
	}
	if actor.Kind == shared.ActorKindPartner {
		// Partners always place for themselves.
		input.PartnerID = actor.PartnerID
	}
	if input.PartnerID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "partner_id is required for admin placements")
		return
	}

	option, err := h.service.PlaceOption(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOptionResponse(option))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	optionID := chi.URLParam(r, "id")
	if actor.Kind == shared.ActorKindPartner {
		option, err := h.service.GetOption(r.Context(), optionID)
		if err != nil {
			h.respondDomainError(w, err)
			return
		}
		if option.PartnerID != actor.PartnerID {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
	}

	if err := h.service.CancelOption(r.Context(), optionID, actor); err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}

	partnerID := r.URL.Query().Get("partner_id")
	if actor.Kind == shared.ActorKindPartner {
		// Partners only ever see their own options.
		partnerID = actor.PartnerID
	}

	options, err := h.service.ListActiveOptions(r.Context(), partnerID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	items := make([]optionResponse, 0, len(options))
	for _, option := range options {
		items = append(items, toOptionResponse(option))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"options": items})
}

type forceStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) forceStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok || !actor.IsAdmin() {
		httpx.RespondError(w, httpx.ErrForbidden)
		return
	}

	var req forceStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lotID := chi.URLParam(r, "id")
	if err := h.service.ForceLotStatus(r.Context(), lotID, catalog.LotStatus(req.Status), actor); err != nil {
		h.respondDomainError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
