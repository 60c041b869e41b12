package partners

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/terralot/terralot/internal/platform/httpx"
	"github.com/terralot/terralot/internal/shared"
)

// ActorMiddleware resolves the acting identity from request headers.
// Admin requests carry X-Admin-Token; partner requests carry X-Partner-ID
// plus X-Api-Key. Requests without either are rejected.
type ActorMiddleware struct {
	logger     *slog.Logger
	service    *Service
	adminToken string
}

// NewActorMiddleware constructs the middleware.
func NewActorMiddleware(logger *slog.Logger, service *Service, adminToken string) *ActorMiddleware {
	return &ActorMiddleware{logger: logger, service: service, adminToken: adminToken}
}

// RequireActor authenticates the request and stores the actor on the context.
func (m *ActorMiddleware) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get("X-Admin-Token"); token != "" {
			if subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) != 1 {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			ctx := shared.ContextWithActor(r.Context(), shared.Actor{Kind: shared.ActorKindAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		partnerID := r.Header.Get("X-Partner-ID")
		apiKey := r.Header.Get("X-Api-Key")
		if partnerID == "" || apiKey == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		partner, err := m.service.Authenticate(r.Context(), partnerID, apiKey)
		if err != nil {
			if !errors.Is(err, ErrInvalidAPIKey) {
				m.logger.Error("partner authentication", slog.Any("error", err))
			}
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{
			Kind:      shared.ActorKindPartner,
			PartnerID: partner.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects non-admin actors. Must run after RequireActor.
func (m *ActorMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := shared.ActorFromContext(r.Context())
		if !ok || !actor.IsAdmin() {
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
