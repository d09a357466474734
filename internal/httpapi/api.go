// Package httpapi is the REST read surface for persisted notifications. The
// realtime hub never depends on it; it shares only the token format and the
// notification store.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/issue-notify/internal/notify"
	"github.com/example/issue-notify/internal/token"
)

// NotificationLister is the store surface this API reads from.
type NotificationLister interface {
	ListByReceiver(ctx context.Context, receiverID string) ([]notify.Event, error)
}

// API serves the notification read endpoints.
type API struct {
	verifier *token.Verifier
	store    NotificationLister
}

// New builds the API around a token verifier and a notification store.
func New(verifier *token.Verifier, store NotificationLister) *API {
	return &API{verifier: verifier, store: store}
}

// Router assembles the chi routes.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/issue", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/{userId}/notification", a.getNotifications)
	})

	return r
}

// apiResponse is the envelope every tracker endpoint answers with.
type apiResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Data    any    `json:"data"`
}

func writeResponse(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// bearerToken accepts the token from the Authorization header, an authToken
// header, or an authToken query parameter, matching how tracker clients send
// it.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := r.Header.Get("authToken"); h != "" {
		return h
	}
	return r.URL.Query().Get("authToken")
}

type contextKey int

const claimsKey contextKey = iota

func claimsFrom(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsKey).(*token.Claims)
	return claims
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeResponse(w, http.StatusBadRequest, apiResponse{
				Error: true, Message: "AuthorizationToken Is Missing In Request", Status: http.StatusBadRequest,
			})
			return
		}
		claims, err := a.verifier.Verify(tokenString)
		if err != nil {
			slog.Info("Rejected API request", "error", err)
			writeResponse(w, http.StatusUnauthorized, apiResponse{
				Error: true, Message: "Invalid Or Expired AuthorizationKey", Status: http.StatusUnauthorized,
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func (a *API) getNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	// Notifications are private to their receiver.
	claims := claimsFrom(r.Context())
	if claims == nil || claims.UserID != userID {
		writeResponse(w, http.StatusForbidden, apiResponse{
			Error: true, Message: "You Are Not Authorized To Access These Notifications", Status: http.StatusForbidden,
		})
		return
	}

	events, err := a.store.ListByReceiver(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list notifications", "user", userID, "error", err)
		writeResponse(w, http.StatusInternalServerError, apiResponse{
			Error: true, Message: "Failed To Find Notifications", Status: http.StatusInternalServerError,
		})
		return
	}
	if len(events) == 0 {
		writeResponse(w, http.StatusNotFound, apiResponse{
			Error: true, Message: "No Notification Found", Status: http.StatusNotFound,
		})
		return
	}
	writeResponse(w, http.StatusOK, apiResponse{
		Message: "All Notifications Listed", Status: http.StatusOK, Data: events,
	})
}
