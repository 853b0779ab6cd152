package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/titan-mmo/titan/internal/titanerr"
)

// AuthHandler exposes the login/logout/ticket surface a client calls
// before it ever opens a websocket or gRPC stream — grounded on the
// teacher's chi-routed LPHandler, generalized from one long-polling route
// to the small REST surface spec.md §4.6 describes.
type AuthHandler struct {
	providers *providerSet
	sessions  *SessionStore
	tickets   *Tickets
}

func NewAuthHandler(providers *providerSet, sessions *SessionStore, tickets *Tickets) *AuthHandler {
	return &AuthHandler{providers: providers, sessions: sessions, tickets: tickets}
}

// Routes mounts the auth surface onto r.
func (h *AuthHandler) Routes(r chi.Router) {
	r.Get("/auth/providers", h.listProviders)
	r.Post("/auth/login", h.login)
	r.Post("/auth/logout", h.logout)
	r.Post("/auth/logout-all", h.logoutAll)
	r.Post("/auth/connection-ticket", h.connectionTicket)
}

func (h *AuthHandler) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.providers.names()})
}

type loginRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, titanerr.New(titanerr.InvalidInput, "gateway: malformed login body"))
		return
	}
	provider, err := h.providers.resolve(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}
	principal, err := provider.Validate(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := h.sessions.Create(r.Context(), principal, provider.Name())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt.Format(rfc3339),
	})
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, titanerr.New(titanerr.InvalidInput, "gateway: malformed logout body"))
		return
	}
	if err := h.sessions.Logout(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AuthHandler) logoutAll(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := h.sessions.LogoutAll(r.Context(), session.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

func (h *AuthHandler) connectionTicket(w http.ResponseWriter, r *http.Request) {
	session, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ticketID, err := h.tickets.Issue(r.Context(), session.principal())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticketID})
}

// authenticate resolves the bearer session ID from the Authorization
// header. On failure it has already written the response.
func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request) (SessionRecord, bool) {
	sessionID := bearerToken(r)
	if sessionID == "" {
		writeError(w, titanerr.New(titanerr.Unauthorized, "gateway: missing bearer session"))
		return SessionRecord{}, false
	}
	session, err := h.sessions.Resolve(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return SessionRecord{}, false
	}
	return session, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch titanerr.KindOf(err) {
	case titanerr.InvalidInput:
		status = http.StatusBadRequest
	case titanerr.NotFound:
		status = http.StatusNotFound
	case titanerr.Conflict:
		status = http.StatusConflict
	case titanerr.Unauthorized:
		status = http.StatusUnauthorized
	case titanerr.Forbidden:
		status = http.StatusForbidden
	case titanerr.RateLimited:
		status = http.StatusTooManyRequests
	case titanerr.Timeout:
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
