package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// GetPrincipal returns the authenticated caller, or nil.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}

// Authenticate resolves the caller from a Bearer token or X-API-Key header.
func (m *Manager) Authenticate(r *http.Request) (*Principal, error) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		claims, err := m.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return nil, err
		}
		return &Principal{Subject: claims.Subject, Role: claims.Role, Method: "jwt"}, nil
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		if err := m.ValidateAPIKey(key); err != nil {
			return nil, err
		}
		return &Principal{Subject: "api-key", Role: RoleAdmin, Method: "api_key"}, nil
	}
	return nil, ErrInvalidAPIKey
}

// Middleware rejects unauthenticated requests, and mutating requests from
// read-only principals. Paths in public are served without credentials.
// When auth is disabled every request runs as an admin.
func (m *Manager) Middleware(public ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok || !m.enabled {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), &Principal{Subject: "anonymous", Role: RoleAdmin})))
				return
			}
			p, err := m.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if r.Method != http.MethodGet && r.Method != http.MethodHead && !p.CanWrite() {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// HandleToken exchanges an API key for a JWT: POST /api/v1/auth/token.
func (m *Manager) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := m.ValidateAPIKey(r.Header.Get("X-API-Key")); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Subject string `json:"subject"`
		Role    string `json:"role"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Subject == "" {
		req.Subject = "api-key"
	}
	if req.Role == "" {
		req.Role = RoleAdmin
	}
	token, err := m.GenerateToken(req.Subject, req.Role, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"token":      token,
		"expires_in": int64(m.tokenTTL.Seconds()),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
