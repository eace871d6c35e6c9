// Package httpapi serves the bot's status surface: health, metrics and the live
// session snapshot.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foobles/discord-bot/internal/gateway"
	"github.com/foobles/discord-bot/internal/protocol"
)

type Session interface {
	Snapshot() gateway.Snapshot
	UpdatePresence(ctx context.Context, p protocol.UpdatePresence) error
}

type Server struct {
	Session  Session
	Gatherer prometheus.Gatherer
	// Token guards POST endpoints. Empty disables them.
	Token string
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/readyz", s.handleReady)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Post("/presence", s.withAuth(s.handlePresence))
	})
	return r
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || s.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	snap := s.Session.Snapshot()
	status := http.StatusOK
	if !snap.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"connected": snap.Connected, "phase": snap.Phase})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

type presenceRequest struct {
	Status protocol.Status `json:"status"`
	AFK    bool            `json:"afk"`
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}
	if err := s.Session.UpdatePresence(r.Context(), protocol.UpdatePresence{Status: req.Status, AFK: req.AFK, Activities: []any{}}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// bearerToken reads the credential of an "Authorization: Bearer <token>" header. The
// scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeJSON answers with v. Status payloads change every heartbeat, so nothing is cached.
func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
