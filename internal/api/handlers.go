package api

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codesync/backend/internal/db"
	"github.com/codesync/backend/internal/metrics"
	"github.com/codesync/backend/internal/ratelimit"
	"github.com/codesync/backend/internal/session"
	"github.com/codesync/backend/internal/ws"
)

const (
	createsPerSecond = 1
	createBurst      = 10
)

type API struct {
	hub      *ws.Hub
	registry *session.Registry
	database *db.Database
	creates  *ratelimit.ClientLimiters
}

func New(hub *ws.Hub, registry *session.Registry, database *db.Database) *API {
	return &API{
		hub:      hub,
		registry: registry,
		database: database,
		creates:  ratelimit.NewClientLimiters(createsPerSecond, createBurst),
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"live_sessions":  a.registry.Len(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_sessions"] = dbStats["session_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Session handlers

type SessionResponse struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type SessionSummary struct {
	SessionID   string    `json:"sessionId"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ActiveUsers int       `json:"active_users"`
}

func (a *API) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !a.creates.Get(remoteIP(r)).Allow() {
		errorResponse(w, http.StatusTooManyRequests, "Too many sessions created")
		return
	}

	snap := a.registry.Create()
	metrics.SessionsCreated.Inc()

	jsonResponse(w, http.StatusCreated, map[string]string{"sessionId": snap.ID})
}

func (a *API) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Extract session ID from path: /api/sessions/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	sessionID := strings.TrimSuffix(path, "/")

	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	snap, err := a.registry.Get(sessionID)
	if err != nil {
		errorResponse(w, http.StatusNotFound, "Session not found")
		return
	}

	jsonResponse(w, http.StatusOK, SessionResponse{
		SessionID: snap.ID,
		Code:      snap.Code,
		Language:  snap.Language,
	})
}

func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if a.database == nil {
		errorResponse(w, http.StatusServiceUnavailable, "Session listing requires persistence")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	records, err := a.database.ListSessions(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]SessionSummary, len(records))
	for i, rec := range records {
		response[i] = SessionSummary{
			SessionID:   rec.ID,
			Language:    rec.Language,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
			ActiveUsers: activeRooms[rec.ID],
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": response,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) SessionsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")

	// /api/sessions or /api/sessions/
	if path == "" || path == "/" {
		switch r.Method {
		case http.MethodGet:
			a.ListSessionsHandler(w, r)
		case http.MethodPost:
			a.CreateSessionHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	// /api/sessions/{id}
	a.GetSessionHandler(w, r)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
