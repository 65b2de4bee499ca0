// Package routes exposes the local HTTP surface: status and peer snapshots,
// imperative actions for the host UI, and a server-sent event feed.
package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/wpamesh/sonny-mesh/pkg/bridge"
	"github.com/wpamesh/sonny-mesh/pkg/models"
	"github.com/wpamesh/sonny-mesh/pkg/sonny"
)

type WebRouter struct {
	core *sonny.Service
	log  *slog.Logger
}

func NewWebRouter(core *sonny.Service, log *slog.Logger) *WebRouter {
	if log == nil {
		log = slog.Default()
	}
	return &WebRouter{core: core, log: log.With("component", "http")}
}

// Initialize starts serving on listenAddr. Blocks until the listener fails.
func (wr *WebRouter) Initialize(listenAddr string) error {
	return http.ListenAndServe(listenAddr, wr.Handler())
}

// Handler builds the full route table.
func (wr *WebRouter) Handler() http.Handler {
	myRouter := mux.NewRouter().StrictSlash(true)

	myRouter.HandleFunc("/api/status", wr.getStatus).Methods("GET")
	myRouter.HandleFunc("/api/peers", wr.getPeers).Methods("GET")
	myRouter.HandleFunc("/api/triggers", wr.getTriggers).Methods("GET")
	myRouter.HandleFunc("/api/trust/{user}", wr.getTrustProfile).Methods("GET")
	myRouter.HandleFunc("/api/messages", wr.sendMessage).Methods("POST")
	myRouter.HandleFunc("/api/broadcast", wr.broadcastStatus).Methods("POST")
	myRouter.HandleFunc("/api/emergency", wr.triggerEmergency).Methods("POST")
	myRouter.HandleFunc("/api/check-in", wr.performCheckIn).Methods("POST")
	myRouter.HandleFunc("/api/events", wr.eventsSSE).Methods("GET")

	myRouter.Use(handlers.ProxyHeaders)
	myRouter.Use(RequestLogger)
	h := handlers.RecoveryHandler()
	return h(myRouter)
}

func RequestLogger(h http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		slog.Info("endpoint hit", "method", r.Method, "path", r.URL.Path, "remote_host", r.RemoteAddr, "user_agent", r.UserAgent())
		h.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (wr *WebRouter) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, wr.core.Status())
}

func (wr *WebRouter) getPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"peers": wr.core.Peers()})
}

func (wr *WebRouter) getTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"triggers": wr.core.Triggers()})
}

func (wr *WebRouter) getTrustProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if userID == "" {
		http.Error(w, "User ID required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, wr.core.GetTrustProfile(userID))
}

type SendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (wr *WebRouter) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.RecipientID == "" || req.Content == "" {
		http.Error(w, "Recipient and content required", http.StatusBadRequest)
		return
	}

	err := wr.core.SendFamilyMessage(r.Context(), req.RecipientID, req.Content)
	switch {
	case errors.Is(err, bridge.ErrConsentDenied):
		writeJSON(w, http.StatusForbidden, ActionResponse{Success: false, Message: err.Error()})
	case err != nil:
		wr.log.Error("message send failed", "recipient", req.RecipientID, "error", err)
		writeJSON(w, http.StatusBadGateway, ActionResponse{Success: false, Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, ActionResponse{Success: true})
	}
}

type BroadcastRequest struct {
	Status string `json:"status"`
}

func (wr *WebRouter) broadcastStatus(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := wr.core.BroadcastFamilyStatus(r.Context(), req.Status); err != nil {
		wr.log.Error("status broadcast failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ActionResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true})
}

type EmergencyRequest struct {
	Details string `json:"details"`
}

func (wr *WebRouter) triggerEmergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := wr.core.TriggerEmergency(r.Context(), req.Details); err != nil {
		wr.log.Error("emergency trigger failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ActionResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true})
}

func (wr *WebRouter) performCheckIn(w http.ResponseWriter, r *http.Request) {
	var loc models.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := wr.core.PerformCheckIn(loc); err != nil {
		wr.log.Error("check-in failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ActionResponse{Success: false, Message: err.Error()})
		return
	}
	wr.core.EvaluateLocation(loc)
	writeJSON(w, http.StatusOK, ActionResponse{Success: true})
}
