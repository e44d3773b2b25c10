package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/engine"
	"chatsync/pkg/models"
	"chatsync/pkg/registry"
	"chatsync/pkg/utils"
)

// RegisterThreads registers HTTP handlers for thread directory, selection
// and presence endpoints.
func RegisterThreads(r *mux.Router, eng *engine.Engine) {
	h := &threadHandlers{eng: eng}
	r.HandleFunc("/threads", h.list).Methods(http.MethodGet)
	r.HandleFunc("/threads", h.add).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}/unread", h.unread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/presence", h.presence).Methods(http.MethodPost)
	r.HandleFunc("/selection", h.currentSelection).Methods(http.MethodGet)
	r.HandleFunc("/selection", h.selectThread).Methods(http.MethodPut)
}

type threadHandlers struct {
	eng *engine.Engine
}

func (h *threadHandlers) list(w http.ResponseWriter, r *http.Request) {
	var f registry.Filter
	if c := r.URL.Query().Get("category"); c != "" {
		cat, err := models.ParseCategory(c)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Category = cat
	}
	f.Query = r.URL.Query().Get("q")
	_ = utils.JSONWrite(w, http.StatusOK, h.eng.Threads(f))
}

func (h *threadHandlers) add(w http.ResponseWriter, r *http.Request) {
	var th models.Thread
	if err := json.NewDecoder(r.Body).Decode(&th); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if th.ID == "" {
		th.ID = utils.NewThreadID()
	}
	if err := h.eng.AddThread(th); err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, th)
}

func (h *threadHandlers) unread(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": h.eng.UnreadCount(threadID)})
}

type presenceRequest struct {
	Presence   string `json:"presence"`
	LastSeenAt int64  `json:"last_seen_at"`
}

func (h *threadHandlers) presence(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req presenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := models.ParsePresence(req.Presence)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.eng.ApplyPresence(threadID, p, req.LastSeenAt); err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type selectionRequest struct {
	ThreadID string `json:"thread_id"`
}

func (h *threadHandlers) selectThread(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	h.eng.Select(req.ThreadID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *threadHandlers) currentSelection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eng.CurrentSelection()
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"thread_id": id, "selected": ok})
}
