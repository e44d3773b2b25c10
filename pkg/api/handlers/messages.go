package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatsync/pkg/engine"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
)

// RegisterMessages registers HTTP handlers for message-related endpoints.
func RegisterMessages(r *mux.Router, eng *engine.Engine, localID string) {
	h := &messageHandlers{eng: eng, localID: localID}
	r.HandleFunc("/threads/{threadID}/messages", h.send).Methods(http.MethodPost)
	r.HandleFunc("/threads/{threadID}/messages", h.load).Methods(http.MethodGet)
	r.HandleFunc("/threads/{threadID}/read", h.markRead).Methods(http.MethodPost)
}

type messageHandlers struct {
	eng     *engine.Engine
	localID string
}

type sendRequest struct {
	AuthorID      string `json:"author_id"`
	AuthorName    string `json:"author_name"`
	AuthorContact string `json:"author_contact"`
	Content       string `json:"content"`
	Kind          string `json:"kind"`
}

func (h *messageHandlers) send(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	kind, err := models.ParseKind(req.Kind)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	author := engine.Author{ID: req.AuthorID, Name: req.AuthorName, Contact: req.AuthorContact}
	if author.ID == "" {
		author.ID = h.localID
	}
	msg, err := h.eng.Send(threadID, author, req.Content, kind)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrStorageFault) {
			status = http.StatusServiceUnavailable
		}
		utils.JSONError(w, status, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, msg)
}

func (h *messageHandlers) load(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	msgs, err := h.eng.LoadThread(threadID)
	if err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msgs)
}

type markReadRequest struct {
	ReaderID string `json:"reader_id"`
}

func (h *messageHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadID"]
	var req markReadRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ReaderID == "" {
		req.ReaderID = h.localID
	}
	n, err := h.eng.MarkRead(threadID, req.ReaderID)
	if err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"updated": n})
}
