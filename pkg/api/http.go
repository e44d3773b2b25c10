// Package api exposes the caller-facing operations of the sync core over
// HTTP for UI and business-logic callers.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/api/handlers"
	"chatsync/pkg/engine"
	"chatsync/pkg/utils"
)

// NewRouter builds the HTTP router over one engine instance. localID is the
// identity unread counts and MarkRead default to.
func NewRouter(eng *engine.Engine, localID string) *mux.Router {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterMessages(v1, eng, localID)
	handlers.RegisterThreads(v1, eng)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{
			"status":       "ok",
			"connectivity": string(eng.Connectivity().State()),
			"sync":         eng.SyncState(),
		})
	}).Methods(http.MethodGet)
	return r
}
