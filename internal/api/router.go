// Package api serves a small read-only HTTP API over the running
// sessions and the trade ledger.
package api

import (
	"encoding/json"
	"net/http"

	"trendtrader/internal/model"
)

// Group is one order group started by this process.
type Group struct {
	GroupID     string `json:"group_id"`
	Instrument  string `json:"instrument"`
	StrategyRef string `json:"strategy_ref"`
}

// NewRouter sets up the API routes:
//
//	GET /api/v1/health
//	GET /api/v1/groups
//	GET /api/v1/trades?group=<id>
func NewRouter(groups []Group, trades model.TradeReader) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/groups", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, groups)
	})

	mux.HandleFunc("/api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		group := r.URL.Query().Get("group")
		if group == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group is required"})
			return
		}
		recs, err := trades.Trades(r.Context(), group)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if recs == nil {
			recs = []model.TradeRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
