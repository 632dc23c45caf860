package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/querydesk/querydesk/internal/audit"
)

type statsResponse struct {
	Counters         map[string]int64   `json:"counters"`
	AverageLatencyMs map[string]float64 `json:"average_latency_ms"`
	Audit            *audit.Stats       `json:"audit,omitempty"`
}

func handleAdminStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sink == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "STATS_NOT_CONFIGURED", "metrics sink is not configured", false, nil)
		return
	}
	response := statsResponse{
		Counters:         deps.Sink.Counters(),
		AverageLatencyMs: deps.Sink.Latencies(),
	}
	if deps.Audit != nil {
		stats, err := deps.Audit.Stats(r.Context())
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to load audit stats", true, map[string]any{"details": err.Error()})
			return
		}
		response.Audit = &stats
	}
	writeJSON(w, http.StatusOK, response)
}

func handleAdminAudit(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit log is not configured", false, nil)
		return
	}

	limit := audit.DefaultRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = audit.ClampLimit(parsed)
	}

	entries, err := deps.Audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to load audit entries", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit})
}
