package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/recorder"
)

type healthResponse struct {
	Status    string `json:"status"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

type statsResponse struct {
	State              string         `json:"state"`
	SessionID          string         `json:"session_id,omitempty"`
	ReconnectAttempts  int            `json:"reconnect_attempts"`
	LastPongAt         *time.Time     `json:"last_pong_at,omitempty"`
	QueuedMessageCount int            `json:"queued_message_count"`
	MessagesSent       int64          `json:"messages_sent"`
	MessagesReceived   int64          `json:"messages_received"`
	DecodeErrors       int64          `json:"decode_errors"`
	QueueEvicted       int64          `json:"queue_evicted"`
	QueueExpired       int64          `json:"queue_expired"`
	Recorder           *recorderStats `json:"recorder,omitempty"`
}

type recorderStats struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Flushes   int64 `json:"flushes"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`
}

// createStatusHandler serves /healthz and /stats. rec may be nil.
func createStatusHandler(m connection.Manager, rec *recorder.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st := m.Stats()
		health := healthResponse{
			Status:    "healthy",
			State:     st.State.String(),
			SessionID: st.SessionID,
		}
		if st.State != connection.StateConnected {
			health.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		st := m.Stats()
		resp := statsResponse{
			State:              st.State.String(),
			SessionID:          st.SessionID,
			ReconnectAttempts:  st.ReconnectAttempts,
			QueuedMessageCount: st.QueuedMessageCount,
			MessagesSent:       st.MessagesSent,
			MessagesReceived:   st.MessagesReceived,
			DecodeErrors:       st.DecodeErrors,
			QueueEvicted:       st.QueueEvicted,
			QueueExpired:       st.QueueExpired,
		}
		if !st.LastPongAt.IsZero() {
			at := st.LastPongAt
			resp.LastPongAt = &at
		}
		if rec != nil {
			rm := rec.Stats()
			resp.Recorder = &recorderStats{
				Inserts:   rm.Inserts,
				Conflicts: rm.Conflicts,
				Flushes:   rm.Flushes,
				Errors:    rm.Errors,
				Dropped:   rm.Dropped,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return mux
}
