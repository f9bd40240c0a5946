package handlers

import (
	"net/http"
	"time"

	"gator-chat/internal/engine/actors"
)

// HealthResponse reports liveness and sweep progress
type HealthResponse struct {
	Status      string             `json:"status"`
	Node        string             `json:"node"`
	OnlineUsers int                `json:"onlineUsers"`
	Uptime      string             `json:"uptime,omitempty"`
	Sweep       *actors.SweepStats `json:"sweep,omitempty"`
	ServerTime  time.Time          `json:"serverTime"`
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:      "healthy",
			Node:        s.Config.Server.NodeName,
			OnlineUsers: len(s.Presence.OnlineUsers()),
			ServerTime:  time.Now().UTC(),
		}
		if s.Metrics != nil {
			resp.Uptime = s.Metrics.Uptime().Round(time.Second).String()
		}

		if s.Context != nil && s.SweepPID != nil {
			future := s.Context.RequestFuture(s.SweepPID, &actors.GetSweepStatsMsg{}, s.RequestTimeout)
			result, err := future.Result()
			if err != nil {
				s.log.Warnw("sweep actor did not answer", "error", err)
				resp.Status = "degraded"
			} else if stats, ok := result.(actors.SweepStats); ok {
				resp.Sweep = &stats
			}
		}

		s.writeJSON(w, http.StatusOK, resp)
	}
}
