package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type outgoingIntent struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId"`
	Payload   interface{} `json:"payload"`
}

type incomingFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	OK        bool   `json:"ok"`
	Code      string `json:"code"`
}

func (s *Simulator) socketURL(user *SimulatedUser) string {
	base := strings.Replace(s.config.EngineURL, "http", "ws", 1)
	return base + "/ws?token=" + user.Token
}

func (s *Simulator) connect(ctx context.Context, user *SimulatedUser) error {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, s.socketURL(user), nil)
	if err != nil {
		return fmt.Errorf("failed to connect %s: %w", user.Username, err)
	}
	user.mu.Lock()
	user.conn = conn
	user.mu.Unlock()

	go s.readLoop(user, conn)
	return nil
}

func (s *Simulator) disconnect(user *SimulatedUser) {
	user.mu.Lock()
	conn := user.conn
	user.conn = nil
	user.pending = make(map[string]time.Time)
	user.mu.Unlock()
	if conn != nil {
		conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}
}

func (s *Simulator) disconnectAll() {
	for _, user := range s.users {
		s.disconnect(user)
	}
}

// readLoop counts pushes and resolves acks until conn fails.
func (s *Simulator) readLoop(user *SimulatedUser, conn *ws.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame incomingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.log.Debugw("unreadable frame", "user", user.Username, "error", err)
			continue
		}
		if frame.Type != "ack" {
			s.stats.mu.Lock()
			s.stats.PushesReceived++
			s.stats.mu.Unlock()
			continue
		}

		user.mu.Lock()
		start, ok := user.pending[frame.RequestID]
		delete(user.pending, frame.RequestID)
		user.mu.Unlock()
		if !ok {
			continue
		}
		var ackErr error
		if !frame.OK {
			ackErr = fmt.Errorf("intent rejected: %s", frame.Code)
			s.log.Debugw("intent rejected", "user", user.Username, "code", frame.Code)
		}
		s.recordRequestMetrics(start, ackErr)
	}
}

// sendIntent writes one intent on the user's connection. The ack completes
// the request in readLoop.
func (s *Simulator) sendIntent(user *SimulatedUser, intentType string, payload interface{}) bool {
	requestID := uuid.NewString()

	user.mu.Lock()
	defer user.mu.Unlock()
	if user.conn == nil {
		return false
	}
	user.pending[requestID] = time.Now()
	user.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := user.conn.WriteJSON(outgoingIntent{Type: intentType, RequestID: requestID, Payload: payload}); err != nil {
		delete(user.pending, requestID)
		s.log.Debugw("intent write failed", "user", user.Username, "error", err)
		return false
	}
	return true
}

func (s *Simulator) simulateActivities(ctx context.Context) {
	const tick = 500 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	perTick := s.config.MessageFrequency / 60 * tick.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, user := range s.users {
				if user.connected() && s.chance(perTick) {
					s.sendRandomMessage(user)
				}
			}
		}
	}
}

func (s *Simulator) sendRandomMessage(user *SimulatedUser) {
	text := fmt.Sprintf("hello from %s at %s", user.Username, time.Now().Format(time.RFC3339Nano))

	if len(user.Groups) > 0 && (len(user.Friends) == 0 || s.chance(s.config.GroupMessageShare)) {
		groupID := user.Groups[s.pick(len(user.Groups))]
		if s.sendIntent(user, "send-group-message", map[string]interface{}{"groupId": groupID, "text": text}) {
			s.stats.mu.Lock()
			s.stats.GroupMessages++
			s.stats.mu.Unlock()
		}
		return
	}
	if len(user.Friends) == 0 {
		return
	}

	payload := map[string]interface{}{
		"receiverId": user.Friends[s.pick(len(user.Friends))],
		"text":       text,
	}
	scheduled := s.chance(s.config.ScheduledShare)
	if scheduled {
		payload["scheduledAt"] = time.Now().UTC().Add(90 * time.Second)
	}
	if s.sendIntent(user, "send-direct-message", payload) {
		s.stats.mu.Lock()
		s.stats.DirectMessages++
		if scheduled {
			s.stats.ScheduledMessages++
		}
		s.stats.mu.Unlock()
	}
}

// simulateConnectivity drops and restores connections at the configured
// per-second rates.
func (s *Simulator) simulateConnectivity(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, user := range s.users {
				if user.connected() {
					if s.chance(s.config.DisconnectRate) {
						s.disconnect(user)
					}
					continue
				}
				if s.chance(s.config.ReconnectRate) {
					if err := s.connect(ctx, user); err != nil {
						s.log.Debugw("reconnect failed", "user", user.Username, "error", err)
						continue
					}
					s.stats.mu.Lock()
					s.stats.Reconnects++
					s.stats.mu.Unlock()
				}
			}
		}
	}
}
