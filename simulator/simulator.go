// Package simulator drives a running engine with synthetic chat traffic:
// users, friendships, groups, live connections and message intents.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"gator-chat/internal/middleware"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type SimConfig struct {
	NumUsers          int
	NumGroups         int
	FriendsPerUser    int
	SimulationTime    time.Duration
	MessageFrequency  float64 // intents per connected user per minute
	GroupMessageShare float64 // fraction of messages sent to groups
	ScheduledShare    float64 // fraction of direct messages scheduled
	DisconnectRate    float64 // per second
	ReconnectRate     float64 // per second
	ZipfS             float64
	EngineURL         string
	JWTSecret         string
	MetricsInterval   time.Duration
}

// DefaultSimConfig returns a small simulation against a local engine.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		NumUsers:          20,
		NumGroups:         4,
		FriendsPerUser:    3,
		SimulationTime:    2 * time.Minute,
		MessageFrequency:  6,
		GroupMessageShare: 0.3,
		ScheduledShare:    0.05,
		DisconnectRate:    0.01,
		ReconnectRate:     0.05,
		ZipfS:             1.07,
		EngineURL:         "http://localhost:8080",
		JWTSecret:         "your-secret-key",
		MetricsInterval:   10 * time.Second,
	}
}

type SimulationStats struct {
	mu                sync.RWMutex
	StartTime         time.Time
	TotalRequests     int64
	SuccessRequests   int64
	FailedRequests    int64
	AverageLatency    time.Duration
	DirectMessages    int
	GroupMessages     int
	ScheduledMessages int
	PushesReceived    int64
	Reconnects        int
	latencyTotal      time.Duration
}

// SimulatedUser is one synthetic account and its live connection
type SimulatedUser struct {
	ID       uuid.UUID
	Username string
	Token    string
	Friends  []uuid.UUID
	Groups   []uuid.UUID

	mu      sync.Mutex
	conn    *ws.Conn
	pending map[string]time.Time // requestId -> sent at
}

func (u *SimulatedUser) connected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn != nil
}

type Simulator struct {
	config SimConfig
	stats  *SimulationStats
	users  []*SimulatedUser
	client *http.Client
	rng    *rand.Rand
	rngMu  sync.Mutex
	log    *zap.SugaredLogger
}

func NewSimulator(config SimConfig) *Simulator {
	return &Simulator{
		config: config,
		stats:  &SimulationStats{StartTime: time.Now()},
		client: &http.Client{Timeout: 10 * time.Second},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:    zap.S().With("component", "simulator"),
	}
}

// Run initializes the population and generates traffic until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Infow("starting simulation", "users", s.config.NumUsers, "groups", s.config.NumGroups, "engine", s.config.EngineURL)

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer s.disconnectAll()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){s.simulateActivities, s.simulateConnectivity, s.collectMetrics} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
	wg.Wait()
	return nil
}

func (s *Simulator) initialize(ctx context.Context) error {
	s.log.Infow("phase 1: creating users", "count", s.config.NumUsers)
	for i := 0; i < s.config.NumUsers; i++ {
		user, err := s.createUser(ctx, fmt.Sprintf("user_%d", i))
		if err != nil {
			return err
		}
		s.users = append(s.users, user)
	}

	s.log.Infow("phase 2: building friendships")
	if err := s.createFriendships(ctx); err != nil {
		return err
	}

	s.log.Infow("phase 3: creating groups", "count", s.config.NumGroups)
	if err := s.createGroups(ctx); err != nil {
		return err
	}

	s.log.Infow("phase 4: connecting users")
	for _, user := range s.users {
		if err := s.connect(ctx, user); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) createUser(ctx context.Context, username string) (*SimulatedUser, error) {
	id := uuid.New()
	token, err := middleware.GenerateToken(s.config.JWTSecret, id)
	if err != nil {
		return nil, err
	}
	user := &SimulatedUser{ID: id, Username: username, Token: token, pending: make(map[string]time.Time)}

	profile := map[string]string{"username": username}
	if _, err := s.makeRequest(ctx, user, http.MethodPut, "/users/me", profile); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", username, err)
	}
	return user, nil
}

// pick returns an index in [0, n) skewed towards low indexes.
func (s *Simulator) pick(n int) int {
	if n <= 1 {
		return 0
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	zipf := rand.NewZipf(s.rng, s.config.ZipfS, 1, uint64(n-1))
	return int(zipf.Uint64())
}

func (s *Simulator) chance(p float64) bool {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < p
}

// createFriendships links every user to its ring neighbour so nobody is
// isolated, then adds popularity-skewed extra friends.
func (s *Simulator) createFriendships(ctx context.Context) error {
	n := len(s.users)
	if n < 2 {
		return nil
	}
	linked := make(map[[2]uuid.UUID]bool)
	link := func(a, b *SimulatedUser) error {
		if a == b || linked[[2]uuid.UUID{a.ID, b.ID}] {
			return nil
		}
		if _, err := s.makeRequest(ctx, a, http.MethodPost, "/friends/"+b.ID.String(), nil); err != nil {
			return fmt.Errorf("failed to befriend %s and %s: %w", a.Username, b.Username, err)
		}
		linked[[2]uuid.UUID{a.ID, b.ID}] = true
		linked[[2]uuid.UUID{b.ID, a.ID}] = true
		a.Friends = append(a.Friends, b.ID)
		b.Friends = append(b.Friends, a.ID)
		return nil
	}

	for i, user := range s.users {
		if err := link(user, s.users[(i+1)%n]); err != nil {
			return err
		}
		for j := 1; j < s.config.FriendsPerUser; j++ {
			if err := link(user, s.users[s.pick(n)]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Simulator) createGroups(ctx context.Context) error {
	for g := 0; g < s.config.NumGroups && len(s.users) > 0; g++ {
		owner := s.users[s.pick(len(s.users))]
		members := make([]uuid.UUID, 0)
		for _, u := range s.users {
			if u != owner && s.chance(0.5) {
				members = append(members, u.ID)
			}
		}

		body := map[string]interface{}{"name": fmt.Sprintf("group_%d", g), "memberIds": members}
		resp, err := s.makeRequest(ctx, owner, http.MethodPost, "/groups", body)
		if err != nil {
			return fmt.Errorf("failed to create group %d: %w", g, err)
		}
		var group struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.Unmarshal(resp, &group); err != nil {
			return fmt.Errorf("failed to parse group response: %w", err)
		}

		owner.Groups = append(owner.Groups, group.ID)
		for _, u := range s.users {
			for _, id := range members {
				if u.ID == id {
					u.Groups = append(u.Groups, group.ID)
				}
			}
		}
	}
	return nil
}

func (s *Simulator) makeRequest(ctx context.Context, user *SimulatedUser, method, endpoint string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.EngineURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+user.Token)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		s.recordRequestMetrics(start, err)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("request failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	s.recordRequestMetrics(start, err)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

func (s *Simulator) recordRequestMetrics(start time.Time, err error) {
	latency := time.Since(start)
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.TotalRequests++
	if err != nil {
		s.stats.FailedRequests++
		return
	}
	s.stats.SuccessRequests++
	s.stats.latencyTotal += latency
	s.stats.AverageLatency = s.stats.latencyTotal / time.Duration(s.stats.SuccessRequests)
}

func (s *Simulator) collectMetrics(ctx context.Context) {
	interval := s.config.MetricsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m := s.GetMetrics()
			s.log.Infow("simulation finished", "metrics", m)
			return
		case <-ticker.C:
			m := s.GetMetrics()
			s.log.Infow("simulation metrics",
				"elapsed", time.Since(s.stats.StartTime).Round(time.Second),
				"requestsPerSecond", m.RequestsPerSecond,
				"averageLatency", m.AverageLatency,
				"connected", m.ConnectedUsers,
				"direct", m.DirectMessages,
				"group", m.GroupMessages,
				"pushes", m.PushesReceived,
				"failed", m.ErrorCount,
			)
		}
	}
}

// SimulationMetrics holds the metrics of the simulation
type SimulationMetrics struct {
	TotalUsers        int
	ConnectedUsers    int
	TotalRequests     int64
	DirectMessages    int
	GroupMessages     int
	ScheduledMessages int
	PushesReceived    int64
	Reconnects        int
	AverageLatency    time.Duration
	ErrorCount        int
	RequestsPerSecond float64
}

// GetMetrics returns the current simulation metrics
func (s *Simulator) GetMetrics() SimulationMetrics {
	connected := 0
	for _, u := range s.users {
		if u.connected() {
			connected++
		}
	}

	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	elapsed := time.Since(s.stats.StartTime)
	return SimulationMetrics{
		TotalUsers:        len(s.users),
		ConnectedUsers:    connected,
		TotalRequests:     s.stats.TotalRequests,
		DirectMessages:    s.stats.DirectMessages,
		GroupMessages:     s.stats.GroupMessages,
		ScheduledMessages: s.stats.ScheduledMessages,
		PushesReceived:    s.stats.PushesReceived,
		Reconnects:        s.stats.Reconnects,
		AverageLatency:    s.stats.AverageLatency,
		ErrorCount:        int(s.stats.FailedRequests),
		RequestsPerSecond: float64(s.stats.TotalRequests) / elapsed.Seconds(),
	}
}
