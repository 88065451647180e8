// Package relay ties the agent directory, message log, rate limiter and
// live fan-out together behind the operations the HTTP layer exposes.
package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/agentrelay/internal/crypto"
	"github.com/eldtechnologies/agentrelay/internal/metrics"
	"github.com/eldtechnologies/agentrelay/internal/models"
	"github.com/eldtechnologies/agentrelay/internal/store"
)

// Field limits applied at registration.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500
)

// Admitter decides whether an agent may send right now.
type Admitter interface {
	Admit(ctx context.Context, agentID string) (bool, error)
}

// Publisher delivers events to live viewers without blocking.
type Publisher interface {
	Broadcast(evt models.Event)
}

// Stats summarizes the relay.
type Stats struct {
	TotalAgents   int64    `json:"totalAgents"`
	TotalMessages int64    `json:"totalMessages"`
	Rooms         []string `json:"rooms"`
	LastActivity  string   `json:"lastActivity"`
}

// Service is the ingestion and query front of the relay.
//
// publishMu spans commit and broadcast so viewers observe events in
// commit order. Reads never take it.
type Service struct {
	store     store.DataStore
	limiter   Admitter
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time

	publishMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for lastSeen, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the relay components together.
func NewService(ds store.DataStore, limiter Admitter, publisher Publisher, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     ds,
		limiter:   limiter,
		publisher: publisher,
		logger:    logger.With().Str("component", "relay").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an agent and returns it with its API key.
// The key is returned exactly once; only its digest is stored.
func (s *Service) Register(ctx context.Context, name, description string) (*models.Agent, string, error) {
	name = sanitize(name, MaxNameLength)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", models.ErrValidation)
	}
	description = sanitize(description, MaxDescriptionLength)

	apiKey, err := crypto.NewAPIKey()
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	agent := &models.Agent{
		ID:          crypto.NewAgentID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		LastSeen:    now,
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if err := s.store.CreateAgent(ctx, agent, crypto.HashAPIKey(apiKey)); err != nil {
		return nil, "", err
	}
	metrics.AgentsRegistered.Inc()

	s.logger.Info().
		Str("agent_id", agent.ID.String()).
		Str("name", agent.Name).
		Msg("agent registered")

	s.publisher.Broadcast(models.AgentJoinedEvent(agent))
	return agent, apiKey, nil
}

// Authenticate resolves an API key to its agent and refreshes lastSeen.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Agent, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, models.ErrMissingKey
	}
	if !crypto.LooksLikeAPIKey(apiKey) {
		return nil, models.ErrInvalidKey
	}

	agent, err := s.store.GetAgentByKeyHash(ctx, crypto.HashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, models.ErrInvalidKey
	}

	now := s.now().UTC()
	if err := s.store.TouchAgent(ctx, agent.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("agent_id", agent.ID.String()).Msg("failed to update last seen")
	} else {
		agent.LastSeen = now
	}
	return agent, nil
}

// Post appends a message from an already authenticated agent and
// broadcasts it. Admission is checked before the content is validated.
func (s *Service) Post(ctx context.Context, agent *models.Agent, content, room string) (*models.Message, error) {
	if agent == nil {
		return nil, models.ErrMissingKey
	}

	ok, err := s.limiter.Admit(ctx, agent.ID.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.RateLimitHits.WithLabelValues("send").Inc()
		s.logger.Warn().
			Str("type", "security").
			Str("agent_id", agent.ID.String()).
			Msg("send rejected by cooldown")
		return nil, models.ErrAdmission
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	start := time.Now()
	msg, err := s.store.AppendMessage(ctx, agent.ID.String(), agent.Name, content, room)
	if err != nil {
		return nil, err
	}
	metrics.AppendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesPosted.Inc()

	s.publisher.Broadcast(models.NewMessageEvent(msg))
	return msg, nil
}

// Send authenticates apiKey and posts on behalf of its agent.
func (s *Service) Send(ctx context.Context, apiKey, content, room string) (*models.Message, error) {
	agent, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return s.Post(ctx, agent, content, room)
}

// Messages returns messages in room after since, or the latest snapshot
// when since is empty.
func (s *Service) Messages(ctx context.Context, room, since string) ([]models.Message, error) {
	since, err := normalizeSince(since)
	if err != nil {
		return nil, err
	}
	return s.store.QueryRoom(ctx, models.NormalizeRoom(room), since)
}

// MessagesAll is Messages across every room.
func (s *Service) MessagesAll(ctx context.Context, since string) ([]models.Message, error) {
	since, err := normalizeSince(since)
	if err != nil {
		return nil, err
	}
	return s.store.QueryAll(ctx, since)
}

// Agents lists agent summaries, most recently seen first.
func (s *Service) Agents(ctx context.Context) ([]models.AgentSummary, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AgentSummary, 0, len(agents))
	for i := range agents {
		out = append(out, agents[i].Summary())
	}
	return out, nil
}

// Agent returns one agent, or nil if the id is unknown.
func (s *Service) Agent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.store.GetAgentByID(ctx, id)
}

// Rooms lists every room that has been used, plus the default room.
func (s *Service) Rooms(ctx context.Context) ([]string, error) {
	return s.store.DistinctRooms(ctx)
}

// Stats gathers relay totals.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	agents, err := s.store.CountAgents(ctx)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.CountMessages(ctx)
	if err != nil {
		return nil, err
	}
	rooms, err := s.store.DistinctRooms(ctx)
	if err != nil {
		return nil, err
	}
	last, err := s.store.LastActivity(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalAgents:   agents,
		TotalMessages: messages,
		Rooms:         rooms,
		LastActivity:  last,
	}, nil
}

// sinceLayouts are the cursor formats accepted from clients. The first
// covers the wire format with any number of fractional digits.
var sinceLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// normalizeSince converts a client cursor to the wire form. Empty stays empty.
func normalizeSince(since string) (string, error) {
	since = strings.TrimSpace(since)
	if since == "" {
		return "", nil
	}
	for _, layout := range sinceLayouts {
		if t, err := time.ParseInLocation(layout, since, time.UTC); err == nil {
			return t.UTC().Format(models.TimestampLayout), nil
		}
	}
	return "", fmt.Errorf("%w: since must be a timestamp like %q", models.ErrValidation, models.TimestampLayout)
}

// sanitize trims s, strips control characters and caps it at limit runes.
func sanitize(s string, limit int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	if runes := []rune(s); len(runes) > limit {
		s = strings.TrimSpace(string(runes[:limit]))
	}
	return s
}
