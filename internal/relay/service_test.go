package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"github.com/eldtechnologies/agentrelay/internal/crypto"
	"github.com/eldtechnologies/agentrelay/internal/models"
	"github.com/eldtechnologies/agentrelay/internal/ratelimit"
	"github.com/eldtechnologies/agentrelay/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Broadcast(evt models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

type failingAdmitter struct{}

func (failingAdmitter) Admit(context.Context, string) (bool, error) {
	return false, fmt.Errorf("%w: redis down", models.ErrStorage)
}

type ServiceSuite struct {
	suite.Suite

	ctx       context.Context
	store     *store.SQLiteStore
	clock     time.Time
	clockMu   sync.Mutex
	publisher *recordingPublisher
	svc       *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	return s.clock
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.clock = s.clock.Add(d)
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Now().UTC()

	st, err := store.NewSQLiteStore(s.ctx, filepath.Join(s.T().TempDir(), "relay.db"))
	s.Require().NoError(err)
	s.store = st

	s.publisher = &recordingPublisher{}
	limiter := ratelimit.NewMemoryLimiter(ratelimit.DefaultCooldown, ratelimit.WithClock(s.now))
	s.svc = NewService(st, limiter, s.publisher, zerolog.Nop(), WithClock(s.now))
}

func (s *ServiceSuite) TearDownTest() {
	s.store.Close()
}

func (s *ServiceSuite) register(name string) (*models.Agent, string) {
	agent, key, err := s.svc.Register(s.ctx, name, "")
	s.Require().NoError(err)
	return agent, key
}

func (s *ServiceSuite) TestAliceSaysHi() {
	_, key := s.register("Alice")
	before := models.FormatTimestamp(time.Now().Add(-time.Millisecond))

	msg, err := s.svc.Send(s.ctx, key, "hi", "")
	s.Require().NoError(err)
	s.Positive(msg.ID)

	msgs, err := s.svc.Messages(s.ctx, "general", before)
	s.Require().NoError(err)
	s.Require().Len(msgs, 1)
	s.Equal("hi", msgs[0].Content)
	s.Equal("Alice", msgs[0].AgentName)
	s.Equal("general", msgs[0].Room)
}

func (s *ServiceSuite) TestRegisterRequiresName() {
	for _, name := range []string{"", "   ", "\t\n"} {
		_, _, err := s.svc.Register(s.ctx, name, "desc")
		s.ErrorIs(err, models.ErrValidation, "name %q", name)
	}
	n, err := s.store.CountAgents(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ServiceSuite) TestRegisterSanitizesFields() {
	agent, _, err := s.svc.Register(s.ctx, "  Bo\x00b  ", "  helper bot  ")
	s.Require().NoError(err)
	s.Equal("Bob", agent.Name)
	s.Equal("helper bot", agent.Description)
}

func (s *ServiceSuite) TestSameNameGetsDistinctIdentities() {
	first, firstKey := s.register("Twin")
	second, secondKey := s.register("Twin")

	s.NotEqual(first.ID, second.ID)
	s.NotEqual(firstKey, secondKey)

	got, err := s.svc.Authenticate(s.ctx, secondKey)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)
}

func (s *ServiceSuite) TestRegisterEmitsAgentJoined() {
	agent, key := s.register("Carol")

	events := s.publisher.Events()
	s.Require().Len(events, 1)
	s.Equal(models.EventAgentJoined, events[0].Type)
	s.Require().NotNil(events[0].Agent)
	s.Equal(agent.ID.String(), events[0].Agent.ID)
	s.Equal("Carol", events[0].Agent.Name)
	s.Nil(events[0].Message)
	s.NotEmpty(key)
}

func (s *ServiceSuite) TestAuthenticateRejectsBadKeys() {
	unknown, err := crypto.NewAPIKey()
	s.Require().NoError(err)

	cases := map[string]struct {
		key  string
		want error
	}{
		"missing":    {"", models.ErrMissingKey},
		"blank":      {"   ", models.ErrMissingKey},
		"malformed":  {"not-a-key", models.ErrInvalidKey},
		"unknown":    {unknown, models.ErrInvalidKey},
		"truncated":  {unknown[:len(unknown)-4], models.ErrInvalidKey},
		"wrong case": {"RK_" + unknown[3:], models.ErrInvalidKey},
	}
	for name, tc := range cases {
		_, err := s.svc.Send(s.ctx, tc.key, "should not land", "")
		s.ErrorIs(err, tc.want, name)
		s.ErrorIs(err, models.ErrAuth, name)
	}

	n, err := s.store.CountMessages(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ServiceSuite) TestAuthenticateTouchesLastSeen() {
	agent, key := s.register("Dave")
	s.advance(time.Minute)

	got, err := s.svc.Authenticate(s.ctx, key)
	s.Require().NoError(err)
	s.True(got.LastSeen.After(agent.LastSeen))

	stored, err := s.store.GetAgentByID(s.ctx, agent.ID)
	s.Require().NoError(err)
	s.Equal(models.FormatTimestamp(got.LastSeen), models.FormatTimestamp(stored.LastSeen))
}

func (s *ServiceSuite) TestCooldownGatesSends() {
	_, key := s.register("Eve")

	_, err := s.svc.Send(s.ctx, key, "one", "")
	s.Require().NoError(err)

	_, err = s.svc.Send(s.ctx, key, "two", "")
	s.ErrorIs(err, models.ErrAdmission)

	s.advance(ratelimit.DefaultCooldown)
	_, err = s.svc.Send(s.ctx, key, "three", "")
	s.Require().NoError(err)

	msgs, err := s.svc.Messages(s.ctx, "", "")
	s.Require().NoError(err)
	s.Require().Len(msgs, 2)
	s.Equal("one", msgs[0].Content)
	s.Equal("three", msgs[1].Content)
}

func (s *ServiceSuite) TestCooldownIsPerAgent() {
	_, alice := s.register("Alice")
	_, bob := s.register("Bob")

	_, err := s.svc.Send(s.ctx, alice, "ping", "")
	s.Require().NoError(err)
	_, err = s.svc.Send(s.ctx, bob, "pong", "")
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestErrorPriority() {
	_, key := s.register("Frank")

	// Auth wins over everything.
	_, err := s.svc.Send(s.ctx, "", "", "")
	s.ErrorIs(err, models.ErrMissingKey)

	// Empty content is a validation failure once admitted.
	_, err = s.svc.Send(s.ctx, key, "   ", "")
	s.ErrorIs(err, models.ErrValidation)

	// The rejected send above still consumed the window.
	_, err = s.svc.Send(s.ctx, key, "", "")
	s.ErrorIs(err, models.ErrAdmission)
}

func (s *ServiceSuite) TestLimiterFailureIsStorageError() {
	svc := NewService(s.store, failingAdmitter{}, s.publisher, zerolog.Nop())
	_, key := s.register("Gina")

	_, err := svc.Send(s.ctx, key, "hello", "")
	s.ErrorIs(err, models.ErrStorage)
	s.False(errors.Is(err, models.ErrAdmission))
}

func (s *ServiceSuite) TestBroadcastFollowsCommitOrder() {
	svc := NewService(s.store, ratelimit.NewMemoryLimiter(0), s.publisher, zerolog.Nop())

	const agents, perAgent = 4, 25
	agentList := make([]*models.Agent, agents)
	for i := range agentList {
		agentList[i], _ = s.register(fmt.Sprintf("agent-%d", i))
	}

	var wg sync.WaitGroup
	for i, agent := range agentList {
		wg.Add(1)
		go func(i int, agent *models.Agent) {
			defer wg.Done()
			room := []string{"general", "tech"}[i%2]
			for j := 0; j < perAgent; j++ {
				_, err := svc.Post(s.ctx, agent, fmt.Sprintf("%d-%d", i, j), room)
				s.NoError(err)
			}
		}(i, agent)
	}
	wg.Wait()

	var lastID int64
	var lastTS string
	count := 0
	for _, evt := range s.publisher.Events() {
		if evt.Type != models.EventNewMessage {
			continue
		}
		count++
		s.Greater(evt.Message.ID, lastID)
		s.Greater(evt.Message.Timestamp, lastTS)
		lastID, lastTS = evt.Message.ID, evt.Message.Timestamp
	}
	s.Equal(agents*perAgent, count)
}

func (s *ServiceSuite) TestMessagesRejectsGarbageCursor() {
	_, err := s.svc.Messages(s.ctx, "general", "yesterday")
	s.ErrorIs(err, models.ErrValidation)

	_, err = s.svc.MessagesAll(s.ctx, "2026-01-01T00:00:00Z")
	s.NoError(err)
}

func (s *ServiceSuite) TestZeroCursorReadsFromStart() {
	svc := NewService(s.store, ratelimit.NewMemoryLimiter(0), s.publisher, zerolog.Nop())
	agent, _ := s.register("Ivy")

	for i := 0; i < 120; i++ {
		_, err := svc.Post(s.ctx, agent, fmt.Sprintf("m%d", i), "")
		s.Require().NoError(err)
	}

	// Latest-mode would cap this at 100.
	msgs, err := svc.Messages(s.ctx, "", "0001-01-01 00:00:00")
	s.Require().NoError(err)
	s.Require().Len(msgs, 120)
	s.Equal("m0", msgs[0].Content)
	s.Equal("m119", msgs[119].Content)
}

func (s *ServiceSuite) TestMessagesAllSpansRooms() {
	svc := NewService(s.store, ratelimit.NewMemoryLimiter(0), s.publisher, zerolog.Nop())
	agent, _ := s.register("Hal")

	for _, room := range []string{"general", "tech", "random"} {
		_, err := svc.Post(s.ctx, agent, "in "+room, room)
		s.Require().NoError(err)
	}

	general, err := svc.Messages(s.ctx, "general", "")
	s.Require().NoError(err)
	s.Len(general, 1)

	all, err := svc.MessagesAll(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 3)

	rooms, err := svc.Rooms(s.ctx)
	s.Require().NoError(err)
	s.Equal("general", rooms[0])
	s.ElementsMatch([]string{"general", "tech", "random"}, rooms)
}

func (s *ServiceSuite) TestAgentsAndStats() {
	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.TotalAgents)
	s.Equal([]string{"general"}, stats.Rooms)
	s.Empty(stats.LastActivity)

	_, key := s.register("Ivy")
	msg, err := s.svc.Send(s.ctx, key, "hello", "lab")
	s.Require().NoError(err)

	stats, err = s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, stats.TotalAgents)
	s.EqualValues(1, stats.TotalMessages)
	s.Equal(msg.Timestamp, stats.LastActivity)

	agents, err := s.svc.Agents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(agents, 1)
	s.Equal("Ivy", agents[0].Name)
}
