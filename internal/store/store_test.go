package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/eldtechnologies/agentrelay/internal/crypto"
	"github.com/eldtechnologies/agentrelay/internal/models"
)

// DataStoreSuite exercises the DataStore contract. Each backend supplies
// newStore, which must return an empty store.
type DataStoreSuite struct {
	suite.Suite
	newStore func() DataStore
	store    DataStore
	ctx      context.Context
}

func (s *DataStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func (s *DataStoreSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *DataStoreSuite) createAgent(name string) *models.Agent {
	now := time.Now()
	agent := &models.Agent{
		ID:        crypto.NewAgentID(),
		Name:      name,
		CreatedAt: now,
		LastSeen:  now,
	}
	key, err := crypto.NewAPIKey()
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateAgent(s.ctx, agent, crypto.HashAPIKey(key)))
	return agent
}

func (s *DataStoreSuite) append(agent *models.Agent, content, room string) *models.Message {
	msg, err := s.store.AppendMessage(s.ctx, agent.ID.String(), agent.Name, content, room)
	s.Require().NoError(err)
	return msg
}

// drain follows since-cursors from the beginning of room until exhausted.
func (s *DataStoreSuite) drain(room string) ([]models.Message, int) {
	var (
		all    []models.Message
		cursor = "0"
		polls  int
	)
	for {
		batch, err := s.store.QueryRoom(s.ctx, room, cursor)
		s.Require().NoError(err)
		polls++
		if len(batch) == 0 {
			return all, polls
		}
		s.Require().LessOrEqual(len(batch), SinceLimit)
		all = append(all, batch...)
		cursor = batch[len(batch)-1].Timestamp
	}
}

func (s *DataStoreSuite) TestAgentLifecycle() {
	alice := s.createAgent("Alice")

	got, err := s.store.GetAgentByID(s.ctx, alice.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("Alice", got.Name)

	missing, err := s.store.GetAgentByKeyHash(s.ctx, crypto.HashAPIKey("rk_nope"))
	s.Require().NoError(err)
	s.Nil(missing)

	count, err := s.store.CountAgents(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, count)
}

func (s *DataStoreSuite) TestGetAgentByKeyHash() {
	agent := &models.Agent{ID: crypto.NewAgentID(), Name: "Bob", CreatedAt: time.Now(), LastSeen: time.Now()}
	s.Require().NoError(s.store.CreateAgent(s.ctx, agent, crypto.HashAPIKey("rk_bob")))

	got, err := s.store.GetAgentByKeyHash(s.ctx, crypto.HashAPIKey("rk_bob"))
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(agent.ID, got.ID)
}

func (s *DataStoreSuite) TestListAgentsOrdersByLastSeen() {
	first := s.createAgent("first")
	second := s.createAgent("second")
	third := s.createAgent("third")

	base := time.Now().Add(time.Hour)
	s.Require().NoError(s.store.TouchAgent(s.ctx, first.ID, base.Add(2*time.Second)))
	s.Require().NoError(s.store.TouchAgent(s.ctx, second.ID, base))
	s.Require().NoError(s.store.TouchAgent(s.ctx, third.ID, base.Add(time.Second)))

	agents, err := s.store.ListAgents(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(agents, 3)
	s.Equal([]string{"first", "third", "second"}, []string{agents[0].Name, agents[1].Name, agents[2].Name})
}

func (s *DataStoreSuite) TestAppendRejectsEmptyContent() {
	alice := s.createAgent("Alice")

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := s.store.AppendMessage(s.ctx, alice.ID.String(), alice.Name, content, "")
		s.ErrorIs(err, models.ErrValidation)
	}

	count, err := s.store.CountMessages(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *DataStoreSuite) TestAppendNormalizesContentAndRoom() {
	alice := s.createAgent("Alice")

	msg := s.append(alice, "  hi  ", "   ")
	s.Equal("hi", msg.Content)
	s.Equal(models.DefaultRoom, msg.Room)
	s.Equal(alice.Name, msg.AgentName)
	s.NotZero(msg.ID)
	s.NotEmpty(msg.Timestamp)
}

func (s *DataStoreSuite) TestConcurrentAppendsKeepIDAndTimestampOrder() {
	agents := []*models.Agent{s.createAgent("a"), s.createAgent("b"), s.createAgent("c")}
	const perAgent = 40

	var wg sync.WaitGroup
	for _, agent := range agents {
		for _, room := range []string{"general", "tech"} {
			wg.Add(1)
			go func(agent *models.Agent, room string) {
				defer wg.Done()
				for i := 0; i < perAgent; i++ {
					_, err := s.store.AppendMessage(s.ctx, agent.ID.String(), agent.Name, fmt.Sprintf("%s-%d", room, i), room)
					s.NoError(err)
				}
			}(agent, room)
		}
	}
	wg.Wait()

	var all []models.Message
	cursor := "0"
	for {
		batch, err := s.store.QueryAll(s.ctx, cursor)
		s.Require().NoError(err)
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].Timestamp
	}

	s.Require().Len(all, len(agents)*2*perAgent)
	for i := 1; i < len(all); i++ {
		s.Greater(all[i].ID, all[i-1].ID, "ids out of order at %d", i)
		s.Greater(all[i].Timestamp, all[i-1].Timestamp, "timestamps out of order at %d", i)
	}
}

func (s *DataStoreSuite) TestRoomIsolation() {
	alice := s.createAgent("Alice")
	s.append(alice, "about go", "tech")
	s.append(alice, "hello", "general")

	general, err := s.store.QueryRoom(s.ctx, "general", "0")
	s.Require().NoError(err)
	s.Require().Len(general, 1)
	s.Equal("hello", general[0].Content)

	latest, err := s.store.QueryRoom(s.ctx, "general", "")
	s.Require().NoError(err)
	for _, msg := range latest {
		s.NotEqual("tech", msg.Room)
	}

	all, err := s.store.QueryAll(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 2)
}

func (s *DataStoreSuite) TestCursorContinuationHasNoGapsOrDuplicates() {
	alice := s.createAgent("Alice")
	for i := 0; i < 5; i++ {
		s.append(alice, fmt.Sprintf("m%d", i), "")
	}

	first, err := s.store.QueryRoom(s.ctx, "general", "0")
	s.Require().NoError(err)
	s.Require().Len(first, 5)

	s.append(alice, "m5", "")
	s.append(alice, "m6", "")

	second, err := s.store.QueryRoom(s.ctx, "general", first[len(first)-1].Timestamp)
	s.Require().NoError(err)
	s.Require().Len(second, 2)
	s.Equal("m5", second[0].Content)
	s.Equal("m6", second[1].Content)
}

func (s *DataStoreSuite) TestDrainPastSinceLimit() {
	alice := s.createAgent("Alice")
	for i := 0; i < 250; i++ {
		s.append(alice, fmt.Sprintf("m%d", i), "")
	}

	first, err := s.store.QueryRoom(s.ctx, "general", "0")
	s.Require().NoError(err)
	s.Len(first, SinceLimit)

	all, polls := s.drain("general")
	s.Equal(3, polls)
	s.Require().Len(all, 250)

	seen := make(map[int64]bool)
	for i, msg := range all {
		s.False(seen[msg.ID], "duplicate message %d", msg.ID)
		seen[msg.ID] = true
		s.Equal(fmt.Sprintf("m%d", i), msg.Content)
	}
}

func (s *DataStoreSuite) TestLatestSnapshotIsBoundedAndAscending() {
	alice := s.createAgent("Alice")
	for i := 0; i < 120; i++ {
		s.append(alice, fmt.Sprintf("m%d", i), "")
	}

	latest, err := s.store.QueryRoom(s.ctx, "general", "")
	s.Require().NoError(err)
	s.Require().Len(latest, LatestLimit)
	s.Equal("m20", latest[0].Content)
	s.Equal("m119", latest[len(latest)-1].Content)
	for i := 1; i < len(latest); i++ {
		s.Less(latest[i-1].Timestamp, latest[i].Timestamp)
	}
}

func (s *DataStoreSuite) TestDistinctRoomsAlwaysIncludesGeneral() {
	rooms, err := s.store.DistinctRooms(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"general"}, rooms)

	alice := s.createAgent("Alice")
	s.append(alice, "x", "tech")
	s.append(alice, "y", "art")

	rooms, err = s.store.DistinctRooms(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"general", "art", "tech"}, rooms)
}

func (s *DataStoreSuite) TestLastActivity() {
	last, err := s.store.LastActivity(s.ctx)
	s.Require().NoError(err)
	s.Empty(last)

	alice := s.createAgent("Alice")
	msg := s.append(alice, "x", "")

	last, err = s.store.LastActivity(s.ctx)
	s.Require().NoError(err)
	s.Equal(msg.Timestamp, last)
}
