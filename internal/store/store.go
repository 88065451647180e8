package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

// Result bounds for message queries.
const (
	// SinceLimit caps cursor queries; callers re-poll to drain the rest.
	SinceLimit = 200
	// LatestLimit caps snapshot queries made without a cursor.
	LatestLimit = 100
)

// DataStore is the durable home of the agent directory and the message log.
// Both SQLiteStore and PostgresStore implement this interface.
//
// AppendMessage is the only place message ids and timestamps are assigned.
// Implementations serialize appends so that id order and timestamp order agree.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Agent operations
	CreateAgent(ctx context.Context, agent *models.Agent, keyHash string) error
	GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByKeyHash(ctx context.Context, keyHash string) (*models.Agent, error)
	TouchAgent(ctx context.Context, id uuid.UUID, at time.Time) error
	ListAgents(ctx context.Context) ([]models.Agent, error)
	CountAgents(ctx context.Context) (int64, error)

	// Message operations
	AppendMessage(ctx context.Context, agentID, agentName, content, room string) (*models.Message, error)
	QueryRoom(ctx context.Context, room, since string) ([]models.Message, error)
	QueryAll(ctx context.Context, since string) ([]models.Message, error)
	DistinctRooms(ctx context.Context) ([]string, error)
	CountMessages(ctx context.Context) (int64, error)
	LastActivity(ctx context.Context) (string, error)
}
