package store

import (
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

var (
	agentColumns   = []string{"id", "name", "description", "created_at", "last_seen"}
	messageColumns = []string{"id", "agent_id", "agent_name", "content", "room", "sent_at"}
)

// rowScanner is satisfied by database/sql and pgx rows alike.
type rowScanner interface {
	Scan(dest ...any) error
}

// selectMessages builds the query shared by room and cross-room reads.
// An empty room means every room. An empty since selects the latest
// LatestLimit messages newest first; callers reverse them.
func selectMessages(b sq.StatementBuilderType, room, since string) sq.SelectBuilder {
	q := b.Select(messageColumns...).From("messages")
	if room != "" {
		q = q.Where(sq.Eq{"room": room})
	}
	if since != "" {
		return q.Where(sq.Gt{"sent_at": since}).
			OrderBy("sent_at ASC", "id ASC").
			Limit(SinceLimit)
	}
	return q.OrderBy("sent_at DESC", "id DESC").Limit(LatestLimit)
}

// chronological puts a result of selectMessages in ascending order.
func chronological(msgs []models.Message, since string) []models.Message {
	if since == "" {
		slices.Reverse(msgs)
	}
	return msgs
}

// prepareMessage validates and normalizes an append before it takes the write lock.
func prepareMessage(agentID, agentName, content, room string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, fmt.Errorf("%w: content is required", models.ErrValidation)
	}
	return models.Message{
		AgentID:   agentID,
		AgentName: agentName,
		Content:   content,
		Room:      models.NormalizeRoom(room),
	}, nil
}

// withDefaultRoom returns rooms with DefaultRoom first and the rest in input order.
func withDefaultRoom(rooms []string) []string {
	out := make([]string, 0, len(rooms)+1)
	out = append(out, models.DefaultRoom)
	for _, r := range rooms {
		if r != models.DefaultRoom {
			out = append(out, r)
		}
	}
	return out
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.AgentID,
		&msg.AgentName,
		&msg.Content,
		&msg.Room,
		&msg.Timestamp,
	)
	return msg, err
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		agent               models.Agent
		idStr               string
		createdAt, lastSeen string
	)
	err := row.Scan(&idStr, &agent.Name, &agent.Description, &createdAt, &lastSeen)
	if err != nil {
		return nil, err
	}

	if agent.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("agent id %q: %w", idStr, err)
	}
	if agent.CreatedAt, err = models.ParseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("agent created_at: %w", err)
	}
	if agent.LastSeen, err = models.ParseTimestamp(lastSeen); err != nil {
		return nil, fmt.Errorf("agent last_seen: %w", err)
	}
	return &agent, nil
}

// storageError tags a driver error as a StorageError.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStorage, op, err)
}
