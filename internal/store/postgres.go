package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType

	// writeMu serializes appends within this process. The relay is a
	// single-writer service; one process owns the log.
	writeMu sync.Mutex
	seq     *sequencer
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and applies pending migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	_, err = migrate(ctx, db, goose.DialectPostgres, "migrations/postgres")
	db.Close()
	if err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		seq:  newSequencer(time.Now, time.Time{}),
	}

	last, err := s.LastActivity(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if s.seq.last, err = models.ParseTimestamp(last); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAgent inserts a new agent together with the digest of its key.
func (s *PostgresStore) CreateAgent(ctx context.Context, agent *models.Agent, keyHash string) error {
	query, args, err := s.psql.
		Insert("agents").
		Columns("id", "name", "description", "api_key_hash", "created_at", "last_seen").
		Values(
			agent.ID.String(),
			agent.Name,
			agent.Description,
			keyHash,
			models.FormatTimestamp(agent.CreatedAt),
			models.FormatTimestamp(agent.LastSeen),
		).
		ToSql()
	if err != nil {
		return storageError("build insert agent", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return storageError("insert agent", err)
	}
	return nil
}

// GetAgentByID retrieves an agent by ID. It returns nil if none exists.
func (s *PostgresStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.getAgent(ctx, sq.Eq{"id": id.String()})
}

// GetAgentByKeyHash retrieves the agent holding a key. It returns nil if none exists.
func (s *PostgresStore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*models.Agent, error) {
	return s.getAgent(ctx, sq.Eq{"api_key_hash": keyHash})
}

func (s *PostgresStore) getAgent(ctx context.Context, where sq.Eq) (*models.Agent, error) {
	query, args, err := s.psql.Select(agentColumns...).From("agents").Where(where).ToSql()
	if err != nil {
		return nil, storageError("build select agent", err)
	}

	agent, err := scanAgent(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storageError("select agent", err)
	}
	return agent, nil
}

// TouchAgent records the time of the agent's latest authenticated request.
func (s *PostgresStore) TouchAgent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args, err := s.psql.
		Update("agents").
		Set("last_seen", models.FormatTimestamp(at)).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return storageError("build touch agent", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return storageError("touch agent", err)
	}
	return nil
}

// ListAgents returns every agent, most recently seen first.
func (s *PostgresStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	query, args, err := s.psql.
		Select(agentColumns...).
		From("agents").
		OrderBy("last_seen DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, storageError("build list agents", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("list agents", err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, storageError("scan agent", err)
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list agents", err)
	}
	return agents, nil
}

// CountAgents returns the total number of registered agents.
func (s *PostgresStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count); err != nil {
		return 0, storageError("count agents", err)
	}
	return count, nil
}

// AppendMessage validates and stores a message, assigning its id and timestamp.
func (s *PostgresStore) AppendMessage(ctx context.Context, agentID, agentName, content, room string) (*models.Message, error) {
	msg, err := prepareMessage(agentID, agentName, content, room)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg.Timestamp = models.FormatTimestamp(s.seq.next())

	query, args, err := s.psql.
		Insert("messages").
		Columns("agent_id", "agent_name", "content", "room", "sent_at").
		Values(msg.AgentID, msg.AgentName, msg.Content, msg.Room, msg.Timestamp).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, storageError("build insert message", err)
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(&msg.ID); err != nil {
		return nil, storageError("insert message", err)
	}
	return &msg, nil
}

// QueryRoom returns messages in room, see selectMessages for the since semantics.
func (s *PostgresStore) QueryRoom(ctx context.Context, room, since string) ([]models.Message, error) {
	return s.queryMessages(ctx, models.NormalizeRoom(room), since)
}

// QueryAll returns messages across every room.
func (s *PostgresStore) QueryAll(ctx context.Context, since string) ([]models.Message, error) {
	return s.queryMessages(ctx, "", since)
}

func (s *PostgresStore) queryMessages(ctx context.Context, room, since string) ([]models.Message, error) {
	query, args, err := selectMessages(s.psql, room, since).ToSql()
	if err != nil {
		return nil, storageError("build select messages", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("select messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageError("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("select messages", err)
	}
	return chronological(messages, since), nil
}

// DistinctRooms returns every room seen in the log, DefaultRoom first.
func (s *PostgresStore) DistinctRooms(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT room FROM messages ORDER BY room`)
	if err != nil {
		return nil, storageError("select rooms", err)
	}

	rooms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageError("scan rooms", err)
	}
	return withDefaultRoom(rooms), nil
}

// CountMessages returns the number of messages in the log.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, storageError("count messages", err)
	}
	return count, nil
}

// LastActivity returns the timestamp of the newest message, or "" for an empty log.
func (s *PostgresStore) LastActivity(ctx context.Context) (string, error) {
	var last *string
	if err := s.pool.QueryRow(ctx, `SELECT MAX(sent_at) FROM messages`).Scan(&last); err != nil {
		return "", storageError("last activity", err)
	}
	if last == nil {
		return "", nil
	}
	return *last, nil
}

var (
	_ DataStore = (*SQLiteStore)(nil)
	_ DataStore = (*PostgresStore)(nil)
)
