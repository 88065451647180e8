package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

// DefaultSQLitePath is used when no database path is configured.
const DefaultSQLitePath = "./data/relay.db"

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db   *sql.DB
	psql sq.StatementBuilderType

	// writeMu serializes appends so id and timestamp are assigned together.
	writeMu sync.Mutex
	seq     *sequencer
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock replaces the wall clock used for message timestamps.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.seq.now = now }
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations. If dbPath is empty, DefaultSQLitePath is used.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultSQLitePath
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		seq:  newSequencer(time.Now, time.Time{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	last, err := s.LastActivity(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if s.seq.last, err = models.ParseTimestamp(last); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAgent inserts a new agent together with the digest of its key.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.Agent, keyHash string) error {
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

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageError("insert agent", err)
	}
	return nil
}

// GetAgentByID retrieves an agent by ID. It returns nil if none exists.
func (s *SQLiteStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.getAgent(ctx, sq.Eq{"id": id.String()})
}

// GetAgentByKeyHash retrieves the agent holding a key. It returns nil if none exists.
func (s *SQLiteStore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*models.Agent, error) {
	return s.getAgent(ctx, sq.Eq{"api_key_hash": keyHash})
}

func (s *SQLiteStore) getAgent(ctx context.Context, where sq.Eq) (*models.Agent, error) {
	query, args, err := s.psql.Select(agentColumns...).From("agents").Where(where).ToSql()
	if err != nil {
		return nil, storageError("build select agent", err)
	}

	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageError("select agent", err)
	}
	return agent, nil
}

// TouchAgent records the time of the agent's latest authenticated request.
func (s *SQLiteStore) TouchAgent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args, err := s.psql.
		Update("agents").
		Set("last_seen", models.FormatTimestamp(at)).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return storageError("build touch agent", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageError("touch agent", err)
	}
	return nil
}

// ListAgents returns every agent, most recently seen first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.Agent, error) {
	query, args, err := s.psql.
		Select(agentColumns...).
		From("agents").
		OrderBy("last_seen DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, storageError("build list agents", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStore) CountAgents(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count); err != nil {
		return 0, storageError("count agents", err)
	}
	return count, nil
}

// AppendMessage validates and stores a message, assigning its id and timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, agentID, agentName, content, room string) (*models.Message, error) {
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
		ToSql()
	if err != nil {
		return nil, storageError("build insert message", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("insert message", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return nil, storageError("message id", err)
	}
	return &msg, nil
}

// QueryRoom returns messages in room, see selectMessages for the since semantics.
func (s *SQLiteStore) QueryRoom(ctx context.Context, room, since string) ([]models.Message, error) {
	return s.queryMessages(ctx, models.NormalizeRoom(room), since)
}

// QueryAll returns messages across every room.
func (s *SQLiteStore) QueryAll(ctx context.Context, since string) ([]models.Message, error) {
	return s.queryMessages(ctx, "", since)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, room, since string) ([]models.Message, error) {
	query, args, err := selectMessages(s.psql, room, since).ToSql()
	if err != nil {
		return nil, storageError("build select messages", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStore) DistinctRooms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT room FROM messages ORDER BY room`)
	if err != nil {
		return nil, storageError("select rooms", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var room string
		if err := rows.Scan(&room); err != nil {
			return nil, storageError("scan room", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("select rooms", err)
	}
	return withDefaultRoom(rooms), nil
}

// CountMessages returns the number of messages in the log.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, storageError("count messages", err)
	}
	return count, nil
}

// LastActivity returns the timestamp of the newest message, or "" for an empty log.
func (s *SQLiteStore) LastActivity(ctx context.Context) (string, error) {
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sent_at) FROM messages`).Scan(&last); err != nil {
		return "", storageError("last activity", err)
	}
	return last.String, nil
}
