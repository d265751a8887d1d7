package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/agentdeck/internal/crypto"
	"github.com/eldtechnologies/agentdeck/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/agentdeck.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/agentdeck.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Immediate transactions serialize quota checks against concurrent inserts.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_settings (
		user_id TEXT PRIMARY KEY,
		max_agents INTEGER NOT NULL DEFAULT 3,
		agents_created INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id TEXT PRIMARY KEY,
		plan_type TEXT NOT NULL DEFAULT 'basic',
		status TEXT NOT NULL DEFAULT 'inactive'
	);

	CREATE TABLE IF NOT EXISTS ai_agents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		logo TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		bio TEXT NOT NULL DEFAULT '[]',
		lore TEXT NOT NULL DEFAULT '[]',
		style TEXT NOT NULL DEFAULT '[]',
		model_provider TEXT NOT NULL DEFAULT 'mistral',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count INTEGER DEFAULT 0,
		UNIQUE (user_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_role TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		attachments TEXT NOT NULL DEFAULT '[]',
		source TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		agent_id TEXT,
		name TEXT NOT NULL,
		plan_type TEXT NOT NULL DEFAULT 'basic',
		status TEXT NOT NULL DEFAULT 'pending',
		project_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_ai_agents_user ON ai_agents(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_deployments_user ON deployments(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureProfile creates the user's profile on first sign-in.
func (s *SQLiteStore) EnsureProfile(ctx context.Context, userID uuid.UUID, username string) (*models.Profile, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO profiles (id, username) VALUES (?, ?)
	`, userID.String(), username)
	if err != nil {
		return nil, err
	}

	p := &models.Profile{ID: userID}
	err = s.db.QueryRowContext(ctx, `SELECT username FROM profiles WHERE id = ?`, userID.String()).Scan(&p.Username)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureUserSettings creates the settings row with the default quota if missing.
func (s *SQLiteStore) EnsureUserSettings(ctx context.Context, userID uuid.UUID, maxAgents int) (*models.UserSettings, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_settings (user_id, max_agents, agents_created) VALUES (?, ?, 0)
	`, userID.String(), maxAgents)
	if err != nil {
		return nil, err
	}
	return s.GetUserSettings(ctx, userID)
}

// GetUserSettings retrieves a user's settings. Returns nil if none exist.
func (s *SQLiteStore) GetUserSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	us := &models.UserSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT max_agents, agents_created FROM user_settings WHERE user_id = ?
	`, userID.String()).Scan(&us.MaxAgents, &us.AgentsCreated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return us, nil
}

// GetSubscription retrieves a user's subscription. Returns nil if none exist.
func (s *SQLiteStore) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub := &models.Subscription{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_type, status FROM subscriptions WHERE user_id = ?
	`, userID.String()).Scan(&sub.PlanType, &sub.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// CreateAgent creates a new agent, enforcing the user's quota in the same transaction.
func (s *SQLiteStore) CreateAgent(ctx context.Context, userID uuid.UUID, in AgentInput, defaultQuota int) (*models.Agent, error) {
	in = normalizeAgentInput(in)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_settings (user_id, max_agents, agents_created) VALUES (?, ?, 0)
	`, userID.String(), defaultQuota); err != nil {
		return nil, err
	}

	var maxAgents int
	if err := tx.QueryRowContext(ctx, `
		SELECT max_agents FROM user_settings WHERE user_id = ?
	`, userID.String()).Scan(&maxAgents); err != nil {
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ai_agents WHERE user_id = ?
	`, userID.String()).Scan(&count); err != nil {
		return nil, err
	}
	if count >= maxAgents {
		return nil, ErrQuotaExceeded
	}

	id := crypto.NewUUIDv7()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ai_agents (id, user_id, name, logo, tags, bio, lore, style, model_provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), userID.String(), in.Name, in.Logo, encodeList(in.Tags), encodeList(in.Bio),
		encodeList(in.Lore), encodeList(in.Style), in.ModelProvider, now, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_settings SET agents_created = ? WHERE user_id = ?
	`, count+1, userID.String()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetAgent(ctx, userID, id)
}

// UpdateAgent updates an agent owned by userID.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, userID, id uuid.UUID, in AgentInput) (*models.Agent, error) {
	in = normalizeAgentInput(in)

	res, err := s.db.ExecContext(ctx, `
		UPDATE ai_agents
		SET name = ?, logo = ?, tags = ?, bio = ?, lore = ?, style = ?, model_provider = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, in.Name, in.Logo, encodeList(in.Tags), encodeList(in.Bio), encodeList(in.Lore),
		encodeList(in.Style), in.ModelProvider, time.Now().UTC(), id.String(), userID.String())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetAgent(ctx, userID, id)
}

// DeleteAgent deletes an agent owned by userID and frees its quota slot.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, userID, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM ai_agents WHERE id = ? AND user_id = ?
	`, id.String(), userID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE user_settings
		SET agents_created = (SELECT COUNT(*) FROM ai_agents WHERE user_id = ?)
		WHERE user_id = ?
	`, userID.String(), userID.String()); err != nil {
		return err
	}

	return tx.Commit()
}

const sqliteAgentColumns = `id, user_id, name, logo, tags, bio, lore, style, model_provider, created_at, updated_at`

func scanSQLiteAgent(row interface{ Scan(...any) error }) (*models.Agent, error) {
	var (
		agent                       models.Agent
		idStr, userStr              string
		tags, bio, lore, styleLines string
	)
	err := row.Scan(
		&idStr,
		&userStr,
		&agent.Name,
		&agent.Logo,
		&tags,
		&bio,
		&lore,
		&styleLines,
		&agent.ModelProvider,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if agent.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("agent id: %w", err)
	}
	if agent.UserID, err = uuid.Parse(userStr); err != nil {
		return nil, fmt.Errorf("agent user id: %w", err)
	}
	agent.Tags = decodeList(tags)
	agent.Bio = decodeList(bio)
	agent.Lore = decodeList(lore)
	agent.Style = decodeList(styleLines)
	return &agent, nil
}

// GetAgent retrieves an agent owned by userID. Returns nil if not found.
func (s *SQLiteStore) GetAgent(ctx context.Context, userID, id uuid.UUID) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteAgentColumns+` FROM ai_agents WHERE id = ? AND user_id = ?
	`, id.String(), userID.String())
	agent, err := scanSQLiteAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListAgents lists a user's agents, newest first.
func (s *SQLiteStore) ListAgents(ctx context.Context, userID uuid.UUID) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteAgentColumns+` FROM ai_agents WHERE user_id = ? ORDER BY created_at DESC, id DESC
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		agent, err := scanSQLiteAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of agents a user owns.
func (s *SQLiteStore) CountAgents(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ai_agents WHERE user_id = ?`, userID.String()).Scan(&count)
	return count, err
}

// GetOrCreateRoom returns the room for (userID, agentID), creating it on first use.
func (s *SQLiteStore) GetOrCreateRoom(ctx context.Context, userID uuid.UUID, agentID string) (*models.Room, error) {
	id := crypto.RoomID(userID, agentID)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rooms (id, user_id, agent_id) VALUES (?, ?, ?)
	`, id.String(), userID.String(), agentID)
	if err != nil {
		return nil, err
	}

	room := &models.Room{ID: id, UserID: userID}
	err = s.db.QueryRowContext(ctx, `
		SELECT agent_id, created_at, last_active_at, message_count FROM rooms WHERE id = ?
	`, id.String()).Scan(&room.AgentID, &room.CreatedAt, &room.LastActiveAt, &room.MessageCount)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// SaveMessage persists a message, assigning its id and timestamp if unset.
func (s *SQLiteStore) SaveMessage(ctx context.Context, roomID uuid.UUID, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = crypto.NewMessageID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	msg.RoomID = roomID.String()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, user_role, body, attachments, source, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, string(msg.User), msg.Text, encodeAttachments(msg.Attachments),
		msg.Source, msg.Action, msg.CreatedAt)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, msg.RoomID)
	return err
}

// ListMessages returns a room's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, user_role, body, attachments, source, action, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY created_at ASC, seq ASC
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var role, attachments string
		if err := rows.Scan(&msg.ID, &msg.RoomID, &role, &msg.Text, &attachments, &msg.Source, &msg.Action, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.User = models.Role(role)
		msg.Attachments = decodeAttachments(attachments)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

const sqliteDeploymentColumns = `id, user_id, agent_id, name, plan_type, status, project_id, created_at, updated_at`

func scanSQLiteDeployment(row interface{ Scan(...any) error }) (*models.Deployment, error) {
	var (
		d              models.Deployment
		idStr, userStr string
		agentStr       *string
		status         string
	)
	err := row.Scan(&idStr, &userStr, &agentStr, &d.Name, &d.PlanType, &status, &d.ProjectID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("deployment id: %w", err)
	}
	if d.UserID, err = uuid.Parse(userStr); err != nil {
		return nil, fmt.Errorf("deployment user id: %w", err)
	}
	if agentStr != nil {
		if agentID, err := uuid.Parse(*agentStr); err == nil {
			d.AgentID = &agentID
		}
	}
	d.Status = models.DeploymentStatus(status)
	return &d, nil
}

// CreateDeployment records a new pending deployment.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, userID uuid.UUID, in DeploymentInput) (*models.Deployment, error) {
	id := crypto.NewUUIDv7()
	now := time.Now().UTC()

	var agentStr *string
	if in.AgentID != nil {
		str := in.AgentID.String()
		agentStr = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, user_id, agent_id, name, plan_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), userID.String(), agentStr, in.Name, in.PlanType, string(models.StatusPending), now, now)
	if err != nil {
		return nil, err
	}
	return s.GetDeployment(ctx, id)
}

// GetDeployment retrieves a deployment by id. Returns nil if not found.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id uuid.UUID) (*models.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteDeploymentColumns+` FROM deployments WHERE id = ?
	`, id.String())
	d, err := scanSQLiteDeployment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ListDeployments lists a user's deployments, newest first.
func (s *SQLiteStore) ListDeployments(ctx context.Context, userID uuid.UUID) ([]models.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteDeploymentColumns+` FROM deployments WHERE user_id = ? ORDER BY created_at DESC, id DESC
	`, userID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := []models.Deployment{}
	for rows.Next() {
		d, err := scanSQLiteDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// UpdateDeploymentStatus sets the status (and project id, when non-empty) of a deployment.
func (s *SQLiteStore) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, projectID string) (*models.Deployment, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments
		SET status = ?, project_id = CASE WHEN ? = '' THEN project_id ELSE ? END, updated_at = ?
		WHERE id = ?
	`, string(status), projectID, projectID, time.Now().UTC(), id.String())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetDeployment(ctx, id)
}

// CountDeployed returns how many of a user's deployments are live.
func (s *SQLiteStore) CountDeployed(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM deployments WHERE user_id = ? AND status = ?
	`, userID.String(), string(models.StatusDeployed)).Scan(&count)
	return count, err
}
