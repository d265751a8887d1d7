package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/agentdeck/internal/crypto"
	"github.com/eldtechnologies/agentdeck/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureProfile creates the user's profile on first sign-in.
func (s *PostgresStore) EnsureProfile(ctx context.Context, userID uuid.UUID, username string) (*models.Profile, error) {
	p := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, username
	`, userID, username).Scan(&p.ID, &p.Username)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureUserSettings creates the settings row with the default quota if missing.
func (s *PostgresStore) EnsureUserSettings(ctx context.Context, userID uuid.UUID, maxAgents int) (*models.UserSettings, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, max_agents, agents_created)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, maxAgents)
	if err != nil {
		return nil, err
	}
	return s.GetUserSettings(ctx, userID)
}

// GetUserSettings retrieves a user's settings. Returns nil if none exist.
func (s *PostgresStore) GetUserSettings(ctx context.Context, userID uuid.UUID) (*models.UserSettings, error) {
	us := &models.UserSettings{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, max_agents, agents_created FROM user_settings WHERE user_id = $1
	`, userID).Scan(&us.UserID, &us.MaxAgents, &us.AgentsCreated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return us, nil
}

// GetSubscription retrieves a user's subscription. Returns nil if none exist.
func (s *PostgresStore) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, plan_type, status FROM subscriptions WHERE user_id = $1
	`, userID).Scan(&sub.UserID, &sub.PlanType, &sub.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// CreateAgent creates a new agent, enforcing the user's quota in the same transaction.
// The settings row is locked so concurrent creates for one user serialize.
func (s *PostgresStore) CreateAgent(ctx context.Context, userID uuid.UUID, in AgentInput, defaultQuota int) (*models.Agent, error) {
	in = normalizeAgentInput(in)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_settings (user_id, max_agents, agents_created)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, defaultQuota); err != nil {
		return nil, err
	}

	var maxAgents int
	if err := tx.QueryRow(ctx, `
		SELECT max_agents FROM user_settings WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&maxAgents); err != nil {
		return nil, err
	}

	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM ai_agents WHERE user_id = $1
	`, userID).Scan(&count); err != nil {
		return nil, err
	}
	if count >= maxAgents {
		return nil, ErrQuotaExceeded
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO ai_agents (id, user_id, name, logo, tags, bio, lore, style, model_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+pgAgentColumns,
		crypto.NewUUIDv7(), userID, in.Name, in.Logo, in.Tags, in.Bio, in.Lore, in.Style, in.ModelProvider)
	agent, err := scanPGAgent(row)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE user_settings SET agents_created = $2 WHERE user_id = $1
	`, userID, count+1); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return agent, nil
}

// UpdateAgent updates an agent owned by userID.
func (s *PostgresStore) UpdateAgent(ctx context.Context, userID, id uuid.UUID, in AgentInput) (*models.Agent, error) {
	in = normalizeAgentInput(in)

	row := s.pool.QueryRow(ctx, `
		UPDATE ai_agents
		SET name = $3, logo = $4, tags = $5, bio = $6, lore = $7, style = $8, model_provider = $9, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+pgAgentColumns,
		id, userID, in.Name, in.Logo, in.Tags, in.Bio, in.Lore, in.Style, in.ModelProvider)
	agent, err := scanPGAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return agent, nil
}

// DeleteAgent deletes an agent owned by userID and frees its quota slot.
func (s *PostgresStore) DeleteAgent(ctx context.Context, userID, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM ai_agents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE user_settings
		SET agents_created = (SELECT COUNT(*) FROM ai_agents WHERE user_id = $1)
		WHERE user_id = $1
	`, userID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const pgAgentColumns = `id, user_id, name, logo, tags, bio, lore, style, model_provider, created_at, updated_at`

func scanPGAgent(row pgx.Row) (*models.Agent, error) {
	agent := &models.Agent{}
	err := row.Scan(
		&agent.ID,
		&agent.UserID,
		&agent.Name,
		&agent.Logo,
		&agent.Tags,
		&agent.Bio,
		&agent.Lore,
		&agent.Style,
		&agent.ModelProvider,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgent retrieves an agent owned by userID. Returns nil if not found.
func (s *PostgresStore) GetAgent(ctx context.Context, userID, id uuid.UUID) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgAgentColumns+` FROM ai_agents WHERE id = $1 AND user_id = $2
	`, id, userID)
	agent, err := scanPGAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListAgents lists a user's agents, newest first.
func (s *PostgresStore) ListAgents(ctx context.Context, userID uuid.UUID) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgAgentColumns+` FROM ai_agents WHERE user_id = $1 ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		agent, err := scanPGAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of agents a user owns.
func (s *PostgresStore) CountAgents(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ai_agents WHERE user_id = $1`, userID).Scan(&count)
	return count, err
}

// GetOrCreateRoom returns the room for (userID, agentID), creating it on first use.
func (s *PostgresStore) GetOrCreateRoom(ctx context.Context, userID uuid.UUID, agentID string) (*models.Room, error) {
	id := crypto.RoomID(userID, agentID)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, user_id, agent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, id, userID, agentID)
	if err != nil {
		return nil, err
	}

	room := &models.Room{}
	err = s.pool.QueryRow(ctx, `
		SELECT id, user_id, agent_id, created_at, last_active_at, message_count
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.UserID,
		&room.AgentID,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// SaveMessage persists a message, assigning its id and timestamp if unset.
func (s *PostgresStore) SaveMessage(ctx context.Context, roomID uuid.UUID, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = crypto.NewMessageID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	msg.RoomID = roomID.String()

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO messages (id, room_id, user_role, body, attachments, source, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, roomID, string(msg.User), msg.Text, encodeAttachments(msg.Attachments),
		msg.Source, msg.Action, msg.CreatedAt)
	batch.Queue(`
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = NOW()
		WHERE id = $1
	`, roomID)

	return s.pool.SendBatch(ctx, batch).Close()
}

// ListMessages returns a room's messages in insertion order.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID uuid.UUID) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_role, body, attachments, source, action, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC, seq ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg         models.Message
			room        uuid.UUID
			role        string
			attachments string
		)
		if err := rows.Scan(&msg.ID, &room, &role, &msg.Text, &attachments, &msg.Source, &msg.Action, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.RoomID = room.String()
		msg.User = models.Role(role)
		msg.Attachments = decodeAttachments(attachments)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

const pgDeploymentColumns = `id, user_id, agent_id, name, plan_type, status, project_id, created_at, updated_at`

func scanPGDeployment(row pgx.Row) (*models.Deployment, error) {
	d := &models.Deployment{}
	var status string
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.AgentID,
		&d.Name,
		&d.PlanType,
		&status,
		&d.ProjectID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = models.DeploymentStatus(status)
	return d, nil
}

// CreateDeployment records a new pending deployment.
func (s *PostgresStore) CreateDeployment(ctx context.Context, userID uuid.UUID, in DeploymentInput) (*models.Deployment, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO deployments (id, user_id, agent_id, name, plan_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+pgDeploymentColumns,
		crypto.NewUUIDv7(), userID, in.AgentID, in.Name, in.PlanType, string(models.StatusPending))
	return scanPGDeployment(row)
}

// GetDeployment retrieves a deployment by id. Returns nil if not found.
func (s *PostgresStore) GetDeployment(ctx context.Context, id uuid.UUID) (*models.Deployment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgDeploymentColumns+` FROM deployments WHERE id = $1
	`, id)
	d, err := scanPGDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

// ListDeployments lists a user's deployments, newest first.
func (s *PostgresStore) ListDeployments(ctx context.Context, userID uuid.UUID) ([]models.Deployment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgDeploymentColumns+` FROM deployments WHERE user_id = $1 ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := []models.Deployment{}
	for rows.Next() {
		d, err := scanPGDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// UpdateDeploymentStatus sets the status (and project id, when non-empty) of a deployment.
func (s *PostgresStore) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status models.DeploymentStatus, projectID string) (*models.Deployment, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE deployments
		SET status = $2, project_id = COALESCE(NULLIF($3, ''), project_id), updated_at = NOW()
		WHERE id = $1
		RETURNING `+pgDeploymentColumns,
		id, string(status), projectID)
	d, err := scanPGDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// CountDeployed returns how many of a user's deployments are live.
func (s *PostgresStore) CountDeployed(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM deployments WHERE user_id = $1 AND status = $2
	`, userID, string(models.StatusDeployed)).Scan(&count)
	return count, err
}
