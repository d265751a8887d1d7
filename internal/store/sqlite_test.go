package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSQLiteAgentQuota(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 3; i++ {
		_, err := s.CreateAgent(ctx, user, AgentInput{Name: "agent"}, 3)
		require.NoError(t, err)
	}

	_, err := s.CreateAgent(ctx, user, AgentInput{Name: "fourth"}, 3)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	count, err := s.CountAgents(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	settings, err := s.GetUserSettings(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, settings.MaxAgents)
	assert.Equal(t, 3, settings.AgentsCreated)

	// Another user has their own quota.
	_, err = s.CreateAgent(ctx, uuid.New(), AgentInput{Name: "other"}, 3)
	assert.NoError(t, err)
}

func TestSQLiteAgentQuotaConcurrent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	user := uuid.New()

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateAgent(ctx, user, AgentInput{Name: "racer"}, 3)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	count, err := s.CountAgents(ctx, user)
	require.NoError(t, err)
	assert.LessOrEqual(t, count, int64(3))
}

func TestSQLiteAgentCRUD(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	user := uuid.New()

	agent, err := s.CreateAgent(ctx, user, AgentInput{
		Name: "  Ada  ",
		Tags: []string{"math", "poetry"},
		Bio:  []string{"first line", "second line"},
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, "Ada", agent.Name)
	assert.Equal(t, models.DefaultModelProvider, agent.ModelProvider)
	assert.Equal(t, []string{"math", "poetry"}, agent.Tags)
	assert.Equal(t, []string{}, agent.Lore)

	updated, err := s.UpdateAgent(ctx, user, agent.ID, AgentInput{Name: "Ada L", ModelProvider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "Ada L", updated.Name)
	assert.Equal(t, "openai", updated.ModelProvider)

	// Other users cannot see or touch it.
	other := uuid.New()
	got, err := s.GetAgent(ctx, other, agent.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = s.UpdateAgent(ctx, other, agent.ID, AgentInput{Name: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteAgent(ctx, other, agent.ID), ErrNotFound)

	require.NoError(t, s.DeleteAgent(ctx, user, agent.ID))
	list, err := s.ListAgents(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list)

	settings, err := s.GetUserSettings(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 0, settings.AgentsCreated)
}

func TestSQLiteRoomsAndMessages(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	user := uuid.New()

	room, err := s.GetOrCreateRoom(ctx, user, "agent-1")
	require.NoError(t, err)
	again, err := s.GetOrCreateRoom(ctx, user, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)
	assert.Equal(t, "agent-1", again.AgentID)

	// Identical texts are stored twice, and same-millisecond rows keep insertion order.
	texts := []string{"hi", "hi", "hello"}
	for _, text := range texts {
		require.NoError(t, s.SaveMessage(ctx, room.ID, &models.Message{User: models.RoleUser, Text: text, CreatedAt: 1000}))
	}
	require.NoError(t, s.SaveMessage(ctx, room.ID, &models.Message{
		User: models.RoleAgent,
		Text: "reply",
		Attachments: []models.Attachment{
			{URL: "/storage/attachments/a.png", ContentType: "image/png", Title: "a.png"},
		},
	}))

	for i := 0; i < 2; i++ {
		msgs, err := s.ListMessages(ctx, room.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		assert.Equal(t, "hi", msgs[0].Text)
		assert.Equal(t, "hi", msgs[1].Text)
		assert.Equal(t, "hello", msgs[2].Text)
		assert.Equal(t, "reply", msgs[3].Text)
		assert.Equal(t, models.RoleAgent, msgs[3].User)
		assert.NotEmpty(t, msgs[3].ID)
		require.Len(t, msgs[3].Attachments, 1)
		assert.Equal(t, "image/png", msgs[3].Attachments[0].ContentType)
	}

	room, err = s.GetOrCreateRoom(ctx, user, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), room.MessageCount)
}

func TestSQLiteDeployments(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	user := uuid.New()

	agent, err := s.CreateAgent(ctx, user, AgentInput{Name: "Ada"}, 3)
	require.NoError(t, err)

	d, err := s.CreateDeployment(ctx, user, DeploymentInput{AgentID: &agent.ID, Name: "ada", PlanType: "basic"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, d.Status)
	require.NotNil(t, d.AgentID)
	assert.Equal(t, agent.ID, *d.AgentID)

	d, err = s.UpdateDeploymentStatus(ctx, d.ID, models.StatusDeploying, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", d.ProjectID)

	// Empty project id keeps the existing one.
	d, err = s.UpdateDeploymentStatus(ctx, d.ID, models.StatusDeployed, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeployed, d.Status)
	assert.Equal(t, "proj-1", d.ProjectID)

	n, err := s.CountDeployed(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.UpdateDeploymentStatus(ctx, uuid.New(), models.StatusFailed, "")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListDeployments(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteProfileAndSettings(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	user := uuid.New()

	p, err := s.EnsureProfile(ctx, user, "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", p.Username)

	// Second call keeps the first username.
	p, err = s.EnsureProfile(ctx, user, "other")
	require.NoError(t, err)
	assert.Equal(t, "ada", p.Username)

	us, err := s.EnsureUserSettings(ctx, user, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, us.MaxAgents)
	assert.Equal(t, 0, us.AgentsCreated)

	sub, err := s.GetSubscription(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, sub)
}
