package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentdeck/internal/chat"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

var agents = []models.RemoteAgent{
	{ID: "1", Name: "HelpBot"},
	{ID: "2", Name: "Eliza"},
	{ID: "3", Name: "robotics tutor"},
	{ID: "4", Name: "BOTANIST"},
}

type staticSource struct {
	agents []models.RemoteAgent
	calls  int
	err    error
}

func (s *staticSource) ListAgents(ctx context.Context) ([]models.RemoteAgent, error) {
	s.calls++
	return s.agents, s.err
}

func TestFilter(t *testing.T) {
	names := func(list []models.RemoteAgent) []string {
		out := []string{}
		for _, a := range list {
			out = append(out, a.Name)
		}
		return out
	}

	assert.Equal(t, []string{"HelpBot", "robotics tutor", "BOTANIST"}, names(Filter(agents, "bot")))
	assert.Equal(t, []string{"HelpBot", "robotics tutor", "BOTANIST"}, names(Filter(agents, "  BoT ")))
	assert.Len(t, Filter(agents, ""), 4)
	assert.Len(t, Filter(agents, "   "), 4)
	assert.Empty(t, Filter(agents, "zzz"))
}

func TestListFlagsTyping(t *testing.T) {
	typing := chat.NewTypingRegistry()
	typing.Set("2", true)

	d := New(&staticSource{agents: agents}, nil, zerolog.Nop())
	entries, err := d.List(context.Background(), "", typing)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.False(t, entries[0].Typing)
	assert.True(t, entries[1].Typing)

	// Leaving the chat clears the flag in the next listing.
	typing.Set("2", false)
	entries, err = d.List(context.Background(), "eliza", typing)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Typing)
}

func TestListUsesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	src := &staticSource{agents: agents}
	d := New(src, cache, zerolog.Nop())
	ctx := context.Background()

	_, err := d.List(ctx, "", nil)
	require.NoError(t, err)
	_, err = d.List(ctx, "bot", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	mr.FastForward(10 * time.Second)
	_, err = d.List(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestListError(t *testing.T) {
	d := New(&staticSource{err: errors.New("down")}, nil, zerolog.Nop())
	_, err := d.List(context.Background(), "", nil)
	assert.EqualError(t, err, "down")
}
