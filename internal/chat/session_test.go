package chat

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentdeck/internal/agentapi"
	"github.com/eldtechnologies/agentdeck/internal/crypto"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/objstore"
	"github.com/eldtechnologies/agentdeck/internal/store"
)

// memStore keeps rooms and messages in memory.
type memStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]models.Message
	saveErr  error
	// failRole limits saveErr to messages from one role.
	failRole models.Role
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[uuid.UUID][]models.Message)}
}

func (m *memStore) GetOrCreateRoom(ctx context.Context, userID uuid.UUID, agentID string) (*models.Room, error) {
	return &models.Room{ID: crypto.RoomID(userID, agentID), UserID: userID, AgentID: agentID}, nil
}

func (m *memStore) SaveMessage(ctx context.Context, roomID uuid.UUID, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil && (m.failRole == "" || msg.User == m.failRole) {
		return m.saveErr
	}
	if msg.ID == "" {
		msg.ID = crypto.NewMessageID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	msg.RoomID = roomID.String()
	m.messages[roomID] = append(m.messages[roomID], *msg)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, roomID uuid.UUID) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages[roomID]...), nil
}

// fakeAgents answers each call with the next queued result. A call blocks
// until release is closed, when set.
type fakeAgents struct {
	mu      sync.Mutex
	release chan struct{}
	results []fakeResult
	calls   []string
	files   []*agentapi.File
}

type fakeResult struct {
	replies []models.Message
	err     error
}

func (f *fakeAgents) SendMessage(ctx context.Context, agentID, text, user string, file *agentapi.File) ([]models.Message, error) {
	f.mu.Lock()
	release := f.release
	f.calls = append(f.calls, text)
	f.files = append(f.files, file)
	var res fakeResult
	if len(f.results) > 0 {
		res = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if res.err != nil {
		return nil, res.err
	}
	out := make([]models.Message, len(res.replies))
	copy(out, res.replies)
	return out, nil
}

type fakeFiles struct{}

func (fakeFiles) Put(ctx context.Context, bucket, name, contentType string, r io.Reader) (*objstore.Object, error) {
	data, _ := io.ReadAll(r)
	return &objstore.Object{Bucket: bucket, Name: name, URL: "/storage/" + bucket + "/" + name, ContentType: contentType, Size: int64(len(data))}, nil
}

func reply(text string) fakeResult {
	return fakeResult{replies: []models.Message{{User: models.RoleAgent, Text: text}}}
}

func newTestSession(st Store, agents Agents) *Session {
	return NewSession(uuid.New(), "test", Deps{
		Store:   st,
		Agents:  agents,
		Files:   fakeFiles{},
		Logger:  zerolog.Nop(),
		Timeout: 5 * time.Second,
	})
}

func TestSendAppendsPlaceholderThenSettles(t *testing.T) {
	agents := &fakeAgents{release: make(chan struct{}), results: []fakeResult{reply("hi there")}}
	s := newTestSession(newMemStore(), agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)

	// Before the request settles: the user message and one placeholder.
	msgs := s.Cache().Get("a1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, models.RoleUser, msgs[0].User)
	assert.True(t, msgs[1].IsLoading)
	assert.True(t, msgs[1].IsTyping)
	assert.True(t, s.Typing().IsTyping("a1"))
	assert.Equal(t, StateSending, s.State("a1"))

	close(agents.release)
	replies, err := ex.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.NotEmpty(t, replies[0].ID)

	msgs = s.Cache().Get("a1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "hi there", msgs[1].Text)
	assert.False(t, msgs[1].IsPending())
	assert.False(t, s.Typing().IsTyping("a1"))
	assert.Equal(t, StateSettled, s.State("a1"))
}

func TestSendRejectsInvalidInput(t *testing.T) {
	s := newTestSession(newMemStore(), &fakeAgents{})
	ctx := context.Background()

	_, err := s.Send(ctx, "a1", SendInput{Text: "   \n"})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.Send(ctx, "a1", SendInput{Text: "look", Attachment: &Attachment{Name: "doc.pdf", ContentType: "application/pdf"}})
	assert.ErrorIs(t, err, ErrUnsupportedAttachment)

	assert.Empty(t, s.Cache().Get("a1"))
	assert.Equal(t, StateIdle, s.State("a1"))
}

func TestSendOneAtATimePerRoom(t *testing.T) {
	agents := &fakeAgents{release: make(chan struct{}), results: []fakeResult{reply("one"), reply("two")}}
	s := newTestSession(newMemStore(), agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "first"})
	require.NoError(t, err)

	_, err = s.Send(ctx, "a1", SendInput{Text: "second"})
	assert.ErrorIs(t, err, ErrSendInFlight)

	// Other rooms are independent.
	other, err := s.Send(ctx, "a2", SendInput{Text: "elsewhere"})
	require.NoError(t, err)

	close(agents.release)
	_, err = ex.Wait(ctx)
	require.NoError(t, err)
	_, err = other.Wait(ctx)
	require.NoError(t, err)
}

func TestIdenticalSendsAreNotDeduplicated(t *testing.T) {
	st := newMemStore()
	agents := &fakeAgents{results: []fakeResult{reply("a"), reply("b")}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ex, err := s.Send(ctx, "a1", SendInput{Text: "same"})
		require.NoError(t, err)
		_, err = ex.Wait(ctx)
		require.NoError(t, err)
	}

	msgs := s.Cache().Get("a1")
	require.Len(t, msgs, 4)
	assert.Equal(t, "same", msgs[0].Text)
	assert.Equal(t, "same", msgs[2].Text)
}

func TestFailedSendKeepsUserMessage(t *testing.T) {
	agents := &fakeAgents{results: []fakeResult{{err: &agentapi.Error{Status: 502, Message: "agent offline"}}}}
	s := newTestSession(newMemStore(), agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	before := s.Cache().Len("a1")

	_, err = ex.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, "agent offline", err.Error())

	msgs := s.Cache().Get("a1")
	assert.GreaterOrEqual(t, len(msgs), before)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[1].IsFailed())
	assert.False(t, msgs[1].IsPending())
	assert.False(t, s.Typing().IsTyping("a1"))
	assert.Equal(t, StateFailed, s.State("a1"))
	assert.Equal(t, "agent offline", s.View("a1").Error)
}

func TestRetryAfterFailure(t *testing.T) {
	st := newMemStore()
	agents := &fakeAgents{results: []fakeResult{{err: errors.New("timeout")}, reply("finally")}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	_, err := s.Retry(ctx, "a1")
	assert.ErrorIs(t, err, ErrNothingToRetry)

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	_, err = ex.Wait(ctx)
	require.Error(t, err)

	ex, err = s.Retry(ctx, "a1")
	require.NoError(t, err)
	replies, err := ex.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 1)

	msgs := s.Cache().Get("a1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "finally", msgs[1].Text)
	for _, m := range msgs {
		assert.False(t, m.IsFailed())
	}
	assert.Equal(t, []string{"hello", "hello"}, agents.calls)

	// The user message was persisted once.
	stored, err := st.ListMessages(ctx, crypto.RoomID(s.UserID, "a1"))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, models.RoleUser, stored[0].User)
	assert.Equal(t, models.RoleAgent, stored[1].User)
}

func TestLeaveClearsTyping(t *testing.T) {
	agents := &fakeAgents{release: make(chan struct{}), results: []fakeResult{reply("late")}}
	s := newTestSession(newMemStore(), agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, s.Typing().Snapshot())

	s.Leave("a1")
	assert.False(t, s.Typing().IsTyping("a1"))
	assert.Empty(t, s.Typing().Snapshot())

	// The send is not cancelled by leaving.
	close(agents.release)
	replies, err := ex.Wait(ctx)
	require.NoError(t, err)
	assert.Len(t, replies, 1)
}

func TestDispatchOutlivesRequestContext(t *testing.T) {
	agents := &fakeAgents{release: make(chan struct{}), results: []fakeResult{reply("ok")}}
	s := newTestSession(newMemStore(), agents)

	reqCtx, cancel := context.WithCancel(context.Background())
	ex, err := s.Send(reqCtx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	cancel()
	close(agents.release)

	_, err = ex.Wait(context.Background())
	assert.NoError(t, err)
}

func TestSendWithImageAttachment(t *testing.T) {
	agents := &fakeAgents{results: []fakeResult{reply("nice cat")}}
	s := newTestSession(newMemStore(), agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{
		Text:       "look",
		Attachment: &Attachment{Name: "cat.png", ContentType: "image/png", Data: []byte{1}},
	})
	require.NoError(t, err)
	require.Len(t, ex.UserMessage.Attachments, 1)
	att := ex.UserMessage.Attachments[0]
	assert.Equal(t, "image/png", att.ContentType)
	assert.Equal(t, "cat.png", att.Title)
	assert.Contains(t, att.URL, "/storage/attachments/")

	_, err = ex.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, agents.files, 1)
	assert.Equal(t, "cat.png", agents.files[0].Name)
}

func TestReloadReproducesOrder(t *testing.T) {
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	defer st.Close()

	agents := &fakeAgents{results: []fakeResult{reply("one"), reply("two"), reply("three")}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		ex, err := s.Send(ctx, "a1", SendInput{Text: text})
		require.NoError(t, err)
		_, err = ex.Wait(ctx)
		require.NoError(t, err)
	}
	visible := texts(s.Cache().Get("a1"))

	first, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	second, err := s.Load(ctx, "a1")
	require.NoError(t, err)

	assert.Equal(t, visible, texts(first))
	assert.Equal(t, texts(first), texts(second))

	// A fresh session for the same user sees the same history.
	fresh := NewSession(s.UserID, "other", Deps{Store: st, Agents: agents, Logger: zerolog.Nop()})
	loaded, err := fresh.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, visible, texts(loaded))
}

func TestLoadKeepsInFlightTail(t *testing.T) {
	st := newMemStore()
	agents := &fakeAgents{release: make(chan struct{}), results: []fakeResult{reply("done")}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)

	msgs, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[1].IsPending())

	close(agents.release)
	_, err = ex.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "done"}, texts(s.Cache().Get("a1")))
}

func TestPersistFailureFailsSend(t *testing.T) {
	st := newMemStore()
	st.saveErr = errors.New("disk full")
	agents := &fakeAgents{results: []fakeResult{reply("hi")}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	_, err = ex.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StateFailed, s.State("a1"))
	assert.Equal(t, 2, s.Cache().Len("a1"))
}

func TestReplySaveFailureFailsSend(t *testing.T) {
	st := newMemStore()
	st.saveErr = errors.New("disk full")
	st.failRole = models.RoleAgent
	agents := &fakeAgents{results: []fakeResult{reply("first answer")}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	_, err = ex.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save reply")
	assert.Equal(t, StateFailed, s.State("a1"))

	msgs := s.Cache().Get("a1")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsFailed())

	// The failed send survives a reload.
	loaded, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "hello", loaded[0].Text)
	assert.True(t, loaded[1].IsFailed())

	// Retry saves the reply it already has without asking the agent again.
	st.mu.Lock()
	st.saveErr = nil
	st.mu.Unlock()

	ex, err = s.Retry(ctx, "a1")
	require.NoError(t, err)
	replies, err := ex.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "first answer", replies[0].Text)
	assert.Equal(t, []string{"hello"}, agents.calls)

	stored, err := st.ListMessages(ctx, crypto.RoomID(s.UserID, "a1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "first answer"}, texts(stored))

	loaded, err = s.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "first answer"}, texts(loaded))
}

func TestRetrySkipsSavedReplies(t *testing.T) {
	st := &flakyReplyStore{memStore: newMemStore(), failAt: 2}
	agents := &fakeAgents{results: []fakeResult{{replies: []models.Message{
		{User: models.RoleAgent, Text: "one"},
		{User: models.RoleAgent, Text: "two"},
	}}}}
	s := newTestSession(st, agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "hello"})
	require.NoError(t, err)
	_, err = ex.Wait(ctx)
	require.Error(t, err)

	// A reload shows the reply that made it to the store.
	loaded, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "one", loaded[1].Text)
	assert.True(t, loaded[2].IsFailed())

	ex, err = s.Retry(ctx, "a1")
	require.NoError(t, err)
	_, err = ex.Wait(ctx)
	require.NoError(t, err)

	stored, err := st.ListMessages(ctx, crypto.RoomID(s.UserID, "a1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "one", "two"}, texts(stored))
	assert.Equal(t, []string{"hello", "one", "two"}, texts(s.Cache().Get("a1")))
	assert.Len(t, agents.calls, 1)
}

func TestSendAfterFailureDropsFailedMarker(t *testing.T) {
	agents := &fakeAgents{results: []fakeResult{{err: errors.New("timeout")}, reply("ok")}}
	s := newTestSession(newMemStore(), agents)
	ctx := context.Background()

	ex, err := s.Send(ctx, "a1", SendInput{Text: "first"})
	require.NoError(t, err)
	_, err = ex.Wait(ctx)
	require.Error(t, err)
	before := s.Cache().Len("a1")

	ex, err = s.Send(ctx, "a1", SendInput{Text: "second"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Cache().Len("a1"), before)
	_, err = ex.Wait(ctx)
	require.NoError(t, err)

	msgs := s.Cache().Get("a1")
	assert.Equal(t, []string{"first", "second", "ok"}, texts(msgs))
	for _, m := range msgs {
		assert.False(t, m.IsFailed())
	}
	assert.Equal(t, StateSettled, s.State("a1"))
	_, err = s.Retry(ctx, "a1")
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

// flakyReplyStore fails the failAt-th agent reply once.
type flakyReplyStore struct {
	*memStore
	failAt  int
	replies int
	failed  bool
}

func (f *flakyReplyStore) SaveMessage(ctx context.Context, roomID uuid.UUID, msg *models.Message) error {
	if msg.User == models.RoleAgent {
		f.mu.Lock()
		f.replies++
		fail := !f.failed && f.replies == f.failAt
		if fail {
			f.failed = true
		}
		f.mu.Unlock()
		if fail {
			return errors.New("connection reset")
		}
	}
	return f.memStore.SaveMessage(ctx, roomID, msg)
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}
