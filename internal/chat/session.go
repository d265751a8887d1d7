// Package chat implements the per-session chat pipeline: the message
// cache, the typing registry and the optimistic send/settle cycle.
package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/agentdeck/internal/agentapi"
	"github.com/eldtechnologies/agentdeck/internal/crypto"
	"github.com/eldtechnologies/agentdeck/internal/metrics"
	"github.com/eldtechnologies/agentdeck/internal/models"
	"github.com/eldtechnologies/agentdeck/internal/objstore"
)

var (
	ErrEmptyMessage          = errors.New("message text is required")
	ErrUnsupportedAttachment = errors.New("only image attachments are supported")
	ErrSendInFlight          = errors.New("a message is already being sent")
	ErrNothingToRetry        = errors.New("no failed message to retry")
)

// RoomState is the send state of one conversation.
type RoomState string

const (
	StateIdle    RoomState = "idle"
	StateSending RoomState = "sending"
	StateSettled RoomState = "settled"
	StateFailed  RoomState = "failed"
)

const defaultDispatchTimeout = 2 * time.Minute

// Store is the persistence a session reads and writes.
type Store interface {
	GetOrCreateRoom(ctx context.Context, userID uuid.UUID, agentID string) (*models.Room, error)
	SaveMessage(ctx context.Context, roomID uuid.UUID, msg *models.Message) error
	ListMessages(ctx context.Context, roomID uuid.UUID) ([]models.Message, error)
}

// Agents delivers messages to the agent API.
type Agents interface {
	SendMessage(ctx context.Context, agentID, text, user string, file *agentapi.File) ([]models.Message, error)
}

// Files stores attachments.
type Files interface {
	Put(ctx context.Context, bucket, name, contentType string, r io.Reader) (*objstore.Object, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Store   Store
	Agents  Agents
	Files   Files
	Logger  zerolog.Logger
	Timeout time.Duration
}

// Attachment is a file submitted with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendInput is one user submission.
type SendInput struct {
	Text       string
	Attachment *Attachment
}

// IsImage reports whether contentType is an image type.
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// pending is the send currently in flight, or the last one that failed.
// A retry resumes where the failed attempt stopped: the agent is not asked
// again once it has answered, and saved messages are not saved twice.
type pending struct {
	user          models.Message
	placeholderID string
	file          *agentapi.File
	persisted     bool

	replies []models.Message
	saved   int
}

type room struct {
	state   RoomState
	last    *pending
	lastErr string
}

// View is a snapshot of one conversation.
type View struct {
	AgentID  string           `json:"agentId"`
	State    RoomState        `json:"state"`
	Typing   bool             `json:"typing"`
	Error    string           `json:"error,omitempty"`
	Messages []models.Message `json:"messages"`
}

// Session is the chat state of one signed-in client.
type Session struct {
	UserID uuid.UUID
	ID     string

	cache  *Cache
	typing *TypingRegistry
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	rooms    map[string]*room
	lastSeen time.Time

	inflight sync.WaitGroup
}

// NewSession creates an empty session.
func NewSession(userID uuid.UUID, id string, deps Deps) *Session {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultDispatchTimeout
	}
	return &Session{
		UserID:   userID,
		ID:       id,
		cache:    NewCache(),
		typing:   NewTypingRegistry(),
		deps:     deps,
		logger:   deps.Logger.With().Str("user", userID.String()).Str("session", id).Logger(),
		rooms:    make(map[string]*room),
		lastSeen: time.Now(),
	}
}

// Cache returns the session's message cache.
func (s *Session) Cache() *Cache { return s.cache }

// Typing returns the session's typing registry.
func (s *Session) Typing() *TypingRegistry { return s.typing }

// Touch records activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last recorded activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Busy reports whether any send is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.state == StateSending {
			return true
		}
	}
	return false
}

// State returns the send state for the agent's room.
func (s *Session) State(agentID string) RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[agentID]; ok {
		return r.state
	}
	return StateIdle
}

// View returns a snapshot of the agent's conversation.
func (s *Session) View(agentID string) View {
	s.mu.Lock()
	state, lastErr := StateIdle, ""
	if r, ok := s.rooms[agentID]; ok {
		state, lastErr = r.state, r.lastErr
	}
	s.mu.Unlock()

	return View{
		AgentID:  agentID,
		State:    state,
		Typing:   s.typing.IsTyping(agentID),
		Error:    lastErr,
		Messages: s.cache.Get(agentID),
	}
}

// roomLocked returns the room for agentID, creating it. Callers hold s.mu.
func (s *Session) roomLocked(agentID string) *room {
	r, ok := s.rooms[agentID]
	if !ok {
		r = &room{state: StateIdle}
		s.rooms[agentID] = r
	}
	return r
}

// Load reads the persisted history and replaces the cache entry. A send
// that is still in flight or failed keeps its user message and
// placeholder at the end of the list.
func (s *Session) Load(ctx context.Context, agentID string) ([]models.Message, error) {
	rm, err := s.deps.Store.GetOrCreateRoom(ctx, s.UserID, agentID)
	if err != nil {
		return nil, fmt.Errorf("open room: %w", err)
	}
	history, err := s.deps.Store.ListMessages(ctx, rm.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var tail *pending
	s.mu.Lock()
	if r, ok := s.rooms[agentID]; ok && r.last != nil && (r.state == StateSending || r.state == StateFailed) {
		p := *r.last
		tail = &p
	}
	s.mu.Unlock()

	s.cache.Update(agentID, func(cur []models.Message) []models.Message {
		out := cloneMessages(history)
		if tail == nil {
			return out
		}
		if !containsID(out, tail.user.ID) {
			out = append(out, tail.user)
		}
		for _, m := range cur {
			if m.ID == tail.placeholderID {
				out = append(out, m)
			}
		}
		return out
	})

	return s.cache.Get(agentID), nil
}

// Send appends the user's message and a placeholder to the cache, marks the
// agent as typing and dispatches the message in the background. The
// returned Exchange settles when the agent replies or the send fails.
func (s *Session) Send(ctx context.Context, agentID string, in SendInput) (*Exchange, error) {
	if strings.TrimSpace(in.Text) == "" {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyMessage
	}
	if in.Attachment != nil && !IsImage(in.Attachment.ContentType) {
		metrics.MessagesSent.WithLabelValues("rejected").Inc()
		return nil, ErrUnsupportedAttachment
	}

	s.mu.Lock()
	r := s.roomLocked(agentID)
	if r.state == StateSending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	prev := r.state
	var abandoned string
	if prev == StateFailed && r.last != nil {
		abandoned = r.last.placeholderID
	}
	r.state = StateSending
	s.lastSeen = time.Now()
	s.mu.Unlock()

	var (
		attachments []models.Attachment
		file        *agentapi.File
	)
	if a := in.Attachment; a != nil {
		obj, err := s.deps.Files.Put(ctx, objstore.BucketAttachments, objstore.ObjectName(a.Name), a.ContentType, bytes.NewReader(a.Data))
		if err != nil {
			s.mu.Lock()
			r.state = prev
			s.mu.Unlock()
			return nil, fmt.Errorf("store attachment: %w", err)
		}
		attachments = []models.Attachment{{URL: obj.URL, ContentType: a.ContentType, Title: a.Name}}
		file = &agentapi.File{Name: a.Name, ContentType: a.ContentType, Data: a.Data}
	}

	now := time.Now().UnixMilli()
	p := &pending{
		user: models.Message{
			ID:          crypto.NewMessageID(),
			User:        models.RoleUser,
			Text:        in.Text,
			CreatedAt:   now,
			Attachments: attachments,
		},
		placeholderID: "pending-" + crypto.NewMessageID(),
		file:          file,
	}

	// A new send replaces the failed one: its marker goes, its user message
	// stays.
	s.cache.Update(agentID, func(msgs []models.Message) []models.Message {
		out := make([]models.Message, 0, len(msgs)+2)
		for _, m := range msgs {
			if abandoned == "" || m.ID != abandoned {
				out = append(out, m)
			}
		}
		return append(out, cloneMessages([]models.Message{p.user, placeholder(p.placeholderID, now)})...)
	})
	s.typing.Set(agentID, true)

	s.mu.Lock()
	r.last = p
	r.lastErr = ""
	s.mu.Unlock()

	ex := newExchange(agentID, p.user)
	s.dispatch(ctx, agentID, p, ex)
	return ex, nil
}

// Retry re-dispatches the last failed send, turning its failed marker back
// into a placeholder.
func (s *Session) Retry(ctx context.Context, agentID string) (*Exchange, error) {
	s.mu.Lock()
	r, ok := s.rooms[agentID]
	if ok && r.state == StateSending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	if !ok || r.state != StateFailed || r.last == nil {
		s.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	r.state = StateSending
	r.lastErr = ""
	p := r.last
	s.lastSeen = time.Now()
	s.mu.Unlock()

	s.cache.Update(agentID, func(msgs []models.Message) []models.Message {
		for i := range msgs {
			if msgs[i].ID == p.placeholderID {
				msgs[i].IsLoading = true
				msgs[i].IsTyping = true
				msgs[i].Error = ""
				return msgs
			}
		}
		return append(msgs, placeholder(p.placeholderID, time.Now().UnixMilli()))
	})
	s.typing.Set(agentID, true)
	metrics.SendRetries.Inc()

	ex := newExchange(agentID, p.user)
	s.dispatch(ctx, agentID, p, ex)
	return ex, nil
}

// Leave clears the agent's typing flag when its chat view closes. An
// in-flight send keeps running.
func (s *Session) Leave(agentID string) {
	s.typing.Set(agentID, false)
}

// Wait blocks until every dispatched send has settled.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// dispatch runs the exchange detached from the caller's cancellation.
func (s *Session) dispatch(ctx context.Context, agentID string, p *pending, ex *Exchange) {
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(ctx, s.deps.Timeout)
		defer cancel()

		replies, err := s.deliver(ctx, agentID, p)
		if err != nil {
			s.fail(agentID, p, err)
			ex.finish(nil, err)
			return
		}
		s.settle(agentID, replies)
		ex.finish(replies, nil)
	}()
}

// deliver sends the message to the agent API while persisting the user's
// message, then persists the replies.
func (s *Session) deliver(ctx context.Context, agentID string, p *pending) ([]models.Message, error) {
	rm, err := s.deps.Store.GetOrCreateRoom(ctx, s.UserID, agentID)
	if err != nil {
		return nil, fmt.Errorf("open room: %w", err)
	}

	s.mu.Lock()
	persisted, answered := p.persisted, p.replies != nil
	s.mu.Unlock()

	var g errgroup.Group
	if !answered {
		g.Go(func() error {
			out, err := s.deps.Agents.SendMessage(ctx, agentID, p.user.Text, string(models.RoleUser), p.file)
			if err != nil {
				return err
			}
			if out == nil {
				out = []models.Message{}
			}
			s.mu.Lock()
			p.replies = out
			s.mu.Unlock()
			return nil
		})
	}
	if !persisted {
		g.Go(func() error {
			msg := p.user
			if err := s.deps.Store.SaveMessage(ctx, rm.ID, &msg); err != nil {
				return fmt.Errorf("save message: %w", err)
			}
			s.mu.Lock()
			p.persisted = true
			s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	replies, saved := p.replies, p.saved
	s.mu.Unlock()

	for i := saved; i < len(replies); i++ {
		if err := s.deps.Store.SaveMessage(ctx, rm.ID, &replies[i]); err != nil {
			return nil, fmt.Errorf("save reply: %w", err)
		}
		s.mu.Lock()
		p.saved = i + 1
		s.mu.Unlock()
	}
	return replies, nil
}

// settle drops the placeholder and appends the replies. Replies already in
// the cache, loaded from history after a partial save, are not repeated.
func (s *Session) settle(agentID string, replies []models.Message) {
	s.cache.Update(agentID, func(msgs []models.Message) []models.Message {
		out := make([]models.Message, 0, len(msgs)+len(replies))
		for _, m := range msgs {
			if !m.IsPending() {
				out = append(out, m)
			}
		}
		for _, m := range cloneMessages(replies) {
			if m.ID == "" || !containsID(out, m.ID) {
				out = append(out, m)
			}
		}
		return out
	})
	s.typing.Set(agentID, false)

	s.mu.Lock()
	r := s.roomLocked(agentID)
	r.state = StateSettled
	r.last = nil
	r.lastErr = ""
	s.mu.Unlock()

	metrics.MessagesSent.WithLabelValues("settled").Inc()
}

// fail turns the placeholder into a failed marker. The cache never shrinks.
func (s *Session) fail(agentID string, p *pending, err error) {
	msg := err.Error()
	s.cache.Update(agentID, func(msgs []models.Message) []models.Message {
		for i := range msgs {
			if msgs[i].ID == p.placeholderID {
				msgs[i].IsLoading = false
				msgs[i].IsTyping = false
				msgs[i].Error = msg
				return msgs
			}
		}
		marker := placeholder(p.placeholderID, time.Now().UnixMilli())
		marker.IsLoading, marker.IsTyping, marker.Error = false, false, msg
		return append(msgs, marker)
	})
	s.typing.Set(agentID, false)

	s.mu.Lock()
	r := s.roomLocked(agentID)
	r.state = StateFailed
	r.last = p
	r.lastErr = msg
	s.mu.Unlock()

	metrics.MessagesSent.WithLabelValues("failed").Inc()
	s.logger.Warn().Err(err).Str("agent", agentID).Msg("message send failed")
}

func placeholder(id string, createdAt int64) models.Message {
	return models.Message{
		ID:        id,
		User:      models.RoleAgent,
		CreatedAt: createdAt,
		IsLoading: true,
		IsTyping:  true,
	}
}

func containsID(msgs []models.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
