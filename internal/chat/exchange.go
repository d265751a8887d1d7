package chat

import (
	"context"

	"github.com/eldtechnologies/agentdeck/internal/models"
)

// Exchange is one dispatched send.
type Exchange struct {
	AgentID     string
	UserMessage models.Message

	done    chan struct{}
	replies []models.Message
	err     error
}

func newExchange(agentID string, user models.Message) *Exchange {
	return &Exchange{AgentID: agentID, UserMessage: user, done: make(chan struct{})}
}

func (e *Exchange) finish(replies []models.Message, err error) {
	e.replies = replies
	e.err = err
	close(e.done)
}

// Done is closed once the exchange settles or fails.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange completes or ctx ends, and returns the
// agent's replies.
func (e *Exchange) Wait(ctx context.Context) ([]models.Message, error) {
	select {
	case <-e.done:
		return e.replies, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
