package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/readerlab/bookchat/internal/store"
	"github.com/readerlab/bookchat/models"
)

// casRetries bounds how often an update is retried after losing a version race.
const casRetries = 3

// Manager owns per-conversation state: bounded message history, retrieval mode and
// expiry, all backed by the sessions table.
type Manager struct {
	store       *store.Store
	logger      *log.Logger
	ttl         time.Duration
	maxMessages int
}

// UpdateParams carries the optional pieces of a session update.
type UpdateParams struct {
	NewMessage  *models.Message
	Mode        models.RetrievalMode
	SelectionID *uuid.UUID
}

func NewManager(st *store.Store, logger *log.Logger, ttl time.Duration, maxMessages int) *Manager {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{store: st, logger: logger, ttl: ttl, maxMessages: maxMessages}
}

// Create allocates a new session with an empty message list and the default expiry
// window counted from now.
func (m *Manager) Create(ctx context.Context, userID string, mode models.RetrievalMode) (uuid.UUID, error) {
	if mode == "" {
		mode = models.RetrievalModeFullBook
	}
	id, err := m.store.CreateSession(ctx, userID, mode, m.ttl)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Printf("created session %s (user=%q)", id, userID)
	return id, nil
}

// Load returns the session iff it has not expired; expired sessions read as not found.
func (m *Manager) Load(ctx context.Context, id uuid.UUID) (models.Session, error) {
	return m.store.GetSession(ctx, id)
}

// Update is a read-modify-write: it appends the new message if present, truncates the
// history to the configured cap and writes back mode/selection/messages. The write is
// guarded by optimistic versioning so concurrent appends to one session are retried
// instead of silently lost. Updating a missing or expired session is an error, never
// an implicit create.
func (m *Manager) Update(ctx context.Context, id uuid.UUID, params UpdateParams) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		sess, err := m.store.GetSession(ctx, id)
		if err != nil {
			return err
		}

		if params.NewMessage != nil {
			sess.Messages = append(sess.Messages, *params.NewMessage)
			if len(sess.Messages) > m.maxMessages {
				sess.Messages = sess.Messages[len(sess.Messages)-m.maxMessages:]
			}
		}
		if params.Mode != "" {
			sess.ActiveRetrievalMode = params.Mode
		}
		if params.SelectionID != nil {
			sess.CurrentSelectionID = params.SelectionID
		}

		ok, err := m.store.UpdateSessionCAS(ctx, sess)
		if err != nil {
			return fmt.Errorf("update session %s: %w", id, err)
		}
		if ok {
			return nil
		}
		m.logger.Printf("session %s version conflict, retrying (attempt %d)", id, attempt+1)
	}
	return fmt.Errorf("update session %s: too many version conflicts", id)
}

// Expire explicitly deletes a session. Idempotent: a second call is a no-op.
func (m *Manager) Expire(ctx context.Context, id uuid.UUID) error {
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("expire session %s: %w", id, err)
	}
	return nil
}

// ConversationContext returns the most recent maxMessages turns for prompt
// construction. A missing or expired session yields an empty history, not an error.
func (m *Manager) ConversationContext(ctx context.Context, id uuid.UUID, maxMessages int) ([]models.Message, error) {
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, models.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msgs := sess.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	return msgs, nil
}
