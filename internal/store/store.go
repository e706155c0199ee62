package store

import (
	"context"
	"time"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
type Store interface {
	Users() Users
	Conversations() Conversations
	Messages() Messages
	Documents() Documents
	RateCounters() RateCounters
	Jobs() Jobs
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, displayName *string, timeZone string) (*model.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type Conversations interface {
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	List(ctx context.Context, userID string) ([]*model.Conversation, error)
	// Touch bumps UpdateTime after a completed chat turn.
	Touch(ctx context.Context, conversationID string, at time.Time) error
	// Delete removes the conversation and cascades to its messages.
	Delete(ctx context.Context, conversationID string) error
}

type Messages interface {
	Create(ctx context.Context, m *model.Message) (*model.Message, error)
	// List returns the conversation's messages in insertion order.
	List(ctx context.Context, conversationID string) ([]*model.Message, error)
}

type Documents interface {
	// Create inserts the document row and its process_document job in one
	// transaction, so ingestion can never be silently lost.
	Create(ctx context.Context, d *model.Document) (*model.Document, error)
	Get(ctx context.Context, documentID string) (*model.Document, error)
	List(ctx context.Context, userID string) ([]*model.Document, error)
	SetStatus(ctx context.Context, documentID, status string, chunkCount int, at time.Time) error
	// Delete removes the document row and enqueues its delete_document job
	// in one transaction.
	Delete(ctx context.Context, documentID string) error
}

// RateCounters stores one fixed-window counter per (subject, endpoint).
type RateCounters interface {
	// Admit applies the fixed-window decision in a single atomic write:
	// create with count=1 when absent, reset to count=1 when the window has
	// elapsed, increment while under max, otherwise leave the row untouched.
	// Concurrent callers must never both increment past max or both win a
	// window reset.
	Admit(ctx context.Context, subjectID, endpoint string, now time.Time, window time.Duration, max int) (bool, error)
	Get(ctx context.Context, subjectID, endpoint string) (*model.RateLimitCounter, error)
}

// Jobs is the document-job outbox consumed by the background worker.
type Jobs interface {
	Enqueue(ctx context.Context, j *model.DocumentJob) error
	// Lease claims up to limit ready jobs (pending, next attempt due) so that
	// concurrent workers never process the same row twice.
	Lease(ctx context.Context, limit int, now time.Time) ([]*model.DocumentJob, error)
	MarkDone(ctx context.Context, id int64) error
	// MarkFailed returns the job to the pending state with an increased
	// attempt count, eligible again at nextAttemptAt.
	MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error
}
