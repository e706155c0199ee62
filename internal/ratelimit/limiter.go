// Package ratelimit applies per-user, per-endpoint fixed-window admission.
// The counter state lives in the store so that limits hold across restarts
// and across replicas sharing a database.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

// Endpoint names used as counter keys. Each protected route gets its own
// independent window.
const (
	EndpointChat               = "chat"
	EndpointUpload             = "upload"
	EndpointDocumentDelete     = "document-delete"
	EndpointConversationDelete = "conversation-delete"
	EndpointProfile            = "profile"
	EndpointPassword           = "password"
)

// Limiter decides whether a request is admitted under the fixed-window rule.
type Limiter struct {
	counters store.RateCounters
	window   time.Duration
	max      int
	now      func() time.Time
	log      zerolog.Logger
}

func New(counters store.RateCounters, window time.Duration, max int, log zerolog.Logger) *Limiter {
	return &Limiter{
		counters: counters,
		window:   window,
		max:      max,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "ratelimit").Logger(),
	}
}

// WithClock overrides the limiter's clock. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether subjectID may perform one more request against
// endpoint. An admitted request consumes one slot; a denied request leaves the
// counter untouched. An empty subject is always denied: the limiter never
// pools unidentified callers into a shared bucket.
func (l *Limiter) Allow(ctx context.Context, subjectID, endpoint string) (bool, error) {
	if subjectID == "" {
		return false, nil
	}
	ok, err := l.counters.Admit(ctx, subjectID, endpoint, l.now(), l.window, l.max)
	if err != nil {
		return false, err
	}
	if !ok {
		l.log.Debug().Str("subject_id", subjectID).Str("endpoint", endpoint).Msg("rate limit exceeded")
	}
	return ok, nil
}

// Window returns the configured window length, used for Retry-After hints.
func (l *Limiter) Window() time.Duration { return l.window }
