// Package worker drains the document job outbox: it leases pending jobs and
// applies their backend side effects (chunk indexing, index cleanup), marking
// documents processed or failed as it goes.
package worker

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

// maxBackoffSeconds caps the retry backoff for failed jobs.
const maxBackoffSeconds = 300

// BackendClient is the slice of the gateway the worker needs.
type BackendClient interface {
	ProcessDocument(ctx context.Context, d *model.Document) (int, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Config controls batch size and polling cadence.
type Config struct {
	BatchSize int
	Interval  time.Duration
}

// Worker polls the job outbox and applies document operations to the backend.
type Worker struct {
	store   store.Store
	backend BackendClient
	cfg     Config
	now     func() time.Time
	log     zerolog.Logger
}

func New(s store.Store, backend BackendClient, cfg Config, log zerolog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Worker{
		store:   s,
		backend: backend,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.With().Str("component", "docworker").Logger(),
	}
}

// WithClock overrides the worker clock. Test hook.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run starts the polling loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("batch", w.cfg.BatchSize).Dur("interval", w.cfg.Interval).Msg("document worker starting")
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("document worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				// Log and continue; per-job backoff prevents hot-looping.
				w.log.Error().Err(err).Msg("process cycle failed")
			}
		}
	}
}

// ProcessOnce leases one batch and handles every job in it.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	jobs, err := w.store.Jobs().Lease(ctx, w.cfg.BatchSize, w.now())
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if err := w.handle(ctx, j); err != nil {
			w.log.Warn().Err(err).Int64("job_id", j.ID).Str("op", j.Op).Int("attempts", j.AttemptCount).Msg("job failed, rescheduling")
			next := w.now().Add(backoff(j.AttemptCount))
			if e := w.store.Jobs().MarkFailed(ctx, j.ID, next); e != nil {
				w.log.Error().Err(e).Int64("job_id", j.ID).Msg("mark failed errored")
			}
			continue
		}
		if e := w.store.Jobs().MarkDone(ctx, j.ID); e != nil {
			w.log.Error().Err(e).Int64("job_id", j.ID).Msg("mark done errored")
		}
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, j *model.DocumentJob) error {
	switch j.Op {
	case model.OpProcessDocument:
		return w.processDocument(ctx, j)
	case model.OpDeleteDocument:
		return w.backend.DeleteDocument(ctx, j.DocumentID)
	default:
		// Unknown ops complete immediately rather than retrying forever.
		w.log.Error().Str("op", j.Op).Int64("job_id", j.ID).Msg("unknown job op, dropping")
		return nil
	}
}

func (w *Worker) processDocument(ctx context.Context, j *model.DocumentJob) error {
	doc, err := w.store.Documents().Get(ctx, j.DocumentID)
	if err != nil {
		if err == model.ErrNotFound {
			// Document deleted while the job waited; nothing to index.
			return nil
		}
		return err
	}
	chunks, err := w.backend.ProcessDocument(ctx, doc)
	if err != nil {
		// Surface the failure on the document row so the owner sees it; the
		// job itself still retries.
		if e := w.store.Documents().SetStatus(ctx, doc.DocumentID, model.DocumentFailed, 0, w.now()); e != nil {
			w.log.Error().Err(e).Str("document_id", doc.DocumentID).Msg("set failed status errored")
		}
		return err
	}
	if err := w.store.Documents().SetStatus(ctx, doc.DocumentID, model.DocumentProcessed, chunks, w.now()); err != nil {
		return err
	}
	w.log.Info().Str("document_id", doc.DocumentID).Int("chunks", chunks).Msg("document processed")
	return nil
}

// backoff returns the capped exponential delay applied after a failure with
// the given prior attempt count.
func backoff(attempts int) time.Duration {
	secs := math.Min(math.Pow(2, float64(attempts+1)), maxBackoffSeconds)
	return time.Duration(secs) * time.Second
}
