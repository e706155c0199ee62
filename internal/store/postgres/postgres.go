package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
// Schema setup is owned by deployment migrations.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

// EnsureSchema applies the embedded DDL, for integration tests and local runs.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

type pgStore struct{ db *sql.DB }

func (s *pgStore) Users() store.Users                 { return &users{db: s.db} }
func (s *pgStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *pgStore) Messages() store.Messages           { return &messages{db: s.db} }
func (s *pgStore) Documents() store.Documents         { return &documents{db: s.db} }
func (s *pgStore) RateCounters() store.RateCounters   { return &rateCounters{db: s.db} }
func (s *pgStore) Jobs() store.Jobs                   { return &jobs{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Users ---

type users struct{ db *sql.DB }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.Status == "" {
		out.Status = "ACTIVE"
	}
	if out.TimeZone == "" {
		out.TimeZone = "UTC"
	}
	row := u.db.QueryRowContext(ctx, `
        INSERT INTO users (user_id, email, display_name, password_hash, time_zone, status)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING creation_time`,
		out.UserID, out.Email, out.DisplayName, out.PasswordHash, out.TimeZone, out.Status)
	if err := row.Scan(&out.CreationTime); err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	row := u.db.QueryRowContext(ctx, `
        SELECT user_id, email, display_name, password_hash, time_zone, status, creation_time
        FROM users WHERE user_id = $1`, userID)
	var out model.User
	if err := row.Scan(&out.UserID, &out.Email, &out.DisplayName, &out.PasswordHash, &out.TimeZone, &out.Status, &out.CreationTime); err != nil {
		return nil, mapNoRows(err)
	}
	return &out, nil
}

func (u *users) UpdateProfile(ctx context.Context, userID string, displayName *string, timeZone string) (*model.User, error) {
	res, err := u.db.ExecContext(ctx, `
        UPDATE users SET display_name = $1, time_zone = $2 WHERE user_id = $3`,
		displayName, timeZone, userID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, model.ErrNotFound
	}
	return u.Get(ctx, userID)
}

func (u *users) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := u.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE user_id = $2`, passwordHash, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Conversations ---

type conversations struct{ db *sql.DB }

func (c *conversations) Create(ctx context.Context, m *model.Conversation) (*model.Conversation, error) {
	out := *m
	if out.ConversationID == "" {
		out.ConversationID = uuid.New().String()
	}
	if out.CreationTime.IsZero() {
		out.CreationTime = time.Now().UTC()
	}
	if out.UpdateTime.IsZero() {
		out.UpdateTime = out.CreationTime
	}
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, user_id, title, creation_time, update_time)
        VALUES ($1,$2,$3,$4,$5)`,
		out.ConversationID, out.UserID, out.Title, out.CreationTime, out.UpdateTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, user_id, title, creation_time, update_time
        FROM conversations WHERE conversation_id = $1`, conversationID)
	var out model.Conversation
	if err := row.Scan(&out.ConversationID, &out.UserID, &out.Title, &out.CreationTime, &out.UpdateTime); err != nil {
		return nil, mapNoRows(err)
	}
	return &out, nil
}

func (c *conversations) List(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT conversation_id, user_id, title, creation_time, update_time
        FROM conversations WHERE user_id = $1 ORDER BY update_time DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Conversation
	for rows.Next() {
		var cv model.Conversation
		if err := rows.Scan(&cv.ConversationID, &cv.UserID, &cv.Title, &cv.CreationTime, &cv.UpdateTime); err != nil {
			return nil, err
		}
		out = append(out, &cv)
	}
	return out, rows.Err()
}

func (c *conversations) Touch(ctx context.Context, conversationID string, at time.Time) error {
	// GREATEST keeps update_time monotone even under concurrent turns.
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations SET update_time = GREATEST(update_time, $1) WHERE conversation_id = $2`,
		at, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (c *conversations) Delete(ctx context.Context, conversationID string) error {
	// Messages go with it via ON DELETE CASCADE.
	res, err := c.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Messages ---

type messages struct{ db *sql.DB }

func (m *messages) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	out := *msg
	if out.MessageID == "" {
		out.MessageID = uuid.New().String()
	}
	if out.CreationTime.IsZero() {
		out.CreationTime = time.Now().UTC()
	}
	sources := out.Sources
	if sources == nil {
		sources = []model.Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, err
	}
	_, err = m.db.ExecContext(ctx, `
        INSERT INTO messages (message_id, conversation_id, role, content, sources, creation_time)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		out.MessageID, out.ConversationID, out.Role, out.Content, raw, out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *messages) List(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT message_id, conversation_id, role, content, sources, creation_time
        FROM messages WHERE conversation_id = $1 ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		var msg model.Message
		var raw []byte
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &raw, &msg.CreationTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &msg.Sources); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// --- Documents ---

type documents struct{ db *sql.DB }

func (d *documents) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	out := *doc
	if out.DocumentID == "" {
		out.DocumentID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = model.DocumentPending
	}
	if out.CreationTime.IsZero() {
		out.CreationTime = time.Now().UTC()
	}
	out.UpdateTime = out.CreationTime

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO documents (document_id, user_id, filename, filepath, status, chunk_count, creation_time, update_time)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		out.DocumentID, out.UserID, out.Filename, out.Filepath, out.Status, out.ChunkCount, out.CreationTime, out.UpdateTime)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"documentId": out.DocumentID,
		"userId":     out.UserID,
		"filename":   out.Filename,
		"filepath":   out.Filepath,
	}
	if err := enqueueTx(ctx, tx, model.OpProcessDocument, out.DocumentID, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *documents) Get(ctx context.Context, documentID string) (*model.Document, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT document_id, user_id, filename, filepath, status, chunk_count, creation_time, update_time
        FROM documents WHERE document_id = $1`, documentID)
	var out model.Document
	if err := row.Scan(&out.DocumentID, &out.UserID, &out.Filename, &out.Filepath, &out.Status, &out.ChunkCount, &out.CreationTime, &out.UpdateTime); err != nil {
		return nil, mapNoRows(err)
	}
	return &out, nil
}

func (d *documents) List(ctx context.Context, userID string) ([]*model.Document, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT document_id, user_id, filename, filepath, status, chunk_count, creation_time, update_time
        FROM documents WHERE user_id = $1 ORDER BY creation_time DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.DocumentID, &doc.UserID, &doc.Filename, &doc.Filepath, &doc.Status, &doc.ChunkCount, &doc.CreationTime, &doc.UpdateTime); err != nil {
			return nil, err
		}
		out = append(out, &doc)
	}
	return out, rows.Err()
}

func (d *documents) SetStatus(ctx context.Context, documentID, status string, chunkCount int, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res, err := d.db.ExecContext(ctx, `
        UPDATE documents SET status = $1, chunk_count = $2, update_time = $3 WHERE document_id = $4`,
		status, chunkCount, at, documentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (d *documents) Delete(ctx context.Context, documentID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT user_id FROM documents WHERE document_id = $1`, documentID)
	var userID string
	if err := row.Scan(&userID); err != nil {
		return mapNoRows(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = $1`, documentID); err != nil {
		return err
	}
	payload := map[string]interface{}{"documentId": documentID, "userId": userID}
	if err := enqueueTx(ctx, tx, model.OpDeleteDocument, documentID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Rate limit counters ---

type rateCounters struct{ db *sql.DB }

func (r *rateCounters) Admit(ctx context.Context, subjectID, endpoint string, now time.Time, window time.Duration, max int) (bool, error) {
	cutoff := now.Add(-window)
	// Single conditional upsert: create, reset after window expiry, or
	// increment while under max. A denied request matches no row, so the
	// counter is left untouched and RowsAffected reports zero. Row-level
	// locking serializes concurrent callers on the same key.
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO rate_limit_counters (subject_id, endpoint, count, window_start)
        VALUES ($1,$2,1,$3)
        ON CONFLICT (subject_id, endpoint) DO UPDATE SET
            count = CASE WHEN rate_limit_counters.window_start <= $4 THEN 1
                         ELSE rate_limit_counters.count + 1 END,
            window_start = CASE WHEN rate_limit_counters.window_start <= $4 THEN $3
                                ELSE rate_limit_counters.window_start END
        WHERE rate_limit_counters.count < $5 OR rate_limit_counters.window_start <= $4`,
		subjectID, endpoint, now, cutoff, max)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *rateCounters) Get(ctx context.Context, subjectID, endpoint string) (*model.RateLimitCounter, error) {
	row := r.db.QueryRowContext(ctx, `
        SELECT subject_id, endpoint, count, window_start
        FROM rate_limit_counters WHERE subject_id = $1 AND endpoint = $2`, subjectID, endpoint)
	var out model.RateLimitCounter
	if err := row.Scan(&out.SubjectID, &out.Endpoint, &out.Count, &out.WindowStart); err != nil {
		return nil, mapNoRows(err)
	}
	return &out, nil
}

// --- Document jobs ---

type jobs struct{ db *sql.DB }

func enqueueTx(ctx context.Context, tx *sql.Tx, op, documentID string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO document_jobs (op, document_id, payload) VALUES ($1,$2,$3)`,
		op, documentID, raw)
	return err
}

func (j *jobs) Enqueue(ctx context.Context, job *model.DocumentJob) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := enqueueTx(ctx, tx, job.Op, job.DocumentID, job.Payload); err != nil {
		return err
	}
	return tx.Commit()
}

// leaseTTL bounds how long a leased job may sit in 'processing' before it is
// considered abandoned and handed to the next Lease call.
const leaseTTL = 5 * time.Minute

func (j *jobs) Lease(ctx context.Context, limit int, now time.Time) ([]*model.DocumentJob, error) {
	// SKIP LOCKED lets concurrent workers lease disjoint batches. Rows stuck
	// in 'processing' past the lease TTL belong to a dead worker and are
	// leased again.
	rows, err := j.db.QueryContext(ctx, `
        UPDATE document_jobs SET status = 'processing', update_time = now()
        WHERE id IN (
            SELECT id FROM document_jobs
            WHERE (status = 'pending' AND next_attempt_at <= $1)
               OR (status = 'processing' AND update_time <= $2)
            ORDER BY id ASC
            FOR UPDATE SKIP LOCKED
            LIMIT $3
        )
        RETURNING id, op, document_id, payload, attempt_count, next_attempt_at`,
		now, now.Add(-leaseTTL), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.DocumentJob
	for rows.Next() {
		var job model.DocumentJob
		var raw []byte
		if err := rows.Scan(&job.ID, &job.Op, &job.DocumentID, &raw, &job.AttemptCount, &job.NextAttemptAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &job.Payload); err != nil {
			return nil, err
		}
		out = append(out, &job)
	}
	return out, rows.Err()
}

func (j *jobs) MarkDone(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx, `
        UPDATE document_jobs SET status = 'done', update_time = now() WHERE id = $1`, id)
	return err
}

func (j *jobs) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
        UPDATE document_jobs
        SET status = 'pending', attempt_count = attempt_count + 1,
            next_attempt_at = $1, update_time = now()
        WHERE id = $2`, nextAttemptAt, id)
	return err
}

// --- helpers ---

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
