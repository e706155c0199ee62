package sqlite

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

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// New opens the database at path, applies the schema and returns a store.
func New(path string) (store.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection. Callers own schema setup.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

// EnsureSchema applies the embedded DDL. All statements are idempotent.
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

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Users() store.Users                 { return &users{db: s.db} }
func (s *sqliteStore) Conversations() store.Conversations { return &conversations{db: s.db} }
func (s *sqliteStore) Messages() store.Messages           { return &messages{db: s.db} }
func (s *sqliteStore) Documents() store.Documents         { return &documents{db: s.db} }
func (s *sqliteStore) RateCounters() store.RateCounters   { return &rateCounters{db: s.db} }
func (s *sqliteStore) Jobs() store.Jobs                   { return &jobs{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
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
	out.CreationTime = orNow(m.CreationTime)
	_, err := u.db.ExecContext(ctx, `
        INSERT INTO users (user_id, email, display_name, password_hash, time_zone, status, creation_time_ms)
        VALUES (?,?,?,?,?,?,?)`,
		out.UserID, out.Email, out.DisplayName, out.PasswordHash, out.TimeZone, out.Status, ms(out.CreationTime))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	row := u.db.QueryRowContext(ctx, `
        SELECT user_id, email, display_name, password_hash, time_zone, status, creation_time_ms
        FROM users WHERE user_id = ?`, userID)
	var out model.User
	var created int64
	if err := row.Scan(&out.UserID, &out.Email, &out.DisplayName, &out.PasswordHash, &out.TimeZone, &out.Status, &created); err != nil {
		return nil, mapNoRows(err)
	}
	out.CreationTime = fromMS(created)
	return &out, nil
}

func (u *users) UpdateProfile(ctx context.Context, userID string, displayName *string, timeZone string) (*model.User, error) {
	res, err := u.db.ExecContext(ctx, `
        UPDATE users SET display_name = ?, time_zone = ? WHERE user_id = ?`,
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
	res, err := u.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE user_id = ?`, passwordHash, userID)
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
	out.CreationTime = orNow(m.CreationTime)
	if out.UpdateTime.IsZero() {
		out.UpdateTime = out.CreationTime
	}
	_, err := c.db.ExecContext(ctx, `
        INSERT INTO conversations (conversation_id, user_id, title, creation_time_ms, update_time_ms)
        VALUES (?,?,?,?,?)`,
		out.ConversationID, out.UserID, out.Title, ms(out.CreationTime), ms(out.UpdateTime))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *conversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := c.db.QueryRowContext(ctx, `
        SELECT conversation_id, user_id, title, creation_time_ms, update_time_ms
        FROM conversations WHERE conversation_id = ?`, conversationID)
	return scanConversation(row)
}

func (c *conversations) List(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT conversation_id, user_id, title, creation_time_ms, update_time_ms
        FROM conversations WHERE user_id = ? ORDER BY update_time_ms DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Conversation
	for rows.Next() {
		cv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func (c *conversations) Touch(ctx context.Context, conversationID string, at time.Time) error {
	// MAX keeps update_time monotone even under concurrent turns.
	res, err := c.db.ExecContext(ctx, `
        UPDATE conversations SET update_time_ms = MAX(update_time_ms, ?) WHERE conversation_id = ?`,
		ms(at), conversationID)
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
	res, err := c.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var out model.Conversation
	var created, updated int64
	if err := row.Scan(&out.ConversationID, &out.UserID, &out.Title, &created, &updated); err != nil {
		return nil, mapNoRows(err)
	}
	out.CreationTime = fromMS(created)
	out.UpdateTime = fromMS(updated)
	return &out, nil
}

// --- Messages ---

type messages struct{ db *sql.DB }

func (m *messages) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	out := *msg
	if out.MessageID == "" {
		out.MessageID = uuid.New().String()
	}
	out.CreationTime = orNow(msg.CreationTime)
	sources := out.Sources
	if sources == nil {
		sources = []model.Source{}
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, err
	}
	_, err = m.db.ExecContext(ctx, `
        INSERT INTO messages (message_id, conversation_id, role, content, sources, creation_time_ms)
        VALUES (?,?,?,?,?,?)`,
		out.MessageID, out.ConversationID, out.Role, out.Content, string(raw), ms(out.CreationTime))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *messages) List(ctx context.Context, conversationID string) ([]*model.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
        SELECT message_id, conversation_id, role, content, sources, creation_time_ms
        FROM messages WHERE conversation_id = ? ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Message
	for rows.Next() {
		var msg model.Message
		var raw string
		var created int64
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.Role, &msg.Content, &raw, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &msg.Sources); err != nil {
			return nil, err
		}
		msg.CreationTime = fromMS(created)
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
	out.CreationTime = orNow(doc.CreationTime)
	out.UpdateTime = out.CreationTime

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO documents (document_id, user_id, filename, filepath, status, chunk_count, creation_time_ms, update_time_ms)
        VALUES (?,?,?,?,?,?,?,?)`,
		out.DocumentID, out.UserID, out.Filename, out.Filepath, out.Status, out.ChunkCount, ms(out.CreationTime), ms(out.UpdateTime))
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"documentId": out.DocumentID,
		"userId":     out.UserID,
		"filename":   out.Filename,
		"filepath":   out.Filepath,
	}
	if err := enqueueTx(ctx, tx, model.OpProcessDocument, out.DocumentID, payload, out.CreationTime); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (d *documents) Get(ctx context.Context, documentID string) (*model.Document, error) {
	row := d.db.QueryRowContext(ctx, `
        SELECT document_id, user_id, filename, filepath, status, chunk_count, creation_time_ms, update_time_ms
        FROM documents WHERE document_id = ?`, documentID)
	return scanDocument(row)
}

func (d *documents) List(ctx context.Context, userID string) ([]*model.Document, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT document_id, user_id, filename, filepath, status, chunk_count, creation_time_ms, update_time_ms
        FROM documents WHERE user_id = ? ORDER BY creation_time_ms DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (d *documents) SetStatus(ctx context.Context, documentID, status string, chunkCount int, at time.Time) error {
	res, err := d.db.ExecContext(ctx, `
        UPDATE documents SET status = ?, chunk_count = ?, update_time_ms = ? WHERE document_id = ?`,
		status, chunkCount, ms(orNow(at)), documentID)
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

	row := tx.QueryRowContext(ctx, `SELECT user_id FROM documents WHERE document_id = ?`, documentID)
	var userID string
	if err := row.Scan(&userID); err != nil {
		return mapNoRows(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID); err != nil {
		return err
	}
	payload := map[string]interface{}{"documentId": documentID, "userId": userID}
	if err := enqueueTx(ctx, tx, model.OpDeleteDocument, documentID, payload, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var out model.Document
	var created, updated int64
	if err := row.Scan(&out.DocumentID, &out.UserID, &out.Filename, &out.Filepath, &out.Status, &out.ChunkCount, &created, &updated); err != nil {
		return nil, mapNoRows(err)
	}
	out.CreationTime = fromMS(created)
	out.UpdateTime = fromMS(updated)
	return &out, nil
}

// --- Rate limit counters ---

type rateCounters struct{ db *sql.DB }

func (r *rateCounters) Admit(ctx context.Context, subjectID, endpoint string, now time.Time, window time.Duration, max int) (bool, error) {
	nowMs := ms(now)
	cutoff := ms(now.Add(-window))
	// Single conditional upsert: create, reset after window expiry, or
	// increment while under max. A denied request matches no row, so the
	// counter is left untouched and RowsAffected reports zero. SQLite
	// serializes writers, so concurrent callers cannot both pass the guard.
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO rate_limit_counters (subject_id, endpoint, count, window_start_ms)
        VALUES (?,?,1,?)
        ON CONFLICT(subject_id, endpoint) DO UPDATE SET
            count = CASE WHEN window_start_ms <= ? THEN 1 ELSE count + 1 END,
            window_start_ms = CASE WHEN window_start_ms <= ? THEN ? ELSE window_start_ms END
        WHERE rate_limit_counters.count < ? OR rate_limit_counters.window_start_ms <= ?`,
		subjectID, endpoint, nowMs,
		cutoff, cutoff, nowMs,
		max, cutoff)
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
        SELECT subject_id, endpoint, count, window_start_ms
        FROM rate_limit_counters WHERE subject_id = ? AND endpoint = ?`, subjectID, endpoint)
	var out model.RateLimitCounter
	var start int64
	if err := row.Scan(&out.SubjectID, &out.Endpoint, &out.Count, &start); err != nil {
		return nil, mapNoRows(err)
	}
	out.WindowStart = fromMS(start)
	return &out, nil
}

// --- Document jobs ---

type jobs struct{ db *sql.DB }

func enqueueTx(ctx context.Context, tx *sql.Tx, op, documentID string, payload map[string]interface{}, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO document_jobs (op, document_id, payload, status, attempt_count, next_attempt_at_ms, creation_time_ms, update_time_ms)
        VALUES (?,?,?,'pending',0,0,?,?)`,
		op, documentID, string(raw), ms(at), ms(at))
	return err
}

func (j *jobs) Enqueue(ctx context.Context, job *model.DocumentJob) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := enqueueTx(ctx, tx, job.Op, job.DocumentID, job.Payload, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// leaseTTL bounds how long a leased job may sit in 'processing' before it is
// considered abandoned and handed to the next Lease call.
const leaseTTL = 5 * time.Minute

func (j *jobs) Lease(ctx context.Context, limit int, now time.Time) ([]*model.DocumentJob, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
        SELECT id, op, document_id, payload, attempt_count, next_attempt_at_ms
        FROM document_jobs
        WHERE (status = 'pending' AND next_attempt_at_ms <= ?)
           OR (status = 'processing' AND update_time_ms <= ?)
        ORDER BY id ASC LIMIT ?`, ms(now), ms(now.Add(-leaseTTL)), limit)
	if err != nil {
		return nil, err
	}
	var out []*model.DocumentJob
	for rows.Next() {
		var job model.DocumentJob
		var raw string
		var next int64
		if err := rows.Scan(&job.ID, &job.Op, &job.DocumentID, &raw, &job.AttemptCount, &next); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &job.Payload); err != nil {
			_ = rows.Close()
			return nil, err
		}
		job.NextAttemptAt = fromMS(next)
		out = append(out, &job)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, job := range out {
		if _, err := tx.ExecContext(ctx, `
            UPDATE document_jobs SET status = 'processing', update_time_ms = ? WHERE id = ?`,
			ms(now), job.ID); err != nil {
			return nil, err
		}
	}
	return out, tx.Commit()
}

func (j *jobs) MarkDone(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx, `
        UPDATE document_jobs SET status = 'done', update_time_ms = ? WHERE id = ?`,
		ms(time.Now().UTC()), id)
	return err
}

func (j *jobs) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
        UPDATE document_jobs
        SET status = 'pending', attempt_count = attempt_count + 1,
            next_attempt_at_ms = ?, update_time_ms = ?
        WHERE id = ?`,
		ms(nextAttemptAt), ms(time.Now().UTC()), id)
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
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
