package model

import "time"

// User represents an account in the system. PasswordHash is set by the
// external session service at signup; this service only verifies and rotates it.
type User struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  *string   `json:"displayName,omitempty"`
	PasswordHash string    `json:"-"`
	TimeZone     string    `json:"timeZone"`
	Status       string    `json:"status"`
	CreationTime time.Time `json:"creationTime"`
}

// Conversation is a thread of messages owned by a single user.
// UpdateTime is bumped exactly once per completed chat turn.
type Conversation struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Title          string    `json:"title"`
	CreationTime   time.Time `json:"creationTime"`
	UpdateTime     time.Time `json:"updateTime"`
}

// Message roles. A conversation holds causally ordered user/assistant pairs.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable entry in a conversation. Sources is populated only
// for assistant messages and is empty otherwise.
type Message struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Sources        []Source  `json:"sources,omitempty"`
	CreationTime   time.Time `json:"creationTime"`
}

// Source is a document reference attached to an assistant message.
type Source struct {
	DocumentName string  `json:"documentName"`
	Chunk        string  `json:"chunk"`
	Score        float64 `json:"score"`
}

// AssistantReply is the processing backend's answer to one user message.
type AssistantReply struct {
	Content string   `json:"content"`
	Sources []Source `json:"sources"`
}

// Document lifecycle states.
const (
	DocumentPending   = "PENDING"
	DocumentProcessed = "PROCESSED"
	DocumentFailed    = "FAILED"
)

// Document tracks an uploaded file and its processing state. The file bytes
// live on disk; chunking and indexing belong to the processing backend.
type Document struct {
	DocumentID   string    `json:"documentId"`
	UserID       string    `json:"userId"`
	Filename     string    `json:"filename"`
	Filepath     string    `json:"-"`
	Status       string    `json:"status"`
	ChunkCount   int       `json:"chunkCount"`
	CreationTime time.Time `json:"creationTime"`
	UpdateTime   time.Time `json:"updateTime"`
}

// RateLimitCounter is one fixed-window counter keyed by (subject, endpoint).
// Count reflects admissions strictly since WindowStart; WindowStart only moves
// forward, and only after the window has fully elapsed.
type RateLimitCounter struct {
	SubjectID   string    `json:"subjectId"`
	Endpoint    string    `json:"endpoint"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"windowStart"`
}

// Document job operations applied by the background worker.
const (
	OpProcessDocument = "process_document"
	OpDeleteDocument  = "delete_document"
)

// DocumentJob is an outbox row: enqueued in the same transaction as its
// document mutation so that backend side effects are never silently lost.
type DocumentJob struct {
	ID            int64
	Op            string
	DocumentID    string
	Payload       map[string]interface{}
	AttemptCount  int
	NextAttemptAt time.Time
}
