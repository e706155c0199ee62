package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

// FallbackReply is stored as the assistant message whenever the processing
// backend cannot produce an answer. The turn still completes and the caller
// sees a normal reply.
const FallbackReply = "I'm having trouble processing your request right now. Please try again in a moment."

// Message and title bounds, matching the processing backend's contract.
const (
	maxMessageRunes = 2000
	maxTitleRunes = 50
)

// AssistantGateway produces one reply per user message. Implementations map
// every failure to model.ErrBackendUnavailable.
type AssistantGateway interface {
	Answer(ctx context.Context, userID, message string) (*model.AssistantReply, error)
}

// ChatService runs one chat turn end to end: admission, conversation
// resolution, durable user message, backend call with graceful degradation,
// assistant message, activity bump.
type ChatService struct {
	store     store.Store
	assistant AssistantGateway
	limiter   *ratelimit.Limiter
	now       func() time.Time
	log       zerolog.Logger
}

func NewChatService(s store.Store, gw AssistantGateway, l *ratelimit.Limiter, log zerolog.Logger) *ChatService {
	return &ChatService{
		store:     s,
		assistant: gw,
		limiter:   l,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "chat").Logger(),
	}
}

// WithClock overrides the service clock. Test hook.
func (s *ChatService) WithClock(now func() time.Time) *ChatService {
	s.now = now
	return s
}

// ChatTurn is the outcome of one completed turn.
type ChatTurn struct {
	ConversationID   string         `json:"conversationId"`
	UserMessage      *model.Message `json:"userMessage"`
	AssistantMessage *model.Message `json:"assistantMessage"`
	Degraded         bool           `json:"degraded"`
}

// SendMessage processes one user message. conversationID may be empty, in
// which case a new conversation titled from the message is created. The
// sequencing is deliberate: rejection paths (rate limit, validation,
// ownership) run before any write, and the user message is persisted before
// the backend is called so it survives a backend failure.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID, content string) (*ChatTurn, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, errors.Wrap(model.ErrValidation, "message must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxMessageRunes {
		return nil, errors.Wrapf(model.ErrValidation, "message exceeds %d characters", maxMessageRunes)
	}

	ok, err := s.limiter.Allow(ctx, userID, ratelimit.EndpointChat)
	if err != nil {
		return nil, errors.Wrap(err, "rate limit check")
	}
	if !ok {
		return nil, model.ErrRateLimited
	}

	cv, err := s.resolveConversation(ctx, userID, conversationID, trimmed)
	if err != nil {
		return nil, err
	}

	turnStart := s.now()
	userMsg, err := s.store.Messages().Create(ctx, &model.Message{
		ConversationID: cv.ConversationID,
		Role:           model.RoleUser,
		Content:        trimmed,
		CreationTime:   turnStart,
	})
	if err != nil {
		return nil, errors.Wrap(err, "persist user message")
	}

	reply, degraded := s.answer(ctx, userID, trimmed)

	asstMsg, err := s.store.Messages().Create(ctx, &model.Message{
		ConversationID: cv.ConversationID,
		Role:           model.RoleAssistant,
		Content:        reply.Content,
		Sources:        reply.Sources,
		CreationTime:   s.now(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "persist assistant message")
	}

	if err := s.store.Conversations().Touch(ctx, cv.ConversationID, s.now()); err != nil {
		return nil, errors.Wrap(err, "touch conversation")
	}

	return &ChatTurn{
		ConversationID:   cv.ConversationID,
		UserMessage:      userMsg,
		AssistantMessage: asstMsg,
		Degraded:         degraded,
	}, nil
}

// resolveConversation loads and ownership-checks an existing conversation, or
// creates a new one titled from the first message.
func (s *ChatService) resolveConversation(ctx context.Context, userID, conversationID, content string) (*model.Conversation, error) {
	if conversationID != "" {
		cv, err := s.store.Conversations().Get(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if cv.UserID != userID {
			return nil, model.ErrForbidden
		}
		return cv, nil
	}
	now := s.now()
	cv, err := s.store.Conversations().Create(ctx, &model.Conversation{
		UserID:       userID,
		Title:        titleFrom(content),
		CreationTime: now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create conversation")
	}
	s.log.Info().Str("conversation_id", cv.ConversationID).Str("user_id", userID).Msg("conversation created")
	return cv, nil
}

// answer calls the backend and degrades to the fallback reply on any failure.
// Backend errors stop here; the turn always produces an assistant message.
func (s *ChatService) answer(ctx context.Context, userID, content string) (*model.AssistantReply, bool) {
	reply, err := s.assistant.Answer(ctx, userID, content)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("backend unavailable, storing fallback reply")
		return &model.AssistantReply{Content: FallbackReply}, true
	}
	return reply, false
}

// titleFrom derives a conversation title from the first message, truncated on
// rune boundaries.
func titleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= maxTitleRunes {
		return content
	}
	return string(runes[:maxTitleRunes])
}
