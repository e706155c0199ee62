package services

import (
	"context"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

// ConversationService handles conversation listing, retrieval and deletion.
// Every accessor enforces ownership before returning or mutating anything.
type ConversationService struct {
	store store.Store
}

func NewConversationService(s store.Store) *ConversationService {
	return &ConversationService{store: s}
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return s.store.Conversations().List(ctx, userID)
}

// GetConversation returns the conversation and its messages in order.
func (s *ConversationService) GetConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, []*model.Message, error) {
	cv, err := s.owned(ctx, userID, conversationID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.Messages().List(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return cv, msgs, nil
}

// DeleteConversation removes the conversation and, through the store, all of
// its messages.
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.owned(ctx, userID, conversationID); err != nil {
		return err
	}
	return s.store.Conversations().Delete(ctx, conversationID)
}

func (s *ConversationService) owned(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	cv, err := s.store.Conversations().Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if cv.UserID != userID {
		return nil, model.ErrForbidden
	}
	return cv, nil
}
