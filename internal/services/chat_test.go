package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
	"github.com/CrusoO/Rag-knowledge-system/internal/store/sqlite"
)

// fakeAssistant returns a canned reply, or ErrBackendUnavailable when failing
// is set.
type fakeAssistant struct {
	reply   *model.AssistantReply
	failing bool
	calls   int
}

func (f *fakeAssistant) Answer(ctx context.Context, userID, message string) (*model.AssistantReply, error) {
	f.calls++
	if f.failing {
		return nil, model.ErrBackendUnavailable
	}
	return f.reply, nil
}

type chatFixture struct {
	svc   *ChatService
	store store.Store
	fake  *fakeAssistant
	clock time.Time
}

func newChatFixture(t *testing.T, maxRequests int) *chatFixture {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)

	f := &chatFixture{
		store: s,
		fake: &fakeAssistant{reply: &model.AssistantReply{
			Content: "Refunds are allowed within 30 days.",
			Sources: []model.Source{{DocumentName: "policy.pdf", Chunk: "...30 days...", Score: 0.91}},
		}},
		clock: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }
	limiter := ratelimit.New(s.RateCounters(), 15*time.Minute, maxRequests, zerolog.Nop()).WithClock(now)
	f.svc = NewChatService(s, f.fake, limiter, zerolog.Nop()).WithClock(now)

	_, err = s.Users().Create(context.Background(), &model.User{UserID: "u1", Email: "u1@example.test", PasswordHash: "x"})
	require.NoError(t, err)
	return f
}

func TestSendMessageNewConversation(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	turn, err := f.svc.SendMessage(ctx, "u1", "", "What is the refund policy?")
	require.NoError(t, err)
	require.NotEmpty(t, turn.ConversationID)
	require.False(t, turn.Degraded)
	require.Equal(t, "Refunds are allowed within 30 days.", turn.AssistantMessage.Content)
	require.Len(t, turn.AssistantMessage.Sources, 1)

	cv, err := f.store.Conversations().Get(ctx, turn.ConversationID)
	require.NoError(t, err)
	require.Equal(t, "What is the refund policy?", cv.Title)

	msgs, err := f.store.Messages().List(ctx, turn.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "exactly one user and one assistant message per turn")
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
	require.Empty(t, msgs[0].Sources)
}

func TestSendMessageTitleTruncation(t *testing.T) {
	f := newChatFixture(t, 100)
	long := strings.Repeat("héllo ", 20)

	turn, err := f.svc.SendMessage(context.Background(), "u1", "", long)
	require.NoError(t, err)

	cv, err := f.store.Conversations().Get(context.Background(), turn.ConversationID)
	require.NoError(t, err)
	require.Equal(t, 50, len([]rune(cv.Title)))
	require.True(t, strings.HasPrefix(long, cv.Title))
}

func TestSendMessageExistingConversation(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	first, err := f.svc.SendMessage(ctx, "u1", "", "first")
	require.NoError(t, err)
	cv1, err := f.store.Conversations().Get(ctx, first.ConversationID)
	require.NoError(t, err)

	f.clock = f.clock.Add(30 * time.Second)
	second, err := f.svc.SendMessage(ctx, "u1", first.ConversationID, "second")
	require.NoError(t, err)
	require.Equal(t, first.ConversationID, second.ConversationID)

	cv2, err := f.store.Conversations().Get(ctx, first.ConversationID)
	require.NoError(t, err)
	require.True(t, cv2.UpdateTime.After(cv1.UpdateTime), "each turn bumps updatedAt")

	msgs, err := f.store.Messages().List(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
}

func TestSendMessageBackendDownStoresFallback(t *testing.T) {
	f := newChatFixture(t, 100)
	f.fake.failing = true
	ctx := context.Background()

	turn, err := f.svc.SendMessage(ctx, "u1", "", "hello?")
	require.NoError(t, err, "backend failure must not surface to the caller")
	require.True(t, turn.Degraded)
	require.Equal(t, FallbackReply, turn.AssistantMessage.Content)
	require.Empty(t, turn.AssistantMessage.Sources)

	// Both messages persisted and the conversation touched.
	msgs, err := f.store.Messages().List(ctx, turn.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello?", msgs[0].Content)
	require.Equal(t, FallbackReply, msgs[1].Content)
}

func TestSendMessageRateLimited(t *testing.T) {
	f := newChatFixture(t, 1)
	ctx := context.Background()

	turn, err := f.svc.SendMessage(ctx, "u1", "", "first")
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, "u1", turn.ConversationID, "second")
	require.ErrorIs(t, err, model.ErrRateLimited)

	// Denied turn leaves no trace.
	msgs, err := f.store.Messages().List(ctx, turn.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, 1, f.fake.calls)
}

func TestSendMessageForeignConversation(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()
	_, err := f.store.Users().Create(ctx, &model.User{UserID: "u2", Email: "u2@example.test", PasswordHash: "x"})
	require.NoError(t, err)

	turn, err := f.svc.SendMessage(ctx, "u1", "", "mine")
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, "u2", turn.ConversationID, "theirs")
	require.ErrorIs(t, err, model.ErrForbidden)

	msgs, err := f.store.Messages().List(ctx, turn.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "ownership failure leaves no side effects")
}

func TestSendMessageMissingConversation(t *testing.T) {
	f := newChatFixture(t, 100)
	_, err := f.svc.SendMessage(context.Background(), "u1", "no-such-conversation", "hi")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestSendMessageValidation(t *testing.T) {
	f := newChatFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, "u1", "", "")
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.SendMessage(ctx, "u1", "", "   ")
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.SendMessage(ctx, "u1", "", strings.Repeat("a", 2001))
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.svc.SendMessage(ctx, "u1", "", strings.Repeat("é", 2001))
	require.ErrorIs(t, err, model.ErrValidation)

	require.Zero(t, f.fake.calls)
}

// The 2000 bound counts characters, not bytes, so a multibyte message under
// the limit goes through.
func TestSendMessageMultibyteUnderLimit(t *testing.T) {
	f := newChatFixture(t, 100)

	turn, err := f.svc.SendMessage(context.Background(), "u1", "", strings.Repeat("日", 1500))
	require.NoError(t, err)
	require.Equal(t, 1, f.fake.calls)
	require.NotNil(t, turn.AssistantMessage)
}
