package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/store"
)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	userID := "u-" + uuid.New().String()
	email := userID + "@example.test"

	// Users
	u := &model.User{UserID: userID, Email: email, PasswordHash: "x"}
	if _, err := s.Users().Create(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if got, err := s.Users().Get(ctx, userID); err != nil || got == nil || got.UserID != userID {
		t.Fatalf("GetUser: got=%v err=%v", got, err)
	}
	if _, err := s.Users().Get(ctx, "missing-"+userID); err != model.ErrNotFound {
		t.Fatalf("GetUser missing: want ErrNotFound, got %v", err)
	}
	name := "Robinson"
	if got, err := s.Users().UpdateProfile(ctx, userID, &name, "Europe/Berlin"); err != nil || got.DisplayName == nil || *got.DisplayName != name {
		t.Fatalf("UpdateProfile: got=%v err=%v", got, err)
	}
	if err := s.Users().UpdatePassword(ctx, userID, "y"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if got, _ := s.Users().Get(ctx, userID); got.PasswordHash != "y" {
		t.Fatalf("UpdatePassword not persisted")
	}

	// Conversations + messages
	base := time.Now().UTC().Truncate(time.Millisecond)
	cv, err := s.Conversations().Create(ctx, &model.Conversation{UserID: userID, Title: "What is the refund policy?", CreationTime: base})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if cv.ConversationID == "" {
		t.Fatalf("CreateConversation: empty id")
	}
	if _, err := s.Messages().Create(ctx, &model.Message{ConversationID: cv.ConversationID, Role: model.RoleUser, Content: "What is the refund policy?", CreationTime: base}); err != nil {
		t.Fatalf("CreateMessage user: %v", err)
	}
	srcs := []model.Source{{DocumentName: "policy.pdf", Chunk: "...30 days...", Score: 0.91}}
	if _, err := s.Messages().Create(ctx, &model.Message{ConversationID: cv.ConversationID, Role: model.RoleAssistant, Content: "Refunds are allowed within 30 days.", Sources: srcs, CreationTime: base}); err != nil {
		t.Fatalf("CreateMessage assistant: %v", err)
	}
	msgs, err := s.Messages().List(ctx, cv.ConversationID)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("ListMessages: n=%d err=%v", len(msgs), err)
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Fatalf("ListMessages: wrong order %s,%s", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Sources) != 1 || msgs[1].Sources[0].DocumentName != "policy.pdf" {
		t.Fatalf("ListMessages: sources not round-tripped: %+v", msgs[1].Sources)
	}
	if len(msgs[0].Sources) != 0 {
		t.Fatalf("ListMessages: user message must carry no sources")
	}

	// Touch is monotone
	later := base.Add(2 * time.Second)
	if err := s.Conversations().Touch(ctx, cv.ConversationID, later); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := s.Conversations().Touch(ctx, cv.ConversationID, base.Add(time.Second)); err != nil {
		t.Fatalf("Touch earlier: %v", err)
	}
	got, err := s.Conversations().Get(ctx, cv.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.UpdateTime.Before(later) {
		t.Fatalf("Touch: update_time went backwards: %v < %v", got.UpdateTime, later)
	}
	if lst, err := s.Conversations().List(ctx, userID); err != nil || len(lst) != 1 {
		t.Fatalf("ListConversations: n=%d err=%v", len(lst), err)
	}

	// Delete cascades to messages
	if err := s.Conversations().Delete(ctx, cv.ConversationID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if err := s.Conversations().Delete(ctx, cv.ConversationID); err != model.ErrNotFound {
		t.Fatalf("DeleteConversation twice: want ErrNotFound, got %v", err)
	}
	if msgs, err := s.Messages().List(ctx, cv.ConversationID); err != nil || len(msgs) != 0 {
		t.Fatalf("cascade: n=%d err=%v", len(msgs), err)
	}

	// Documents enqueue a processing job on create
	doc, err := s.Documents().Create(ctx, &model.Document{UserID: userID, Filename: "policy.pdf", Filepath: "/tmp/policy.pdf"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status != model.DocumentPending {
		t.Fatalf("CreateDocument: status=%s", doc.Status)
	}
	leased, err := s.Jobs().Lease(ctx, 10, time.Now().UTC())
	if err != nil || len(leased) != 1 {
		t.Fatalf("Lease after create: n=%d err=%v", len(leased), err)
	}
	if leased[0].Op != model.OpProcessDocument || leased[0].DocumentID != doc.DocumentID {
		t.Fatalf("Lease: wrong job %+v", leased[0])
	}
	// Leased jobs are invisible to a second lease.
	if again, err := s.Jobs().Lease(ctx, 10, time.Now().UTC()); err != nil || len(again) != 0 {
		t.Fatalf("double lease: n=%d err=%v", len(again), err)
	}
	if err := s.Jobs().MarkDone(ctx, leased[0].ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	if err := s.Documents().SetStatus(ctx, doc.DocumentID, model.DocumentProcessed, 12, time.Now().UTC()); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if got, err := s.Documents().Get(ctx, doc.DocumentID); err != nil || got.Status != model.DocumentProcessed || got.ChunkCount != 12 {
		t.Fatalf("GetDocument: got=%+v err=%v", got, err)
	}
	if lst, err := s.Documents().List(ctx, userID); err != nil || len(lst) != 1 {
		t.Fatalf("ListDocuments: n=%d err=%v", len(lst), err)
	}

	// Deleting a document enqueues its cleanup job
	if err := s.Documents().Delete(ctx, doc.DocumentID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.Documents().Get(ctx, doc.DocumentID); err != model.ErrNotFound {
		t.Fatalf("GetDocument after delete: want ErrNotFound, got %v", err)
	}
	leased, err = s.Jobs().Lease(ctx, 10, time.Now().UTC())
	if err != nil || len(leased) != 1 || leased[0].Op != model.OpDeleteDocument {
		t.Fatalf("Lease delete job: n=%d err=%v", len(leased), err)
	}
	// A failed job becomes leasable again once its backoff elapses.
	retryAt := time.Now().UTC().Add(time.Minute)
	if err := s.Jobs().MarkFailed(ctx, leased[0].ID, retryAt); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if early, err := s.Jobs().Lease(ctx, 10, time.Now().UTC()); err != nil || len(early) != 0 {
		t.Fatalf("Lease before backoff: n=%d err=%v", len(early), err)
	}
	release, err := s.Jobs().Lease(ctx, 10, retryAt.Add(time.Second))
	if err != nil || len(release) != 1 || release[0].AttemptCount != 1 {
		t.Fatalf("Lease after backoff: n=%d err=%v jobs=%+v", len(release), err, release)
	}
	if err := s.Jobs().MarkDone(ctx, release[0].ID); err != nil {
		t.Fatalf("MarkDone retry: %v", err)
	}

	runStaleLeaseReclaim(t, s, userID)
	runRateCounter(t, s)
	runConcurrentAdmit(t, s)
}

// runStaleLeaseReclaim verifies that a job leased by a worker that never
// reports back is handed out again once the lease ages out, instead of
// sitting in 'processing' forever.
func runStaleLeaseReclaim(t *testing.T, s store.Store, userID string) {
	t.Helper()
	ctx := context.Background()

	doc, err := s.Documents().Create(ctx, &model.Document{UserID: userID, Filename: "orphan.pdf", Filepath: "/tmp/orphan.pdf"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	now := time.Now().UTC()
	leased, err := s.Jobs().Lease(ctx, 10, now)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Lease: n=%d err=%v", len(leased), err)
	}
	// Worker dies here: no MarkDone, no MarkFailed. The job stays invisible
	// while the lease is fresh.
	if again, err := s.Jobs().Lease(ctx, 10, now.Add(time.Minute)); err != nil || len(again) != 0 {
		t.Fatalf("Lease while fresh: n=%d err=%v", len(again), err)
	}
	reclaimed, err := s.Jobs().Lease(ctx, 10, now.Add(10*time.Minute))
	if err != nil || len(reclaimed) != 1 {
		t.Fatalf("Lease after lease expiry: n=%d err=%v", len(reclaimed), err)
	}
	if reclaimed[0].ID != leased[0].ID || reclaimed[0].DocumentID != doc.DocumentID {
		t.Fatalf("reclaimed wrong job: %+v", reclaimed[0])
	}
	if err := s.Jobs().MarkDone(ctx, reclaimed[0].ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := s.Documents().Delete(ctx, doc.DocumentID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if cleanup, err := s.Jobs().Lease(ctx, 10, now.Add(10*time.Minute)); err != nil || len(cleanup) != 1 {
		t.Fatalf("Lease cleanup job: n=%d err=%v", len(cleanup), err)
	} else if err := s.Jobs().MarkDone(ctx, cleanup[0].ID); err != nil {
		t.Fatalf("MarkDone cleanup: %v", err)
	}
}

// runRateCounter verifies the fixed-window counter semantics with a
// controlled clock.
func runRateCounter(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	subject := "u-" + uuid.New().String()
	const endpoint = "chat"
	window := 15 * time.Minute
	const max = 5

	start := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < max; i++ {
		ok, err := s.RateCounters().Admit(ctx, subject, endpoint, start.Add(time.Duration(i)*time.Second), window, max)
		if err != nil || !ok {
			t.Fatalf("Admit %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	// Over the cap inside the window: denied, counter untouched.
	ok, err := s.RateCounters().Admit(ctx, subject, endpoint, start.Add(time.Minute), window, max)
	if err != nil || ok {
		t.Fatalf("Admit over cap: ok=%v err=%v", ok, err)
	}
	ctr, err := s.RateCounters().Get(ctx, subject, endpoint)
	if err != nil || ctr.Count != max {
		t.Fatalf("counter after deny: %+v err=%v", ctr, err)
	}
	if !ctr.WindowStart.Equal(start) {
		t.Fatalf("window start moved on deny: %v != %v", ctr.WindowStart, start)
	}

	// Window elapsed: the next request resets and is admitted.
	expired := start.Add(window)
	ok, err = s.RateCounters().Admit(ctx, subject, endpoint, expired, window, max)
	if err != nil || !ok {
		t.Fatalf("Admit after expiry: ok=%v err=%v", ok, err)
	}
	ctr, err = s.RateCounters().Get(ctx, subject, endpoint)
	if err != nil || ctr.Count != 1 {
		t.Fatalf("counter after reset: %+v err=%v", ctr, err)
	}
	if !ctr.WindowStart.Equal(expired) {
		t.Fatalf("window start after reset: %v != %v", ctr.WindowStart, expired)
	}
}

// runConcurrentAdmit races many callers against one counter. Exactly max of
// them must be admitted and none may error: losing a write race is a denial,
// not a failure.
func runConcurrentAdmit(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	subject := "u-" + uuid.New().String()
	const endpoint = "chat"
	window := 15 * time.Minute
	const max = 10
	const callers = 50

	now := time.Now().UTC()
	var wg sync.WaitGroup
	var admitted, failed int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RateCounters().Admit(ctx, subject, endpoint, now, window, max)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				return
			}
			if ok {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()
	if failed != 0 {
		t.Fatalf("concurrent Admit: %d calls errored", failed)
	}
	if admitted != max {
		t.Fatalf("concurrent Admit: admitted=%d want %d", admitted, max)
	}
	ctr, err := s.RateCounters().Get(ctx, subject, endpoint)
	if err != nil || ctr.Count != max {
		t.Fatalf("counter after race: %+v err=%v", ctr, err)
	}
}
