package chatsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/fallback"
	"github.com/tutortron/gateway/internal/metrics"
	"github.com/tutortron/gateway/internal/model"
	"github.com/tutortron/gateway/internal/ragstore"
)

// fakeRemote records calls and can simulate an unreachable backend.
type fakeRemote struct {
	mu          sync.Mutex
	down        bool
	createCalls int
	appended    []ragstore.AppendParams
	flagOn      string              // content that the fake moderation flags
	rejectOn    string              // content the backend refuses with a 4xx
	askHook     func(userID string) // called at the start of Ask, outside the lock
	chats       map[string]*model.Chat
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{chats: make(map[string]*model.Chat)}
}

func (f *fakeRemote) unavailable(op string) error {
	return &ragstore.TransportError{Op: op, Err: fmt.Errorf("connection refused")}
}

func (f *fakeRemote) ListChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("list chats")
	}
	out := []model.ChatSummary{}
	for _, c := range f.chats {
		out = append(out, model.ChatSummary{ID: c.ID, Title: c.Title, MessageCount: len(c.Messages)})
	}
	return out, nil
}

func (f *fakeRemote) CreateChat(ctx context.Context, p ragstore.CreateChatParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.down {
		return "", f.unavailable("create chat")
	}
	id := fmt.Sprintf("chat_%04d", len(f.chats)+1)
	f.chats[id] = &model.Chat{ID: id, UserID: p.UserID, Title: p.Title}
	return id, nil
}

func (f *fakeRemote) LoadChat(ctx context.Context, chatID, userID string, isAdmin bool) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unavailable("load chat")
	}
	c, ok := f.chats[chatID]
	if !ok {
		return nil, nil
	}
	snapshot := *c
	snapshot.Messages = append([]model.Message(nil), c.Messages...)
	return &snapshot, nil
}

func (f *fakeRemote) AppendMessage(ctx context.Context, p ragstore.AppendParams) (ragstore.AppendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return ragstore.AppendResult{}, f.unavailable("append message")
	}
	f.appended = append(f.appended, p)
	if f.rejectOn != "" && strings.Contains(p.Content, f.rejectOn) {
		return ragstore.AppendResult{}, &ragstore.ValidationError{Op: "append message", Status: 400, Message: "content rejected"}
	}
	if c, ok := f.chats[p.ChatID]; ok {
		c.Messages = append(c.Messages, model.Message{ID: p.MessageID, Role: p.Role, Content: p.Content})
	}
	res := ragstore.AppendResult{MessageID: "srv_" + p.MessageID}
	if f.flagOn != "" && strings.Contains(p.Content, f.flagOn) {
		res.IsFlagged = true
		res.FlagReason = "contains inappropriate keyword: " + strings.ToLower(f.flagOn)
	}
	return res, nil
}

func (f *fakeRemote) RenameChat(ctx context.Context, userID, chatID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unavailable("rename chat")
	}
	if c, ok := f.chats[chatID]; ok {
		c.Title = title
	}
	return nil
}

func (f *fakeRemote) DeleteChat(ctx context.Context, userID, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unavailable("delete chat")
	}
	delete(f.chats, chatID)
	return nil
}

func (f *fakeRemote) Ask(ctx context.Context, userID, chatID, message string) (string, error) {
	if f.askHook != nil {
		f.askHook(userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", f.unavailable("ask")
	}
	return "here is how to approach that", nil
}

func (f *fakeRemote) appendAttempts(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.appended {
		if strings.Contains(p.Content, substr) {
			n++
		}
	}
	return n
}

func newTestManager(t *testing.T) (*Manager, *fakeRemote, *fallback.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	remote := newFakeRemote()
	local := fallback.New(rdb, 0, zerolog.Nop())
	m := metrics.New(prometheus.NewRegistry())
	return NewManager(remote, local, m, zerolog.Nop()), remote, local
}

var student = model.User{ID: "u1", Name: "Ada", Email: "ada@example.edu", Role: "student"}

func TestFirstMessageCreatesChatOnce(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	ctx := context.Background()

	chat := mgr.NewChat(student)
	if !strings.HasPrefix(chat.ID, "temp_") {
		t.Fatalf("expected temporary id, got %q", chat.ID)
	}
	if remote.createCalls != 0 {
		t.Fatalf("chat view mount must not touch the backend")
	}

	res, err := mgr.Send(ctx, student, chat.ID, "explain the chain rule please")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if remote.createCalls != 1 {
		t.Fatalf("expected exactly one create call, got %d", remote.createCalls)
	}
	if strings.HasPrefix(res.Chat.ID, "temp_") {
		t.Fatalf("expected server id after first message, got %q", res.Chat.ID)
	}
	if !res.TitleChanged || res.Chat.Title != "explain the chain rule please" {
		t.Fatalf("expected derived title, got %q (changed=%v)", res.Chat.Title, res.TitleChanged)
	}
	if res.Degraded {
		t.Fatalf("healthy backend should not degrade")
	}

	// second message reuses the durable id, no second create
	res2, err := mgr.Send(ctx, student, res.Chat.ID, "and the product rule")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if remote.createCalls != 1 {
		t.Fatalf("expected no further create calls, got %d", remote.createCalls)
	}
	if res2.Chat.ID != res.Chat.ID {
		t.Fatalf("chat id changed between sends: %q vs %q", res.Chat.ID, res2.Chat.ID)
	}
}

func TestWelcomeMessageIsNeverPersisted(t *testing.T) {
	mgr, remote, _ := newTestManager(t)

	chat := mgr.NewChat(student)
	if _, err := mgr.Send(context.Background(), student, chat.ID, "hello tutor"); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, p := range remote.appended {
		if p.MessageID == model.WelcomeMessageID || p.Content == welcomeMessage {
			t.Fatalf("welcome message leaked to backend: %+v", p)
		}
	}
}

func TestRemoteFailureKeepsTranscriptAndWritesFallback(t *testing.T) {
	mgr, remote, local := newTestManager(t)
	ctx := context.Background()

	chat := mgr.NewChat(student)
	remote.down = true

	res, err := mgr.Send(ctx, student, chat.ID, "what is photosynthesis")
	if err != nil {
		t.Fatalf("send during outage: %v", err)
	}
	if !res.Degraded || res.Notice == "" {
		t.Fatalf("expected degraded result with notice, got %+v", res)
	}

	// the message must still be in the transcript, with an offline reply
	var sawUser bool
	for _, m := range res.Chat.Messages {
		if m.Role == model.RoleUser && m.Content == "what is photosynthesis" {
			sawUser = true
		}
	}
	if !sawUser {
		t.Fatalf("user message missing from transcript: %+v", res.Chat.Messages)
	}
	if res.Reply.Content == "" {
		t.Fatalf("expected an offline reply")
	}

	// and a fallback snapshot must exist under the still-temporary id
	saved, err := local.Get(ctx, student.ID, chat.ID)
	if err != nil {
		t.Fatalf("fallback get: %v", err)
	}
	if saved == nil {
		t.Fatalf("expected fallback snapshot for %q", chat.ID)
	}
	if !strings.HasPrefix(saved.ID, "temp_") {
		t.Fatalf("chat should remain temporary after failed create, got %q", saved.ID)
	}
}

func TestRecoveryResumesRemoteFirst(t *testing.T) {
	mgr, remote, local := newTestManager(t)
	ctx := context.Background()

	chat := mgr.NewChat(student)
	remote.down = true
	if _, err := mgr.Send(ctx, student, chat.ID, "first question"); err != nil {
		t.Fatalf("send during outage: %v", err)
	}

	remote.down = false
	res, err := mgr.Send(ctx, student, chat.ID, "second question")
	if err != nil {
		t.Fatalf("send after recovery: %v", err)
	}
	if res.Degraded {
		t.Fatalf("recovered send should not be degraded")
	}
	if remote.createCalls != 3 {
		// two failed attempts during the outage, one successful after
		t.Fatalf("unexpected create calls: %d", remote.createCalls)
	}
	if strings.HasPrefix(res.Chat.ID, "temp_") {
		t.Fatalf("chat should be durable after recovery, got %q", res.Chat.ID)
	}

	// every real message was flushed, in order, none saved twice
	var contents []string
	for _, p := range remote.appended {
		contents = append(contents, p.Content)
	}
	want := []string{"first question"}
	if len(contents) < 3 {
		t.Fatalf("expected flushed backlog plus new messages, got %v", contents)
	}
	if contents[0] != want[0] {
		t.Fatalf("backlog not flushed in send order: %v", contents)
	}

	// stale fallback snapshot under the temporary id is gone
	stale, err := local.Get(ctx, student.ID, chat.ID)
	if err != nil {
		t.Fatalf("fallback get: %v", err)
	}
	if stale != nil {
		t.Fatalf("expected temporary fallback snapshot to be cleaned up")
	}
}

func TestBackendFlagVerdictIsAuthoritative(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	remote.flagOn = "SPAM"

	chat := mgr.NewChat(student)
	res, err := mgr.Send(context.Background(), student, chat.ID, "buy SPAM now")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.UserMessage.IsFlagged {
		t.Fatalf("expected flagged user message, got %+v", res.UserMessage)
	}
	if res.UserMessage.FlagReason == "" {
		t.Fatalf("expected a flag reason")
	}
}

func TestHistoryFallsBackWhenRemoteDown(t *testing.T) {
	mgr, remote, local := newTestManager(t)
	ctx := context.Background()

	if err := local.Save(ctx, student.ID, model.Chat{ID: "c_local", Title: "Kept locally"}); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	remote.down = true

	chats, degraded, err := mgr.History(ctx, student.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !degraded {
		t.Fatalf("expected degraded history")
	}
	if len(chats) != 1 || chats[0].ID != "c_local" {
		t.Fatalf("unexpected fallback history: %+v", chats)
	}
}

func TestLoadHistoryChatEntersPersisted(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	ctx := context.Background()

	remote.chats["chat_9"] = &model.Chat{
		ID: "chat_9", UserID: student.ID, Title: "Resumed",
		Messages: []model.Message{{ID: "m1", Role: model.RoleUser, Content: "old question", SavedToServer: true}},
	}

	loaded, err := mgr.Load(ctx, student, "chat_9", false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded == nil || loaded.ID != "chat_9" {
		t.Fatalf("unexpected load result: %+v", loaded)
	}

	// sending on a loaded chat must append, not create
	if _, err := mgr.Send(ctx, student, "chat_9", "follow-up"); err != nil {
		t.Fatalf("send on loaded chat: %v", err)
	}
	if remote.createCalls != 0 {
		t.Fatalf("loaded chat must not be re-created, got %d creates", remote.createCalls)
	}
}

func TestDeleteTemporaryChatSkipsBackend(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	chat := mgr.NewChat(student)
	if err := mgr.Delete(context.Background(), student, chat.ID); err != nil {
		t.Fatalf("delete temporary chat: %v", err)
	}
}

func TestSendsOnDifferentChatsRunConcurrently(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	ctx := context.Background()
	other := model.User{ID: "u2", Name: "Grace", Email: "grace@example.edu", Role: "student"}

	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	remote.askHook = func(userID string) {
		if userID == student.ID {
			once.Do(func() { close(entered) })
			<-gate
		}
	}

	chatA := mgr.NewChat(student)
	chatB := mgr.NewChat(other)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := mgr.Send(ctx, student, chatA.ID, "slow question"); err != nil {
			t.Errorf("slow send: %v", err)
		}
	}()
	<-entered

	// the first user is now parked inside a backend call; an unrelated
	// chat's send must not queue behind it
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := mgr.Send(ctx, other, chatB.ID, "quick question"); err != nil {
			t.Errorf("quick send: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("send on an unrelated chat blocked behind another user's backend call")
	}

	close(gate)
	wg.Wait()
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	ctx := context.Background()

	// persisted session
	chat := mgr.NewChat(student)
	res, err := mgr.Send(ctx, student, chat.ID, "what is entropy")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// degraded session stays resident regardless of age
	degradedUser := model.User{ID: "u2", Name: "Grace", Email: "grace@example.edu", Role: "student"}
	degradedChat := mgr.NewChat(degradedUser)
	remote.down = true
	if _, err := mgr.Send(ctx, degradedUser, degradedChat.ID, "offline question"); err != nil {
		t.Fatalf("degraded send: %v", err)
	}
	remote.down = false

	mgr.mu.Lock()
	for _, s := range mgr.active {
		s.lastUsed = time.Now().Add(-time.Hour)
	}
	mgr.mu.Unlock()

	// any map insert sweeps idle sessions
	mgr.NewChat(model.User{ID: "u3"})

	mgr.mu.Lock()
	_, persistedKept := mgr.active[sessionKey(student.ID, res.Chat.ID)]
	_, degradedKept := mgr.active[sessionKey(degradedUser.ID, degradedChat.ID)]
	mgr.mu.Unlock()

	if persistedKept {
		t.Fatalf("idle persisted session should have been evicted")
	}
	if !degradedKept {
		t.Fatalf("degraded session must survive eviction until it syncs")
	}

	// the evicted chat is still reachable, resumed from the backend
	loaded, err := mgr.Load(ctx, student, res.Chat.ID, false)
	if err != nil {
		t.Fatalf("load after eviction: %v", err)
	}
	if loaded == nil || loaded.ID != res.Chat.ID {
		t.Fatalf("expected chat to resume from backend, got %+v", loaded)
	}
}

func TestLoadRefreshesPersistedChatFromBackend(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	ctx := context.Background()

	remote.chats["chat_9"] = &model.Chat{
		ID: "chat_9", UserID: student.ID, Title: "Shared",
		Messages: []model.Message{{ID: "m1", Role: model.RoleUser, Content: "first", SavedToServer: true}},
	}

	first, err := mgr.Load(ctx, student, "chat_9", false)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if len(first.Messages) != 1 {
		t.Fatalf("unexpected initial transcript: %+v", first.Messages)
	}

	// another device appends to the same chat
	remote.mu.Lock()
	remote.chats["chat_9"].Messages = append(remote.chats["chat_9"].Messages,
		model.Message{ID: "m2", Role: model.RoleAssistant, Content: "second", SavedToServer: true})
	remote.mu.Unlock()

	second, err := mgr.Load(ctx, student, "chat_9", false)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(second.Messages) != 2 {
		t.Fatalf("cached session not refreshed, got %d messages", len(second.Messages))
	}
}

func TestRejectedMessageIsNotRetried(t *testing.T) {
	mgr, remote, _ := newTestManager(t)
	ctx := context.Background()
	remote.rejectOn = "oversized"

	chat := mgr.NewChat(student)
	res, err := mgr.Send(ctx, student, chat.ID, "an oversized payload")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// the message stays in the transcript even though the backend refused it
	var found bool
	for _, m := range res.Chat.Messages {
		if m.Content == "an oversized payload" {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejected message missing from transcript: %+v", res.Chat.Messages)
	}
	if res.Degraded {
		t.Fatalf("a rejection is not an outage")
	}

	if _, err := mgr.Send(ctx, student, res.Chat.ID, "a clean follow-up"); err != nil {
		t.Fatalf("second send: %v", err)
	}

	if n := remote.appendAttempts("oversized"); n != 1 {
		t.Fatalf("rejected message re-sent, %d append attempts", n)
	}
	if n := remote.appendAttempts("clean follow-up"); n != 1 {
		t.Fatalf("follow-up should persist once, got %d attempts", n)
	}
}
