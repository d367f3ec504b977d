// Package chatsync reconciles in-memory chat state with the RAG backend.
// A chat starts as a temporary, client-identified object and becomes durable
// on its first real message; when the backend is unreachable the orchestrator
// degrades to the local fallback store and resyncs once a remote call
// succeeds again. User messages are never lost to a persistence failure.
package chatsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/metrics"
	"github.com/tutortron/gateway/internal/model"
	"github.com/tutortron/gateway/internal/moderation"
	"github.com/tutortron/gateway/internal/ragstore"
)

const (
	tempIDPrefix   = "temp_"
	welcomeMessage = "Hello! I'm your Tutortron AI tutor. How can I help you with your studies today?"

	// NoticeDegraded is shown (non-blocking) while persistence runs on the
	// local fallback store instead of the backend.
	NoticeDegraded = "The tutoring service is temporarily unreachable. Your conversation is saved on this device and will sync automatically."

	// sessionIdleTTL bounds how long an untouched session stays cached.
	// Fully persisted sessions can always be reloaded from the backend.
	sessionIdleTTL = 30 * time.Minute
)

var ErrChatNotFound = errors.New("chatsync: chat not found")

// RemoteStore is the slice of the backend client the orchestrator needs.
type RemoteStore interface {
	ListChats(ctx context.Context, userID string) ([]model.ChatSummary, error)
	CreateChat(ctx context.Context, p ragstore.CreateChatParams) (string, error)
	LoadChat(ctx context.Context, chatID, userID string, isAdmin bool) (*model.Chat, error)
	AppendMessage(ctx context.Context, p ragstore.AppendParams) (ragstore.AppendResult, error)
	RenameChat(ctx context.Context, userID, chatID, title string) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	Ask(ctx context.Context, userID, chatID, message string) (string, error)
}

// LocalStore is the degraded store used while the backend is down.
type LocalStore interface {
	List(ctx context.Context, userID string) ([]model.Chat, error)
	Save(ctx context.Context, userID string, chat model.Chat) error
	Delete(ctx context.Context, userID, chatID string) error
	Rename(ctx context.Context, userID, chatID, title string) error
	Get(ctx context.Context, userID, chatID string) (*model.Chat, error)
}

type syncState int

const (
	stateTemporary syncState = iota
	statePersisting
	statePersisted
)

// session serializes work on a single chat. mu is held across backend calls
// for that chat only; unrelated chats proceed in parallel. lastUsed is
// guarded by Manager.mu, not session.mu.
type session struct {
	mu       sync.Mutex
	user     model.User
	chat     *model.Chat
	state    syncState
	degraded bool

	lastUsed time.Time
}

type Manager struct {
	remote  RemoteStore
	local   LocalStore
	log     zerolog.Logger
	m       *metrics.Metrics
	idleTTL time.Duration

	// mu guards active and every session.lastUsed; it is never held across
	// a backend or fallback-store call.
	mu     sync.Mutex
	active map[string]*session
}

func NewManager(remote RemoteStore, local LocalStore, m *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		remote:  remote,
		local:   local,
		log:     log.With().Str("component", "chatsync").Logger(),
		m:       m,
		idleTTL: sessionIdleTTL,
		active:  make(map[string]*session),
	}
}

func sessionKey(userID, chatID string) string { return userID + "\x00" + chatID }

// evictIdleLocked drops sessions untouched for longer than the idle TTL.
// Callers hold mgr.mu. TryLock skips sessions with work in flight; degraded
// or not-yet-persisted sessions are kept since the backend cannot restore
// them.
func (mgr *Manager) evictIdleLocked() {
	now := time.Now()
	for key, sess := range mgr.active {
		if now.Sub(sess.lastUsed) < mgr.idleTTL {
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		if sess.state == statePersisted && !sess.degraded {
			delete(mgr.active, key)
		}
		sess.mu.Unlock()
	}
}

func (mgr *Manager) lookup(key string) (*session, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	sess, ok := mgr.active[key]
	if ok {
		sess.lastUsed = time.Now()
	}
	return sess, ok
}

// insert stores sess under key unless another goroutine got there first, in
// which case the existing session wins.
func (mgr *Manager) insert(key string, sess *session) *session {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if existing, ok := mgr.active[key]; ok {
		existing.lastUsed = time.Now()
		return existing
	}
	mgr.evictIdleLocked()
	sess.lastUsed = time.Now()
	mgr.active[key] = sess
	return sess
}

// NewChat opens a temporary in-memory chat for the user. Nothing touches the
// backend until the first real message arrives.
func (mgr *Manager) NewChat(user model.User) model.Chat {
	id, err := common.NewULID()
	if err != nil {
		// ULID generation only fails when the entropy source does; fall
		// back to a UUID rather than refuse to open a chat.
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	now := time.Now().UTC()
	chat := &model.Chat{
		ID:        tempIDPrefix + id,
		UserID:    user.ID,
		Title:     PlaceholderTitle,
		CreatedAt: now,
		Messages: []model.Message{{
			ID:        model.WelcomeMessageID,
			Role:      model.RoleAssistant,
			Content:   welcomeMessage,
			Timestamp: now,
		}},
		LastUpdated: now,
	}

	mgr.insert(sessionKey(user.ID, chat.ID), &session{user: user, chat: chat, state: stateTemporary})
	return *chat
}

type SendResult struct {
	Chat         model.Chat
	UserMessage  model.Message
	Reply        model.Message
	TitleChanged bool
	Degraded     bool
	Notice       string
}

// Send appends the user's message, persists best-effort, asks the tutor for a
// reply and persists that too. The transcript always gains both messages even
// when every remote call fails.
func (mgr *Manager) Send(ctx context.Context, user model.User, chatID, content string) (SendResult, error) {
	sess, err := mgr.getSession(ctx, user, chatID)
	if err != nil {
		return SendResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	chat := sess.chat
	titleBefore := chat.Title

	now := time.Now().UTC()
	userMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   content,
		Timestamp: now,
	}
	// Advisory pre-check only; the backend verdict on append overrides it.
	if v := moderation.Evaluate(content); v.Flagged {
		userMsg.IsFlagged = true
		userMsg.FlagReason = v.Reason
	}
	chat.Messages = append(chat.Messages, userMsg)
	chat.LastUpdated = now

	mgr.persist(ctx, sess)

	reply, err := mgr.remote.Ask(ctx, user.ID, chat.ID, content)
	askDegraded := false
	if err != nil {
		mgr.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("tutor query failed, using offline reply")
		mgr.m.RemoteFailures.Inc()
		reply = offlineReply(content)
		askDegraded = true
	}

	replyMsg := model.Message{
		ID:        uuid.NewString(),
		Role:      model.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	}
	chat.Messages = append(chat.Messages, replyMsg)
	chat.LastUpdated = replyMsg.Timestamp

	mgr.persist(ctx, sess)

	degraded := sess.degraded || askDegraded
	res := SendResult{
		Chat:         *chat,
		UserMessage:  findMessage(chat, userMsg.ID, len(chat.Messages)-2),
		Reply:        replyMsg,
		TitleChanged: chat.Title != titleBefore,
		Degraded:     degraded,
	}
	if degraded {
		res.Notice = NoticeDegraded
	}
	return res, nil
}

// History lists the user's chats, backend first, falling back to the local
// store when the backend is unavailable.
func (mgr *Manager) History(ctx context.Context, userID string) ([]model.ChatSummary, bool, error) {
	chats, err := mgr.remote.ListChats(ctx, userID)
	if err == nil {
		return chats, false, nil
	}
	if !ragstore.IsUnavailable(err) {
		return nil, false, err
	}
	mgr.log.Warn().Err(err).Str("user_id", userID).Msg("listing chats from fallback store")
	mgr.m.RemoteFailures.Inc()

	local, lerr := mgr.local.List(ctx, userID)
	if lerr != nil {
		mgr.log.Error().Err(lerr).Msg("fallback list failed")
		return []model.ChatSummary{}, true, nil
	}
	out := make([]model.ChatSummary, 0, len(local))
	for _, c := range local {
		out = append(out, model.ChatSummary{
			ID:           c.ID,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt,
			LastUpdated:  c.LastUpdated,
			IsFlagged:    c.IsFlagged,
			FlagReason:   c.FlagReason,
			MessageCount: len(c.Messages),
		})
	}
	return out, true, nil
}

// Load fetches a chat with messages and tracks it as an active session.
// Cached sessions that are fully persisted re-fetch from the backend so
// updates made from another device become visible.
func (mgr *Manager) Load(ctx context.Context, user model.User, chatID string, isAdmin bool) (*model.Chat, error) {
	key := sessionKey(user.ID, chatID)
	if sess, ok := mgr.lookup(key); ok {
		sess.mu.Lock()
		defer sess.mu.Unlock()

		if sess.state == statePersisted && !sess.degraded {
			fresh, err := mgr.remote.LoadChat(ctx, sess.chat.ID, user.ID, isAdmin)
			switch {
			case err == nil && fresh != nil:
				sess.chat = fresh
			case err == nil && fresh == nil:
				// deleted remotely
				mgr.mu.Lock()
				delete(mgr.active, key)
				mgr.mu.Unlock()
				return nil, nil
			case ragstore.IsUnavailable(err):
				mgr.m.RemoteFailures.Inc()
			default:
				return nil, err
			}
		}
		snapshot := *sess.chat
		return &snapshot, nil
	}

	chat, err := mgr.remote.LoadChat(ctx, chatID, user.ID, isAdmin)
	if err == nil && chat != nil {
		sess := mgr.insert(key, &session{user: user, chat: chat, state: statePersisted})
		sess.mu.Lock()
		snapshot := *sess.chat
		sess.mu.Unlock()
		return &snapshot, nil
	}
	if err != nil && !ragstore.IsUnavailable(err) {
		return nil, err
	}
	if err != nil {
		mgr.log.Warn().Err(err).Str("chat_id", chatID).Msg("loading chat from fallback store")
		mgr.m.RemoteFailures.Inc()
		local, lerr := mgr.local.Get(ctx, user.ID, chatID)
		if lerr != nil {
			mgr.log.Error().Err(lerr).Msg("fallback get failed")
		}
		if local != nil {
			state := statePersisted
			if strings.HasPrefix(local.ID, tempIDPrefix) {
				state = stateTemporary
			}
			sess := mgr.insert(key, &session{user: user, chat: local, state: state, degraded: true})
			sess.mu.Lock()
			snapshot := *sess.chat
			sess.mu.Unlock()
			return &snapshot, nil
		}
	}
	return nil, nil
}

// Rename updates the chat title everywhere the chat is known.
func (mgr *Manager) Rename(ctx context.Context, user model.User, chatID, title string) error {
	if sess, ok := mgr.lookup(sessionKey(user.ID, chatID)); ok {
		sess.mu.Lock()
		sess.chat.Title = title
		sess.chat.LastUpdated = time.Now().UTC()
		persisted := sess.state == statePersisted
		sess.mu.Unlock()
		if !persisted {
			return nil
		}
	}

	if err := mgr.remote.RenameChat(ctx, user.ID, chatID, title); err != nil {
		if !ragstore.IsUnavailable(err) {
			return err
		}
		mgr.m.RemoteFailures.Inc()
		if lerr := mgr.local.Rename(ctx, user.ID, chatID, title); lerr != nil {
			mgr.log.Error().Err(lerr).Msg("fallback rename failed")
		}
	}
	return nil
}

// Delete removes the chat remotely and from the fallback store. No soft
// delete at this layer.
func (mgr *Manager) Delete(ctx context.Context, user model.User, chatID string) error {
	mgr.mu.Lock()
	delete(mgr.active, sessionKey(user.ID, chatID))
	mgr.mu.Unlock()

	if lerr := mgr.local.Delete(ctx, user.ID, chatID); lerr != nil {
		mgr.log.Warn().Err(lerr).Msg("fallback delete failed")
	}

	if strings.HasPrefix(chatID, tempIDPrefix) {
		return nil
	}
	if err := mgr.remote.DeleteChat(ctx, user.ID, chatID); err != nil {
		if ragstore.IsUnavailable(err) {
			mgr.m.RemoteFailures.Inc()
			return nil
		}
		return err
	}
	return nil
}

// getSession returns the cached session or resumes one from the backend or
// fallback store. The resume happens without any lock held; a concurrent
// resume of the same chat is resolved by insert.
func (mgr *Manager) getSession(ctx context.Context, user model.User, chatID string) (*session, error) {
	key := sessionKey(user.ID, chatID)
	if sess, ok := mgr.lookup(key); ok {
		return sess, nil
	}

	chat, err := mgr.remote.LoadChat(ctx, chatID, user.ID, false)
	if err != nil && !ragstore.IsUnavailable(err) {
		return nil, err
	}
	if chat != nil {
		return mgr.insert(key, &session{user: user, chat: chat, state: statePersisted}), nil
	}
	if err != nil {
		mgr.m.RemoteFailures.Inc()
		local, _ := mgr.local.Get(ctx, user.ID, chatID)
		if local != nil {
			state := statePersisted
			if strings.HasPrefix(local.ID, tempIDPrefix) {
				state = stateTemporary
			}
			return mgr.insert(key, &session{user: user, chat: local, state: state, degraded: true}), nil
		}
	}
	return nil, ErrChatNotFound
}

// persist drives the Temporary -> Persisting -> Persisted transition and
// flushes unsaved messages. Callers hold sess.mu. On unavailability it
// reverts to Temporary (when not yet created) and snapshots the chat to the
// fallback store; it never surfaces an error to the send path.
func (mgr *Manager) persist(ctx context.Context, sess *session) {
	chat := sess.chat

	if sess.state != statePersisted {
		if len(realMessages(chat)) == 0 {
			return
		}
		sess.state = statePersisting

		title := chat.Title
		if title == "" || title == PlaceholderTitle {
			if first := firstUserMessage(chat); first != nil {
				title = TitleFromMessage(first.Content)
			}
		}

		prevID := chat.ID
		serverID, err := mgr.remote.CreateChat(ctx, ragstore.CreateChatParams{
			UserID:    sess.user.ID,
			UserName:  sess.user.Name,
			UserEmail: sess.user.Email,
			Title:     title,
			ChatID:    prevID,
		})
		if err != nil {
			sess.state = stateTemporary
			mgr.log.Warn().Err(err).Str("chat_id", prevID).Msg("chat create failed, degrading to fallback store")
			mgr.degrade(ctx, sess)
			return
		}

		sess.state = statePersisted
		mgr.m.ChatsCreated.Inc()
		if serverID != "" && serverID != prevID {
			// The server id is authoritative; retire the temporary id
			// everywhere, including any stale fallback snapshot.
			chat.ID = serverID
			mgr.mu.Lock()
			delete(mgr.active, sessionKey(sess.user.ID, prevID))
			sess.lastUsed = time.Now()
			mgr.active[sessionKey(sess.user.ID, serverID)] = sess
			mgr.mu.Unlock()
			if sess.degraded {
				if lerr := mgr.local.Delete(ctx, sess.user.ID, prevID); lerr != nil {
					mgr.log.Warn().Err(lerr).Msg("fallback cleanup failed")
				}
			}
		}
		// The create call carried the derived title, so the title is
		// rewritten exactly once, here.
		chat.Title = title
	}

	for i := range chat.Messages {
		msg := &chat.Messages[i]
		if msg.SavedToServer || msg.Rejected || msg.ID == model.WelcomeMessageID {
			continue
		}
		res, err := mgr.remote.AppendMessage(ctx, ragstore.AppendParams{
			ChatID:    chat.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			MessageID: msg.ID,
			UserID:    sess.user.ID,
		})
		if err != nil {
			if ragstore.IsUnavailable(err) {
				mgr.log.Warn().Err(err).Str("chat_id", chat.ID).Msg("message append failed, degrading to fallback store")
				mgr.degrade(ctx, sess)
				return
			}
			// A definitive rejection will not succeed on retry; keep the
			// message in the transcript but stop re-sending it.
			mgr.log.Error().Err(err).Str("chat_id", chat.ID).Str("message_id", msg.ID).Msg("message append rejected")
			msg.Rejected = true
			continue
		}
		if res.MessageID != "" {
			msg.ID = res.MessageID
		}
		msg.SavedToServer = true
		if res.IsFlagged {
			msg.IsFlagged = true
			msg.FlagReason = res.FlagReason
			mgr.m.MessagesFlagged.Inc()
		}
	}

	if sess.degraded {
		// A full flush succeeded: resume remote-first behavior and drop
		// the now stale local snapshot.
		sess.degraded = false
		if lerr := mgr.local.Delete(ctx, sess.user.ID, chat.ID); lerr != nil {
			mgr.log.Warn().Err(lerr).Msg("fallback cleanup failed")
		}
	}
}

func (mgr *Manager) degrade(ctx context.Context, sess *session) {
	sess.degraded = true
	mgr.m.RemoteFailures.Inc()
	if err := mgr.local.Save(ctx, sess.user.ID, *sess.chat); err != nil {
		// Losing local durability too; in-memory state is still intact.
		mgr.log.Error().Err(err).Str("chat_id", sess.chat.ID).Msg("fallback save failed")
		return
	}
	mgr.m.FallbackWrites.Inc()
}

func realMessages(chat *model.Chat) []model.Message {
	out := make([]model.Message, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		if m.ID != model.WelcomeMessageID {
			out = append(out, m)
		}
	}
	return out
}

func firstUserMessage(chat *model.Chat) *model.Message {
	for i := range chat.Messages {
		if chat.Messages[i].Role == model.RoleUser {
			return &chat.Messages[i]
		}
	}
	return nil
}

func findMessage(chat *model.Chat, id string, fallbackIdx int) model.Message {
	for _, m := range chat.Messages {
		if m.ID == id {
			return m
		}
	}
	if fallbackIdx >= 0 && fallbackIdx < len(chat.Messages) {
		return chat.Messages[fallbackIdx]
	}
	return model.Message{}
}
