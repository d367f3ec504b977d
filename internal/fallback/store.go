// Package fallback is the degraded chat store used while the RAG backend is
// unreachable. It keeps a JSON-serialized chat list per user in redis and is
// never treated as authoritative once the backend is back.
package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/model"
)

const (
	keyPrefix       = "tutortron:chats:"
	DefaultMaxChats = 50
)

// StorageError wraps local-store failures (connectivity, corrupt payloads).
// Callers log it and carry on with in-memory state; only durability is lost.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("fallback: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

type Store struct {
	rdb      *redis.Client
	maxChats int
	log      zerolog.Logger
}

func New(rdb *redis.Client, maxChats int, log zerolog.Logger) *Store {
	if maxChats <= 0 {
		maxChats = DefaultMaxChats
	}
	return &Store{
		rdb:      rdb,
		maxChats: maxChats,
		log:      log.With().Str("component", "fallback").Logger(),
	}
}

func key(userID string) string { return keyPrefix + userID }

func (s *Store) load(ctx context.Context, userID string) ([]model.Chat, error) {
	raw, err := s.rdb.Get(ctx, key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "load", Err: err}
	}
	var chats []model.Chat
	if err := json.Unmarshal(raw, &chats); err != nil {
		return nil, &StorageError{Op: "decode", Err: err}
	}
	return chats, nil
}

func (s *Store) write(ctx context.Context, userID string, chats []model.Chat) error {
	raw, err := json.Marshal(chats)
	if err != nil {
		return &StorageError{Op: "encode", Err: err}
	}
	if err := s.rdb.Set(ctx, key(userID), raw, 0).Err(); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	return nil
}

// List returns the user's locally retained chats, most recently updated first.
func (s *Store) List(ctx context.Context, userID string) ([]model.Chat, error) {
	chats, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortByRecency(chats)
	return chats, nil
}

// Save upserts one chat by id, stamps LastUpdated, and evicts the
// least-recently-updated chats beyond the retention cap.
func (s *Store) Save(ctx context.Context, userID string, chat model.Chat) error {
	chats, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	chat.LastUpdated = time.Now().UTC()
	replaced := false
	for i := range chats {
		if chats[i].ID == chat.ID {
			chats[i] = chat
			replaced = true
			break
		}
	}
	if !replaced {
		chats = append(chats, chat)
	}

	sortByRecency(chats)
	if len(chats) > s.maxChats {
		chats = chats[:s.maxChats]
	}
	return s.write(ctx, userID, chats)
}

func (s *Store) Delete(ctx context.Context, userID, chatID string) error {
	chats, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	out := chats[:0]
	for _, c := range chats {
		if c.ID != chatID {
			out = append(out, c)
		}
	}
	return s.write(ctx, userID, out)
}

func (s *Store) Rename(ctx context.Context, userID, chatID, title string) error {
	chats, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	for i := range chats {
		if chats[i].ID == chatID {
			chats[i].Title = title
			chats[i].LastUpdated = time.Now().UTC()
		}
	}
	return s.write(ctx, userID, chats)
}

// Get returns the retained copy of one chat, or nil if absent.
func (s *Store) Get(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	chats, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		if chats[i].ID == chatID {
			return &chats[i], nil
		}
	}
	return nil, nil
}

func sortByRecency(chats []model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].LastUpdated.After(chats[j].LastUpdated)
	})
}
