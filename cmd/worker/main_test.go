package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tutortron/gateway/internal/activity"
)

func openTestRepo(t *testing.T) *activity.Repo {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&activity.Entry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return activity.NewRepo(db)
}

func TestAppendDeliverySurvivesCancelledContext(t *testing.T) {
	repo := openTestRepo(t)

	e := activity.Entry{
		ID:        "01TESTWORKERENTRY000000001",
		Actor:     "u1",
		Action:    activity.ActionMessageSent,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// shutdown has already fired; drained deliveries must still be stored
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := appendDelivery(ctx, repo, body); err != nil {
		t.Fatalf("append after shutdown signal: %v", err)
	}

	entries, err := repo.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != e.ID {
		t.Fatalf("entry not stored: %+v", entries)
	}
}

func TestAppendDeliveryRejectsBadPayload(t *testing.T) {
	repo := openTestRepo(t)

	if err := appendDelivery(context.Background(), repo, []byte("not json")); err == nil {
		t.Fatalf("expected unmarshal error")
	}
	if err := appendDelivery(context.Background(), repo, []byte(`{"actor":"u1"}`)); err == nil {
		t.Fatalf("expected missing id error")
	}
}
