package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutortron/gateway/internal/common"
	"github.com/tutortron/gateway/internal/metrics"
	"github.com/tutortron/gateway/internal/moderation"
)

// EntrySink is where tracked entries land: the repo directly, or a queue
// publisher with the worker appending on the other side.
type EntrySink interface {
	Publish(ctx context.Context, e Entry) error
}

// Tracker records user and admin actions. It is constructed and injected
// explicitly; tracking failures are logged and never surfaced to callers.
type Tracker struct {
	repo *Repo
	sink EntrySink
	m    *metrics.Metrics
	log  zerolog.Logger
}

// NewTracker builds a tracker that appends through sink when non-nil and
// synchronously through repo otherwise.
func NewTracker(repo *Repo, sink EntrySink, m *metrics.Metrics, log zerolog.Logger) *Tracker {
	return &Tracker{
		repo: repo,
		sink: sink,
		m:    m,
		log:  log.With().Str("component", "activity").Logger(),
	}
}

// Track records one action. Content, when present, gets a heuristic
// moderation verdict attached so the admin feed can surface it even if the
// backend never saw the message.
func (t *Tracker) Track(ctx context.Context, actor, action, details, content string) {
	id, err := common.NewULID()
	if err != nil {
		id = uuid.NewString()
	}
	e := Entry{
		ID:        id,
		Actor:     actor,
		Action:    action,
		Details:   details,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if content != "" {
		if v := moderation.Evaluate(content); v.Flagged {
			e.IsFlagged = true
			e.FlagReason = v.Reason
		}
	}

	if t.sink != nil {
		if err := t.sink.Publish(ctx, e); err != nil {
			t.log.Warn().Err(err).Str("action", action).Msg("activity publish failed, appending directly")
		} else {
			t.m.ActivitiesTracked.Inc()
			return
		}
	}
	if err := t.repo.Append(ctx, &e); err != nil {
		t.log.Error().Err(err).Str("action", action).Msg("activity append failed")
		return
	}
	t.m.ActivitiesTracked.Inc()
}
