package idempotency

import (
	"context"
	"fmt"
	"time"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"
)

// Recorder is the part of an atomic unit that holds processed ids.
type Recorder interface {
	HasProcessedNotification(ctx context.Context, id string) (bool, error)
	MarkProcessedNotification(ctx context.Context, n *models.ProcessedNotification) (bool, error)
}

// Gate answers "was this notification already handled". The Recorder row
// is the source of truth; the cache only short-circuits.
type Gate struct {
	cache Cache
	log   *logger.Logger
	now   func() time.Time
}

func NewGate(cache Cache, log *logger.Logger) *Gate {
	if cache == nil {
		cache = NopCache{}
	}
	return &Gate{cache: cache, log: log, now: time.Now}
}

// Cached checks the cache only. Cache failures count as a miss.
func (g *Gate) Cached(ctx context.Context, id string) bool {
	seen, err := g.cache.Seen(ctx, id)
	if err != nil {
		g.log.Warn("IDEMPOTENCY", fmt.Sprintf("Cache lookup for %s failed, falling through to datastore: %v", id, err))
		return false
	}
	return seen
}

// AlreadyProcessed checks the authoritative row inside the caller's unit.
func (g *Gate) AlreadyProcessed(ctx context.Context, rec Recorder, id string) (bool, error) {
	return rec.HasProcessedNotification(ctx, id)
}

// Claim records id inside the caller's unit. false means another delivery
// of the same id got there first.
func (g *Gate) Claim(ctx context.Context, rec Recorder, id, kind, outcome string) (bool, error) {
	return rec.MarkProcessedNotification(ctx, &models.ProcessedNotification{
		NotificationID: id,
		Kind:           kind,
		Outcome:        outcome,
		ProcessedAt:    g.now().UTC(),
	})
}

// Remember is called after the claiming unit commits.
func (g *Gate) Remember(ctx context.Context, id string) {
	if err := g.cache.Remember(ctx, id); err != nil {
		g.log.Warn("IDEMPOTENCY", fmt.Sprintf("Failed to cache processed notification %s: %v", id, err))
	}
}
