package cache

import (
	"context"
	"time"
)

// Slot is the result of a lookup. Key is pinned to the generation that was
// current when Get ran, so a value built after a miss is written back under
// that generation even if Invalidate runs in between.
type Slot struct {
	Key string
	Hit bool
}

// ReportCache stores rendered report payloads. Invalidate drops every entry
// written before the call; it runs after each committed sale or cancellation.
type ReportCache interface {
	Get(ctx context.Context, key string, dest any) (Slot, error)
	Set(ctx context.Context, slot Slot, value any, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, key string, _ any) (Slot, error) {
	return Slot{Key: key}, nil
}

func (NoopReportCache) Set(_ context.Context, _ Slot, _ any, _ time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(_ context.Context) error {
	return nil
}
