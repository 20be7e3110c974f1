package domain

import (
	"context"

	"github.com/skobkin/xaescope/internal/bus"
	"github.com/skobkin/xaescope/internal/events"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartJournalProjection records every completed action until ctx is done.
func StartJournalProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, repo ActionRepository) {
	bus.Listen(ctx, b, events.TopicActionCompleted, func(completed events.ActionCompleted) {
		record := ActionRecordFromEvent(completed)
		queue.Enqueue("insert_action", func(writeCtx context.Context) error {
			_, err := repo.Insert(writeCtx, record)
			return err
		})
	})
}
