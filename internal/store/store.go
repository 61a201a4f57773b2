package store

import (
	"context"

	"github.com/me/cmdbase/pkg/model"
)

// Store persists the scheduler journal.
type Store interface {
	// AppendEvents writes events in order, all or nothing.
	AppendEvents(ctx context.Context, events []*model.Event) error
	ListEvents(ctx context.Context, opts model.ListOptions) ([]*model.Event, int, error)
	CountEvents(ctx context.Context, opts model.ListOptions) (int, error)
	ListRuns(ctx context.Context) ([]*model.RunSummary, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
