package ports

import (
	"context"
	"time"

	"NewsDigest/internal/domain"
)

// Mailbox wraps one remote mailbox session for the duration of a run.
type Mailbox interface {
	// ListUnread returns the unread messages in a folder. A connection
	// failure here aborts the run before any state mutation.
	ListUnread(folder string) ([]domain.Message, error)
	// MarkRead sets the \Seen flag on one message.
	MarkRead(folder string, uid uint32) error
	// Archive moves one message to the target folder, falling back to
	// copy + delete + expunge when the server lacks native move support.
	// Safe to call again for an already-archived message.
	Archive(folder string, uid uint32, target string) error
}

// StateStore persists the dedup snapshot as a whole.
type StateStore interface {
	// Load returns the current snapshot, or an empty one when no store
	// exists yet.
	Load() (*domain.Snapshot, error)
	// Flush durably replaces the stored snapshot. Either the full new
	// snapshot is written or the prior one remains intact.
	Flush(snapshot *domain.Snapshot) error
}

// ArticleFetcher retrieves the linked article behind a digest item.
// Failures are soft: the caller degrades the item and continues.
type ArticleFetcher interface {
	Fetch(ctx context.Context, url string) (domain.Article, error)
}

// Scorer assigns an external importance score in [0,1] per message ID for
// one batch of items. Failures are soft: the caller falls back to neutral.
type Scorer interface {
	Score(ctx context.Context, items []domain.Item) (map[string]float64, error)
}

// Renderer produces the single self-contained HTML digest document.
type Renderer interface {
	Render(digest domain.Digest) (string, error)
}

// Dispatcher submits the rendered digest for delivery. Exactly one attempt
// per run; a failure must block every downstream commit.
type Dispatcher interface {
	Send(ctx context.Context, subject, html string) error
}

// Scheduler controls when runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
