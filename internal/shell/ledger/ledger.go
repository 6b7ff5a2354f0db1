// Package ledger records deployment attempts as an append-only event history.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/reflow/internal/core/domain"
	"github.com/artpar/reflow/internal/shell/store"
)

// QueryOptions filters and pages a project's history. Zero values mean
// "unfiltered" and "default page".
type QueryOptions struct {
	Limit   int
	Offset  int
	Env     string
	Outcome string
}

// Ledger appends and queries deployment events.
type Ledger struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// New creates a Ledger backed by s.
func New(s store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "ledger"),
	}
}

// Append assigns the event its identity and timestamp and persists it. The
// event is durable when Append returns.
func (l *Ledger) Append(ctx context.Context, event *domain.DeploymentEvent) error {
	event.ID = uuid.New().String()
	event.Timestamp = l.stamp()

	if err := l.store.AppendEvent(ctx, event); err != nil {
		return domain.NewInternalError(fmt.Errorf("append event: %w", err))
	}

	l.logger.Debug("event recorded",
		"id", event.ID,
		"project", event.ProjectName,
		"env", event.Environment,
		"type", event.EventType,
		"outcome", event.Outcome,
	)
	return nil
}

// stamp returns the current time, never earlier than the previous stamp.
// Wall clock steps backwards would otherwise put an attempt's terminal event
// behind its started event in newest-first listings.
func (l *Ledger) stamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	return ts
}

// Query returns the project's events newest first.
func (l *Ledger) Query(ctx context.Context, project string, opts QueryOptions) ([]domain.DeploymentEvent, error) {
	filter := store.EventFilter{
		ProjectName: project,
		ListOptions: store.ListOptions{Limit: opts.Limit, Offset: opts.Offset},
	}

	if opts.Limit < 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidQuery, "limit must not be negative")
	}
	if opts.Env != "" {
		env, err := domain.ParseEnvironment(opts.Env)
		if err != nil {
			return nil, err
		}
		filter.Environment = env
	}
	if opts.Outcome != "" {
		outcome, err := domain.ParseOutcome(opts.Outcome)
		if err != nil {
			return nil, err
		}
		filter.Outcome = outcome
	}

	events, err := l.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, domain.NewInternalError(fmt.Errorf("query events: %w", err))
	}
	return events, nil
}

// Recent returns the newest events across every project.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.DeploymentEvent, error) {
	if limit < 0 {
		return nil, domain.NewValidationError(domain.ErrInvalidQuery, "limit must not be negative")
	}
	events, err := l.store.ListEvents(ctx, store.EventFilter{ListOptions: store.ListOptions{Limit: limit}})
	if err != nil {
		return nil, domain.NewInternalError(fmt.Errorf("recent events: %w", err))
	}
	return events, nil
}
