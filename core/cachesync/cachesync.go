// Package cachesync maintains locally fresh snapshots of external
// read-heavy resources (mailbox, calendar) keyed per identity, refreshed
// through each provider's incremental-sync primitive. Staleness is explicit:
// readers always learn when the data they got was last synced.
package cachesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/internal/store"
)

// Entry is one resource snapshot row produced by a sync source.
type Entry struct {
	ID      string
	Payload json.RawMessage
}

// Batch is one incremental-sync page. NextCursor always reflects the
// position after this batch; HasMore signals another page is pending.
type Batch struct {
	Entries    []Entry
	Deleted    []string
	NextCursor string
	HasMore    bool
}

// Source fetches changes for one resource type from its provider. An empty
// cursor requests a bounded full window instead of incremental changes.
type Source interface {
	Resource() capability.Resource
	Changes(ctx context.Context, identity, cursor string) (*Batch, error)
}

// Store is the persistence surface the layer writes through. Batches and
// cursor advances are applied atomically by the implementation.
type Store interface {
	ApplyCacheBatch(identity, resourceType string, entries []store.CacheEntryRecord, cursor string, syncTS time.Time) error
	DeleteCacheEntries(identity, resourceType string, resourceIDs []string) error
	ListCacheEntries(identity, resourceType string, limit int) ([]store.CacheEntryRecord, error)
	GetSyncCursor(identity, resourceType string) (*store.SyncCursorRecord, error)
}

// ReadResult carries cached entries together with their staleness.
type ReadResult struct {
	Entries  []store.CacheEntryRecord
	SyncedAt time.Time
	Fresh    bool
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// Layer serves read-through lookups and owns the refresh path.
type Layer struct {
	store   Store
	now     func() time.Time
	refresh refreshPolicy

	mu       sync.Mutex
	sources  map[capability.Resource]Source
	inflight map[string]*refreshCall
}

type refreshPolicy struct {
	// freshFor is the window within which cached data is served without
	// touching the provider.
	freshFor time.Duration
	// softStaleAfter is the age past which a serve still succeeds but kicks
	// an asynchronous refresh.
	softStaleAfter time.Duration
}

// LayerOption configures the cache layer.
type LayerOption func(*Layer)

// WithFreshnessWindow overrides how long cached data is served as fresh and
// when a background refresh is triggered.
func WithFreshnessWindow(freshFor, softStaleAfter time.Duration) LayerOption {
	return func(l *Layer) {
		l.refresh.freshFor = freshFor
		l.refresh.softStaleAfter = softStaleAfter
	}
}

// WithClock overrides the layer's time source.
func WithClock(now func() time.Time) LayerOption {
	return func(l *Layer) {
		l.now = now
	}
}

// NewLayer creates a cache layer over the given store.
func NewLayer(persistence Store, opts ...LayerOption) *Layer {
	l := &Layer{
		store:    persistence,
		now:      time.Now,
		sources:  map[capability.Resource]Source{},
		inflight: map[string]*refreshCall{},
		refresh: refreshPolicy{
			freshFor:       2 * time.Minute,
			softStaleAfter: 45 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register wires a sync source for its resource type.
func (l *Layer) Register(source Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[source.Resource()] = source
}

// Read serves a read-through lookup. Fresh data is returned directly;
// soft-stale data is returned while a refresh runs in the background;
// cold or hard-stale data forces a synchronous refresh first.
func (l *Layer) Read(ctx context.Context, identity string, resource capability.Resource, limit int) (*ReadResult, error) {
	ctx, span := tracer.Start(ctx, "cache read")
	defer span.End()
	span.SetAttributes(
		attribute.String("cache.resource", string(resource)),
		attribute.Int("cache.limit", limit),
	)

	cursor, err := l.store.GetSyncCursor(identity, string(resource))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load sync cursor: %w", err)
	}

	age := time.Duration(-1)
	if cursor != nil {
		age = l.now().Sub(cursor.LastSyncTS)
	}

	switch {
	case cursor == nil || age > l.refresh.freshFor:
		span.AddEvent("synchronous refresh")
		if err := l.Refresh(ctx, identity, resource); err != nil {
			if cursor == nil {
				return nil, fmt.Errorf("cold cache refresh failed: %w", err)
			}
			// Hard-stale data is still better than an error; staleness is
			// reported to the caller through SyncedAt/Fresh.
			logger.WarnContext(ctx, "serving stale cache after failed refresh",
				"resource", string(resource), "error", err)
		}
	case age > l.refresh.softStaleAfter:
		span.AddEvent("asynchronous refresh")
		go func() {
			refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := l.Refresh(refreshCtx, identity, resource); err != nil {
				logger.WarnContext(refreshCtx, "background cache refresh failed",
					"resource", string(resource), "error", err)
			}
		}()
	}

	entries, err := l.store.ListCacheEntries(identity, string(resource), limit)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}

	result := &ReadResult{Entries: entries}
	if cursor, err := l.store.GetSyncCursor(identity, string(resource)); err == nil {
		result.SyncedAt = cursor.LastSyncTS
		result.Fresh = l.now().Sub(cursor.LastSyncTS) <= l.refresh.freshFor
	}
	return result, nil
}

// Refresh pulls incremental changes for one (identity, resource) pair.
// Concurrent callers share a single in-flight refresh instead of issuing
// duplicate provider calls.
func (l *Layer) Refresh(ctx context.Context, identity string, resource capability.Resource) error {
	key := identity + "|" + string(resource)

	l.mu.Lock()
	if call, ok := l.inflight[key]; ok {
		l.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	l.inflight[key] = call
	source := l.sources[resource]
	l.mu.Unlock()

	call.err = l.runRefresh(ctx, identity, resource, source)
	close(call.done)

	l.mu.Lock()
	delete(l.inflight, key)
	l.mu.Unlock()

	return call.err
}

func (l *Layer) runRefresh(ctx context.Context, identity string, resource capability.Resource, source Source) error {
	ctx, span := tracer.Start(ctx, "cache refresh")
	defer span.End()
	span.SetAttributes(attribute.String("cache.resource", string(resource)))

	if source == nil {
		err := fmt.Errorf("no sync source registered for resource %q", resource)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	cursor := ""
	if record, err := l.store.GetSyncCursor(identity, string(resource)); err == nil {
		cursor = record.Cursor
	}

	applied := 0
	for {
		batch, err := source.Changes(ctx, identity, cursor)
		if errors.Is(err, capability.ErrCursorExpired) && cursor != "" {
			// Provider invalidated the cursor; fall back to a bounded window
			// fetch exactly once.
			span.AddEvent("cursor expired, bounded refetch")
			cursor = ""
			batch, err = source.Changes(ctx, identity, "")
		}
		if err != nil {
			err = fmt.Errorf("fetch changes: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		entries := make([]store.CacheEntryRecord, 0, len(batch.Entries))
		for _, entry := range batch.Entries {
			entries = append(entries, store.CacheEntryRecord{ResourceID: entry.ID, Payload: entry.Payload})
		}

		// Entries and cursor advance together; a failure here leaves the
		// cursor at the last fully applied batch.
		if err := l.store.ApplyCacheBatch(identity, string(resource), entries, batch.NextCursor, l.now()); err != nil {
			err = fmt.Errorf("apply batch: %w", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if len(batch.Deleted) > 0 {
			if err := l.store.DeleteCacheEntries(identity, string(resource), batch.Deleted); err != nil {
				err = fmt.Errorf("apply deletions: %w", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
		}

		applied += len(batch.Entries)
		cursor = batch.NextCursor
		if !batch.HasMore {
			break
		}
	}

	span.SetAttributes(attribute.Int("cache.entries_applied", applied))
	return nil
}
