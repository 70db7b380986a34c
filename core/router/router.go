// Package router exposes the uniform invoke surface over external
// capabilities. Capability-to-provider bindings are resolved once at
// construction; every invocation, cached or not, is recorded as a tool run.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/core/cachesync"
	"github.com/junavoice/juna-core/internal/store"
)

// RunStore records capability invocations.
type RunStore interface {
	CreateToolRun(record store.ToolRunRecord) error
	UpdateToolRunStatus(toolRunID, status string) error
	FinishToolRun(toolRunID, status string, result json.RawMessage, errorCode string, finishedAt time.Time) error
	GetToolRunByIdempotencyKey(idempotencyKey string) (*store.ToolRunRecord, error)
}

// Providers is the set of external boundaries the router binds capabilities
// to. Nil providers leave their capabilities unbound; invoking one fails
// with a permanent error.
type Providers struct {
	Mail     capability.MailProvider
	Calendar capability.CalendarProvider
	Memory   capability.MemoryProvider
	Profile  capability.ProfileProvider
}

// Result is the outcome of one invocation.
type Result struct {
	ToolRunID string
	Payload   json.RawMessage

	// FromCache marks a read served by the cache layer; SyncedAt then
	// reports how fresh the served snapshot was.
	FromCache bool
	SyncedAt  time.Time
	Replayed  bool
}

type invokeFunc func(ctx context.Context, identity string, args json.RawMessage) (any, error)

type binding struct {
	descriptor capability.Descriptor
	call       invokeFunc
}

// Router dispatches capability invocations to the cache layer or to bound
// providers.
type Router struct {
	bindings map[capability.Name]binding
	cache    *cachesync.Layer
	runs     RunStore
	now      func() time.Time
}

// Option configures the router.
type Option func(*Router)

// WithClock overrides the router's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New builds the static capability binding table.
func New(providers Providers, cache *cachesync.Layer, runs RunStore, opts ...Option) *Router {
	r := &Router{
		bindings: map[capability.Name]binding{},
		cache:    cache,
		runs:     runs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bind(providers)
	return r
}

// Invoke dispatches one capability call. Retries must pass the same
// idempotency key: a key whose prior attempt already succeeded is replayed
// from the recorded result without touching the provider again.
func (r *Router) Invoke(ctx context.Context, name capability.Name, args json.RawMessage, identity, turnID string, stepIndex int, idempotencyKey string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "invoke capability")
	defer span.End()
	span.SetAttributes(
		attribute.String("capability.name", string(name)),
		attribute.Int("capability.step_index", stepIndex),
	)

	bound, ok := r.bindings[name]
	if !ok {
		err := capability.NewPermanentError("unknown_capability", fmt.Sprintf("capability not bound: %s", name))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	runID, replay, err := r.admitRun(ctx, bound, args, turnID, stepIndex, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		span.AddEvent("replayed prior success")
		return replay, nil
	}

	payload, fromCache, syncedAt, err := r.dispatch(ctx, bound, identity, args)
	if err != nil {
		finishErr := r.runs.FinishToolRun(runID, "failed", nil, capability.ErrorCode(err), r.now())
		if finishErr != nil {
			logger.WarnContext(ctx, "failed to record tool run failure", "tool_run_id", runID, "error", finishErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := r.runs.FinishToolRun(runID, "succeeded", payload, "", r.now()); err != nil {
		return nil, fmt.Errorf("record tool run success: %w", err)
	}

	return &Result{
		ToolRunID: runID,
		Payload:   payload,
		FromCache: fromCache,
		SyncedAt:  syncedAt,
	}, nil
}

// Descriptor exposes the static declaration for a bound capability.
func (r *Router) Descriptor(name capability.Name) (capability.Descriptor, bool) {
	bound, ok := r.bindings[name]
	return bound.descriptor, ok
}

// admitRun records the invocation attempt, reusing the existing row when the
// idempotency key was seen before. A prior succeeded row short-circuits.
func (r *Router) admitRun(ctx context.Context, bound binding, args json.RawMessage, turnID string, stepIndex int, idempotencyKey string) (string, *Result, error) {
	existing, err := r.runs.GetToolRunByIdempotencyKey(idempotencyKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", nil, fmt.Errorf("look up idempotency key: %w", err)
	}

	if existing != nil {
		if existing.Status == "succeeded" {
			return existing.ToolRunID, &Result{
				ToolRunID: existing.ToolRunID,
				Payload:   existing.Result,
				Replayed:  true,
			}, nil
		}
		if err := r.runs.UpdateToolRunStatus(existing.ToolRunID, "running"); err != nil {
			return "", nil, fmt.Errorf("reopen tool run: %w", err)
		}
		return existing.ToolRunID, nil, nil
	}

	runID := uuid.NewString()
	if err := r.runs.CreateToolRun(store.ToolRunRecord{
		ToolRunID:      runID,
		TurnID:         turnID,
		StepIndex:      stepIndex,
		Capability:     string(bound.descriptor.Name),
		Status:         "running",
		IdempotencyKey: idempotencyKey,
		Args:           args,
		StartedAt:      r.now(),
	}); err != nil {
		return "", nil, fmt.Errorf("record tool run: %w", err)
	}
	return runID, nil, nil
}

func (r *Router) dispatch(ctx context.Context, bound binding, identity string, args json.RawMessage) (json.RawMessage, bool, time.Time, error) {
	if bound.descriptor.CachedResource != "" && r.cache != nil {
		payload, syncedAt, err := r.serveFromCache(ctx, bound, identity, args)
		if err == nil {
			return payload, true, syncedAt, nil
		}
		logger.WarnContext(ctx, "cache dispatch failed, falling through to provider",
			"capability", string(bound.descriptor.Name), "error", err)
	}

	result, err := bound.call(ctx, identity, args)
	if err != nil {
		return nil, false, time.Time{}, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, time.Time{}, fmt.Errorf("marshal capability result: %w", err)
	}
	return payload, false, time.Time{}, nil
}
