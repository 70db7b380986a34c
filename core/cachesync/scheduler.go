package cachesync

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/junavoice/juna-core/core/capability"
)

// Scheduler refreshes registered resources on a cron schedule so that
// interactive reads mostly hit warm cache.
type Scheduler struct {
	layer      *Layer
	cron       *cron.Cron
	identities func() []string
}

// NewScheduler creates a background sync scheduler over the layer.
// identities enumerates the accounts to keep warm.
func NewScheduler(layer *Layer, identities func() []string) *Scheduler {
	return &Scheduler{
		layer:      layer,
		cron:       cron.New(),
		identities: identities,
	}
}

// Start registers the refresh job with the given cron spec (for example
// "@every 2m") and starts the scheduler.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.refreshAll)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s.layer.mu.Lock()
	resources := make([]capability.Resource, 0, len(s.layer.sources))
	for resource := range s.layer.sources {
		resources = append(resources, resource)
	}
	s.layer.mu.Unlock()

	for _, identity := range s.identities() {
		for _, resource := range resources {
			if err := s.layer.Refresh(ctx, identity, resource); err != nil {
				logger.WarnContext(ctx, "scheduled cache refresh failed",
					"identity", identity, "resource", string(resource), "error", err)
			}
		}
	}
}
