// Package localmem provides in-process memory and profile providers, useful
// until an external store is wired in and as the default for single-node
// deployments.
package localmem

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/junavoice/juna-core/core/capability"
)

// MemoryProvider keeps long-term memory entries in process memory.
type MemoryProvider struct {
	mu      sync.RWMutex
	entries []capability.MemoryEntry
}

// NewMemoryProvider builds an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{}
}

// Search returns entries whose content or tags contain every query token.
func (p *MemoryProvider) Search(ctx context.Context, identity string, args capability.MemorySearchArgs) ([]capability.MemoryEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tokens := strings.Fields(strings.ToLower(args.Query))
	matches := []capability.MemoryEntry{}
	for _, entry := range p.entries {
		haystack := strings.ToLower(entry.Content + " " + strings.Join(entry.Tags, " "))
		matched := true
		for _, token := range tokens {
			if !strings.Contains(haystack, token) {
				matched = false
				break
			}
		}
		if matched {
			matches = append(matches, entry)
			if args.Limit > 0 && len(matches) == args.Limit {
				break
			}
		}
	}
	return matches, nil
}

// Write appends a new entry.
func (p *MemoryProvider) Write(ctx context.Context, identity string, args capability.MemoryWriteArgs) (*capability.MemoryEntry, error) {
	entry := capability.MemoryEntry{
		ID:        uuid.NewString(),
		Content:   args.Content,
		Tags:      args.Tags,
		Source:    args.Source,
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.entries = append(p.entries, entry)
	p.mu.Unlock()
	return &entry, nil
}

// ProfileProvider serves a fixed profile per identity.
type ProfileProvider struct {
	mu       sync.RWMutex
	profiles map[string]capability.Profile
}

// NewProfileProvider builds an empty provider.
func NewProfileProvider() *ProfileProvider {
	return &ProfileProvider{profiles: map[string]capability.Profile{}}
}

// Set registers the profile for an identity.
func (p *ProfileProvider) Set(identity string, profile capability.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[identity] = profile
}

// Get returns the identity's profile, or an empty one.
func (p *ProfileProvider) Get(ctx context.Context, identity string, args capability.ProfileGetArgs) (*capability.Profile, error) {
	userID := args.UserID
	if userID == "" {
		userID = identity
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	profile := p.profiles[userID]
	profile.UserID = userID
	return &profile, nil
}
