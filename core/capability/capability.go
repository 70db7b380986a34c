// Package capability declares the provider-agnostic capability surface the
// engine executes plans against. Each capability carries a static action
// level; write capabilities are the only ones that ever reach the
// confirmation gate.
package capability

import "fmt"

// Name identifies one capability on the router's surface.
type Name string

const (
	MailSearch     Name = "mail.search"
	MailSend       Name = "mail.send"
	MailDraftReply Name = "mail.draft_reply"
	CalendarList   Name = "calendar.list"
	CalendarCreate Name = "calendar.create"
	CalendarBusy   Name = "calendar.availability"
	MemorySearch   Name = "memory.search"
	MemoryWrite    Name = "memory.write"
	ProfileGet     Name = "profile.get"
)

// ActionLevel classifies the side-effect severity of a capability.
type ActionLevel string

const (
	// ActionRead is safe and runs automatically.
	ActionRead ActionLevel = "read"
	// ActionDraft runs automatically but its output is shown, never sent.
	ActionDraft ActionLevel = "draft"
	// ActionWrite has real-world side effects and requires confirmation.
	ActionWrite ActionLevel = "write"
)

// Resource names an externally-synced resource served by the cache layer.
type Resource string

const (
	ResourceMailbox  Resource = "mailbox"
	ResourceCalendar Resource = "calendar"
)

// Descriptor is the static declaration of one capability.
type Descriptor struct {
	Name        Name
	Description string
	ActionLevel ActionLevel

	// CachedResource is set for reads the router may serve from the cache
	// layer. Empty means the capability always reaches its provider.
	CachedResource Resource
}

var catalog = []Descriptor{
	{Name: MailSearch, Description: "Search recent mailbox messages by query.", ActionLevel: ActionRead, CachedResource: ResourceMailbox},
	{Name: MailSend, Description: "Send an email on the user's behalf.", ActionLevel: ActionWrite},
	{Name: MailDraftReply, Description: "Draft a reply to a recent message without sending it.", ActionLevel: ActionDraft},
	{Name: CalendarList, Description: "List upcoming calendar events in a window.", ActionLevel: ActionRead, CachedResource: ResourceCalendar},
	{Name: CalendarBusy, Description: "Report busy intervals in a window.", ActionLevel: ActionRead, CachedResource: ResourceCalendar},
	{Name: CalendarCreate, Description: "Create a calendar event.", ActionLevel: ActionWrite},
	{Name: MemorySearch, Description: "Search the user's long-term memory.", ActionLevel: ActionRead},
	{Name: MemoryWrite, Description: "Store a fact in the user's long-term memory.", ActionLevel: ActionWrite},
	{Name: ProfileGet, Description: "Read the user's profile.", ActionLevel: ActionRead},
}

// Catalog returns all declared capabilities.
func Catalog() []Descriptor {
	descriptors := make([]Descriptor, len(catalog))
	copy(descriptors, catalog)
	return descriptors
}

// Lookup returns the descriptor for a capability name.
func Lookup(name Name) (Descriptor, error) {
	for _, descriptor := range catalog {
		if descriptor.Name == name {
			return descriptor, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown capability: %s", name)
}
