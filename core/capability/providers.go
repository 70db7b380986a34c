package capability

import (
	"context"
	"time"
)

// Message is a compact mailbox snapshot row.
type Message struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id,omitempty"`
	From     string    `json:"from"`
	FromName string    `json:"from_name,omitempty"`
	To       string    `json:"to,omitempty"`
	Subject  string    `json:"subject"`
	Snippet  string    `json:"snippet,omitempty"`
	Date     time.Time `json:"date"`
}

// SendReceipt reports a completed mail send.
type SendReceipt struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
}

// Draft is a reply drafted but never sent automatically.
type Draft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Event is a compact calendar snapshot row.
type Event struct {
	ID        string   `json:"id"`
	Summary   string   `json:"summary"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Location  string   `json:"location,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
	Link      string   `json:"link,omitempty"`
}

// MemoryEntry is one long-term memory row.
type MemoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the minimal profile view the engine reads.
type Profile struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// MailProvider is the outbound mail boundary. Search results the router
// serves come from the cache layer; the provider is only reached for writes,
// drafts and cache refreshes.
type MailProvider interface {
	Search(ctx context.Context, identity string, args MailSearchArgs) ([]Message, error)
	Send(ctx context.Context, identity string, args MailSendArgs) (*SendReceipt, error)
	DraftReply(ctx context.Context, identity string, args MailDraftReplyArgs) (*Draft, error)
}

// CalendarProvider is the outbound calendar boundary.
type CalendarProvider interface {
	List(ctx context.Context, identity string, args CalendarListArgs) ([]Event, error)
	Create(ctx context.Context, identity string, args CalendarCreateArgs) (*Event, error)
}

// MemoryProvider is the long-term memory boundary.
type MemoryProvider interface {
	Search(ctx context.Context, identity string, args MemorySearchArgs) ([]MemoryEntry, error)
	Write(ctx context.Context, identity string, args MemoryWriteArgs) (*MemoryEntry, error)
}

// ProfileProvider reads the account profile store.
type ProfileProvider interface {
	Get(ctx context.Context, identity string, args ProfileGetArgs) (*Profile, error)
}
