package capability

// MailSearchArgs query the mailbox snapshot.
type MailSearchArgs struct {
	Query      string `json:"query,omitempty" jsonschema:"description=Free-text mailbox query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum messages to return"`
}

// MailSendArgs describe an outgoing email.
type MailSendArgs struct {
	To       string `json:"to" jsonschema:"description=Recipient email address"`
	Subject  string `json:"subject" jsonschema:"description=Email subject"`
	Body     string `json:"body" jsonschema:"description=Email body"`
	CC       string `json:"cc,omitempty" jsonschema:"description=Comma-separated CC addresses"`
	BCC      string `json:"bcc,omitempty" jsonschema:"description=Comma-separated BCC addresses"`
	ThreadID string `json:"thread_id,omitempty" jsonschema:"description=Thread to reply within"`
}

// MailDraftReplyArgs ask for a reply draft to a recent message.
type MailDraftReplyArgs struct {
	Instruction string `json:"instruction" jsonschema:"description=What the reply should say"`
	MaxResults  int    `json:"max_results,omitempty" jsonschema:"description=How many recent messages to consider"`
}

// CalendarListArgs bound an event listing window.
type CalendarListArgs struct {
	TimeMin    string `json:"time_min,omitempty" jsonschema:"description=RFC3339 window start"`
	TimeMax    string `json:"time_max,omitempty" jsonschema:"description=RFC3339 window end"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum events to return"`
}

// CalendarCreateArgs describe a new calendar event. Start and End are
// absolute RFC3339 instants; Timezone is always explicit, never inferred.
type CalendarCreateArgs struct {
	Summary   string   `json:"summary" jsonschema:"description=Event title"`
	Start     string   `json:"start" jsonschema:"description=RFC3339 event start"`
	End       string   `json:"end" jsonschema:"description=RFC3339 event end"`
	Timezone  string   `json:"timezone" jsonschema:"description=IANA timezone of the event"`
	Location  string   `json:"location,omitempty" jsonschema:"description=Event location"`
	Attendees []string `json:"attendees,omitempty" jsonschema:"description=Attendee email addresses"`
}

// MemorySearchArgs query long-term memory.
type MemorySearchArgs struct {
	Query string `json:"query" jsonschema:"description=What to recall"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum entries to return"`
}

// MemoryWriteArgs store a long-term memory entry.
type MemoryWriteArgs struct {
	Content string   `json:"content" jsonschema:"description=Fact to remember"`
	Tags    []string `json:"tags,omitempty" jsonschema:"description=Labels for later retrieval"`
	Source  string   `json:"source,omitempty" jsonschema:"description=Where the fact came from"`
}

// ProfileGetArgs read the user profile.
type ProfileGetArgs struct {
	UserID string `json:"user_id,omitempty" jsonschema:"description=Defaults to the turn's identity"`
}
