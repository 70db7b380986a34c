package capability

import (
	"github.com/invopop/jsonschema"
)

var argTypes = map[Name]any{
	MailSearch:     MailSearchArgs{},
	MailSend:       MailSendArgs{},
	MailDraftReply: MailDraftReplyArgs{},
	CalendarList:   CalendarListArgs{},
	CalendarBusy:   CalendarListArgs{},
	CalendarCreate: CalendarCreateArgs{},
	MemorySearch:   MemorySearchArgs{},
	MemoryWrite:    MemoryWriteArgs{},
	ProfileGet:     ProfileGetArgs{},
}

// ArgsSchema reflects the JSON schema of a capability's arguments. Nil for
// unknown capabilities.
func ArgsSchema(name Name) *jsonschema.Schema {
	argType, ok := argTypes[name]
	if !ok {
		return nil
	}
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(argType)
}
