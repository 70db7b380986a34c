package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/junavoice/juna-core/core/capability"
)

func (r *Router) bind(providers Providers) {
	if providers.Mail != nil {
		r.add(capability.MailSearch, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var searchArgs capability.MailSearchArgs
			if err := unmarshalArgs(args, &searchArgs); err != nil {
				return nil, err
			}
			return providers.Mail.Search(ctx, identity, searchArgs)
		})
		r.add(capability.MailSend, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var sendArgs capability.MailSendArgs
			if err := unmarshalArgs(args, &sendArgs); err != nil {
				return nil, err
			}
			if sendArgs.To == "" || sendArgs.Subject == "" || sendArgs.Body == "" {
				return nil, capability.NewPermanentError("invalid_arguments", "to, subject and body are required")
			}
			return providers.Mail.Send(ctx, identity, sendArgs)
		})
		r.add(capability.MailDraftReply, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var draftArgs capability.MailDraftReplyArgs
			if err := unmarshalArgs(args, &draftArgs); err != nil {
				return nil, err
			}
			if draftArgs.Instruction == "" {
				return nil, capability.NewPermanentError("invalid_arguments", "instruction is required")
			}
			return providers.Mail.DraftReply(ctx, identity, draftArgs)
		})
	}

	if providers.Calendar != nil {
		r.add(capability.CalendarList, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var listArgs capability.CalendarListArgs
			if err := unmarshalArgs(args, &listArgs); err != nil {
				return nil, err
			}
			return providers.Calendar.List(ctx, identity, listArgs)
		})
		r.add(capability.CalendarBusy, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var listArgs capability.CalendarListArgs
			if err := unmarshalArgs(args, &listArgs); err != nil {
				return nil, err
			}
			return providers.Calendar.List(ctx, identity, listArgs)
		})
		r.add(capability.CalendarCreate, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var createArgs capability.CalendarCreateArgs
			if err := unmarshalArgs(args, &createArgs); err != nil {
				return nil, err
			}
			if createArgs.Start == "" || createArgs.End == "" {
				return nil, capability.NewPermanentError("invalid_arguments", "start and end are required")
			}
			return providers.Calendar.Create(ctx, identity, createArgs)
		})
	}

	if providers.Memory != nil {
		r.add(capability.MemorySearch, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var searchArgs capability.MemorySearchArgs
			if err := unmarshalArgs(args, &searchArgs); err != nil {
				return nil, err
			}
			if searchArgs.Query == "" {
				return nil, capability.NewPermanentError("invalid_arguments", "query is required")
			}
			return providers.Memory.Search(ctx, identity, searchArgs)
		})
		r.add(capability.MemoryWrite, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var writeArgs capability.MemoryWriteArgs
			if err := unmarshalArgs(args, &writeArgs); err != nil {
				return nil, err
			}
			if writeArgs.Content == "" {
				return nil, capability.NewPermanentError("invalid_arguments", "content is required")
			}
			return providers.Memory.Write(ctx, identity, writeArgs)
		})
	}

	if providers.Profile != nil {
		r.add(capability.ProfileGet, func(ctx context.Context, identity string, args json.RawMessage) (any, error) {
			var getArgs capability.ProfileGetArgs
			if err := unmarshalArgs(args, &getArgs); err != nil {
				return nil, err
			}
			return providers.Profile.Get(ctx, identity, getArgs)
		})
	}
}

func (r *Router) add(name capability.Name, call invokeFunc) {
	descriptor, err := capability.Lookup(name)
	if err != nil {
		panic(fmt.Sprintf("binding undeclared capability: %s", name))
	}
	r.bindings[name] = binding{descriptor: descriptor, call: call}
}

func unmarshalArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return capability.NewPermanentError("invalid_arguments", fmt.Sprintf("malformed arguments: %v", err))
	}
	return nil
}

// serveFromCache answers cached reads from the sync layer, applying the
// capability's own filtering over the snapshot rows.
func (r *Router) serveFromCache(ctx context.Context, bound binding, identity string, args json.RawMessage) (json.RawMessage, time.Time, error) {
	// Read more rows than any caller requests so post-filtering still fills
	// the page.
	const readLimit = 60

	read, err := r.cache.Read(ctx, identity, bound.descriptor.CachedResource, readLimit)
	if err != nil {
		return nil, time.Time{}, err
	}

	switch bound.descriptor.Name {
	case capability.MailSearch:
		var searchArgs capability.MailSearchArgs
		if err := unmarshalArgs(args, &searchArgs); err != nil {
			return nil, time.Time{}, err
		}
		messages := make([]capability.Message, 0, len(read.Entries))
		for _, entry := range read.Entries {
			var message capability.Message
			if err := json.Unmarshal(entry.Payload, &message); err != nil {
				continue
			}
			if matchesQuery(message, searchArgs.Query) {
				messages = append(messages, message)
			}
		}
		if searchArgs.MaxResults > 0 && len(messages) > searchArgs.MaxResults {
			messages = messages[:searchArgs.MaxResults]
		}
		payload, err := json.Marshal(messages)
		return payload, read.SyncedAt, err

	case capability.CalendarList, capability.CalendarBusy:
		var listArgs capability.CalendarListArgs
		if err := unmarshalArgs(args, &listArgs); err != nil {
			return nil, time.Time{}, err
		}
		events := make([]capability.Event, 0, len(read.Entries))
		for _, entry := range read.Entries {
			var event capability.Event
			if err := json.Unmarshal(entry.Payload, &event); err != nil {
				continue
			}
			if withinWindow(event, listArgs.TimeMin, listArgs.TimeMax) {
				events = append(events, event)
			}
		}
		if listArgs.MaxResults > 0 && len(events) > listArgs.MaxResults {
			events = events[:listArgs.MaxResults]
		}
		payload, err := json.Marshal(events)
		return payload, read.SyncedAt, err
	}

	return nil, time.Time{}, fmt.Errorf("no cache projection for capability %s", bound.descriptor.Name)
}

// matchesQuery does token-AND matching over the compact message fields,
// mirroring how the snapshot was queried upstream.
func matchesQuery(message capability.Message, query string) bool {
	if query == "" {
		return true
	}
	haystack := strings.ToLower(strings.Join([]string{
		message.From, message.FromName, message.Subject, message.Snippet,
	}, " "))
	for _, token := range strings.Fields(strings.ToLower(query)) {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}

func withinWindow(event capability.Event, timeMin, timeMax string) bool {
	if timeMin != "" && event.Start != "" && event.Start < timeMin {
		return false
	}
	if timeMax != "" && event.Start != "" && event.Start > timeMax {
		return false
	}
	return true
}
