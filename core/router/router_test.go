package router

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junavoice/juna-core/core/capability"
	"github.com/junavoice/juna-core/core/cachesync"
	"github.com/junavoice/juna-core/internal/store"
)

type fakeMail struct {
	searchCalls atomic.Int32
	sendCalls   atomic.Int32
	sendErr     error
}

func (m *fakeMail) Search(ctx context.Context, identity string, args capability.MailSearchArgs) ([]capability.Message, error) {
	m.searchCalls.Add(1)
	return []capability.Message{{ID: "m1", From: "alex@example.com", Subject: "report"}}, nil
}

func (m *fakeMail) Send(ctx context.Context, identity string, args capability.MailSendArgs) (*capability.SendReceipt, error) {
	m.sendCalls.Add(1)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &capability.SendReceipt{MessageID: "sent-1", To: args.To, Subject: args.Subject}, nil
}

func (m *fakeMail) DraftReply(ctx context.Context, identity string, args capability.MailDraftReplyArgs) (*capability.Draft, error) {
	return &capability.Draft{To: "alex@example.com", Subject: "Re: report", Body: "Sure."}, nil
}

func openTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sendArgs(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(capability.MailSendArgs{To: "alex@example.com", Subject: "report", Body: "attached"})
	if err != nil {
		t.Fatalf("failed to marshal args: %v", err)
	}
	return raw
}

func TestInvokeRecordsToolRun(t *testing.T) {
	db := openTestStore(t)
	mail := &fakeMail{}
	r := New(Providers{Mail: mail}, nil, db)

	result, err := r.Invoke(context.Background(), capability.MailSend, sendArgs(t), "user-1", "turn-1", 0, "key-1")
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if result.ToolRunID == "" {
		t.Fatalf("expected a tool run id")
	}

	record, err := db.GetToolRunByIdempotencyKey("key-1")
	if err != nil {
		t.Fatalf("expected a recorded tool run: %v", err)
	}
	if record.Status != "succeeded" {
		t.Fatalf("expected a succeeded run, got %q", record.Status)
	}
	if record.Capability != string(capability.MailSend) {
		t.Fatalf("unexpected capability recorded: %q", record.Capability)
	}
}

func TestInvokeReplaysPriorSuccess(t *testing.T) {
	db := openTestStore(t)
	mail := &fakeMail{}
	r := New(Providers{Mail: mail}, nil, db)

	first, err := r.Invoke(context.Background(), capability.MailSend, sendArgs(t), "user-1", "turn-1", 0, "key-1")
	if err != nil {
		t.Fatalf("first invoke failed: %v", err)
	}

	second, err := r.Invoke(context.Background(), capability.MailSend, sendArgs(t), "user-1", "turn-1", 0, "key-1")
	if err != nil {
		t.Fatalf("second invoke failed: %v", err)
	}

	if !second.Replayed {
		t.Fatalf("expected the retry to replay the prior success")
	}
	if second.ToolRunID != first.ToolRunID {
		t.Fatalf("expected the same tool run row, got %q and %q", first.ToolRunID, second.ToolRunID)
	}
	if got := mail.sendCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one provider send, got %d", got)
	}
}

func TestInvokeRetryAfterTransientFailureReusesRun(t *testing.T) {
	db := openTestStore(t)
	mail := &fakeMail{sendErr: capability.NewTransientError("timeout", "provider timed out")}
	r := New(Providers{Mail: mail}, nil, db)

	if _, err := r.Invoke(context.Background(), capability.MailSend, sendArgs(t), "user-1", "turn-1", 0, "key-1"); err == nil {
		t.Fatalf("expected the first attempt to fail")
	}

	record, err := db.GetToolRunByIdempotencyKey("key-1")
	if err != nil {
		t.Fatalf("expected a recorded run: %v", err)
	}
	if record.Status != "failed" || record.ErrorCode != "timeout" {
		t.Fatalf("unexpected failure record: status=%q code=%q", record.Status, record.ErrorCode)
	}
	firstRunID := record.ToolRunID

	mail.sendErr = nil
	result, err := r.Invoke(context.Background(), capability.MailSend, sendArgs(t), "user-1", "turn-1", 0, "key-1")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if result.ToolRunID != firstRunID {
		t.Fatalf("retry must reuse the same tool run row")
	}
	if got := mail.sendCalls.Load(); got != 2 {
		t.Fatalf("expected two provider attempts, got %d", got)
	}
}

func TestInvokeUnknownCapability(t *testing.T) {
	db := openTestStore(t)
	r := New(Providers{}, nil, db)

	_, err := r.Invoke(context.Background(), capability.MailSend, sendArgs(t), "user-1", "turn-1", 0, "key-1")
	if err == nil {
		t.Fatalf("expected an error for an unbound capability")
	}
	if capability.IsTransient(err) {
		t.Fatalf("unbound capability must be a permanent error")
	}
}

func TestCachedMailSearchServedFromSnapshot(t *testing.T) {
	db := openTestStore(t)
	layer := cachesync.NewLayer(db)

	seed := func(id, from, subject string) store.CacheEntryRecord {
		payload, _ := json.Marshal(capability.Message{ID: id, From: from, Subject: subject})
		return store.CacheEntryRecord{ResourceID: id, Payload: payload}
	}
	if err := db.ApplyCacheBatch("user-1", string(capability.ResourceMailbox), []store.CacheEntryRecord{
		seed("m1", "alex@example.com", "quarterly report"),
		seed("m2", "sam@example.com", "lunch"),
	}, "cursor-1", time.Now()); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	mail := &fakeMail{}
	r := New(Providers{Mail: mail}, layer, db)

	args, _ := json.Marshal(capability.MailSearchArgs{Query: "report", MaxResults: 5})
	result, err := r.Invoke(context.Background(), capability.MailSearch, args, "user-1", "turn-1", 0, "key-search")
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !result.FromCache {
		t.Fatalf("expected the read to be served from cache")
	}
	if got := mail.searchCalls.Load(); got != 0 {
		t.Fatalf("expected no provider search calls, got %d", got)
	}

	var messages []capability.Message
	if err := json.Unmarshal(result.Payload, &messages); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "m1" {
		t.Fatalf("expected only the matching message, got %+v", messages)
	}
}
