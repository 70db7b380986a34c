package capability

import "testing"

func TestCatalogActionLevels(t *testing.T) {
	expected := map[Name]ActionLevel{
		MailSearch:     ActionRead,
		MailSend:       ActionWrite,
		MailDraftReply: ActionDraft,
		CalendarList:   ActionRead,
		CalendarBusy:   ActionRead,
		CalendarCreate: ActionWrite,
		MemorySearch:   ActionRead,
		MemoryWrite:    ActionWrite,
		ProfileGet:     ActionRead,
	}

	for name, level := range expected {
		descriptor, err := Lookup(name)
		if err != nil {
			t.Fatalf("expected %s in catalog: %v", name, err)
		}
		if descriptor.ActionLevel != level {
			t.Fatalf("expected %s to be %s, got %s", name, level, descriptor.ActionLevel)
		}
	}

	if len(Catalog()) != len(expected) {
		t.Fatalf("expected %d capabilities, got %d", len(expected), len(Catalog()))
	}
}

func TestOnlyCachedReadsDeclareResources(t *testing.T) {
	for _, descriptor := range Catalog() {
		if descriptor.CachedResource != "" && descriptor.ActionLevel != ActionRead {
			t.Fatalf("%s declares a cached resource but is %s", descriptor.Name, descriptor.ActionLevel)
		}
	}
}

func TestLookupUnknownCapability(t *testing.T) {
	if _, err := Lookup("mail.explode"); err == nil {
		t.Fatalf("expected an error for an unknown capability")
	}
}

func TestArgsSchemaReflectsRequiredFields(t *testing.T) {
	schema := ArgsSchema(MailSend)
	if schema == nil {
		t.Fatalf("expected a schema for %s", MailSend)
	}

	required := map[string]bool{}
	for _, field := range schema.Required {
		required[field] = true
	}
	for _, field := range []string{"to", "subject", "body"} {
		if !required[field] {
			t.Fatalf("expected %q to be required in the %s schema", field, MailSend)
		}
	}

	if ArgsSchema("mail.explode") != nil {
		t.Fatalf("expected no schema for an unknown capability")
	}
}
