package voice

import "testing"

func TestTranscriptCorrectionReplacesLastAgentEntry(t *testing.T) {
	tr := NewTranscript()
	if tr.CorrectAgent("nothing") {
		t.Fatal("correction without agent entry should report false")
	}

	tr.AddUser("what is go")
	tr.AddAgent("Go is a language")
	tr.AddUser("and?")
	tr.AddAgent("It was designed at Google in 2007 and")

	if !tr.CorrectAgent("It was designed at Google") {
		t.Fatal("expected correction to apply")
	}

	entries := tr.Entries()
	if len(entries) != 4 {
		t.Fatalf("correction must not append, got %d entries", len(entries))
	}
	if entries[3].Text != "It was designed at Google" {
		t.Fatalf("unexpected corrected text %q", entries[3].Text)
	}
	if entries[1].Text != "Go is a language" {
		t.Fatalf("earlier agent entry modified: %q", entries[1].Text)
	}

	history := tr.History()
	if history[2].Role != RoleUser || history[3].Role != RoleAssistant {
		t.Fatalf("unexpected roles %+v", history)
	}
	if tr.AgentTurns() != 2 {
		t.Fatalf("expected 2 agent turns, got %d", tr.AgentTurns())
	}
}
