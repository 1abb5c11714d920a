package engram_test

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"engram"
)

func TestAcceptance_SQLite_RecordExtractBuildContext(t *testing.T) {
	db, err := sql.Open("sqlite", "file:engram_acceptance?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	reasoner := &stubReasoner{reply: `[{"content": "User's favorite color is blue", "category": "preference"}]`}
	m, err := engram.New(engram.WithStorageConn(db), engram.WithReasoner(reasoner))
	if err != nil {
		t.Fatalf("build memory: %v", err)
	}
	defer m.Close(context.Background())

	ctx := context.Background()
	turns := []engram.MessageInput{
		{ConversationID: "acceptance", Role: "user", Content: "My favorite color is blue"},
		{ConversationID: "acceptance", Role: "assistant", Content: "Noted, blue it is."},
		{ConversationID: "acceptance", Role: "user", Content: "Please keep that in mind"},
	}
	for _, turn := range turns {
		if _, err := m.RecordMessage(ctx, turn); err != nil {
			t.Fatalf("record message: %v", err)
		}
	}

	// Wait for async extraction to land the fact, then check the context
	// block the chat layer would prepend.
	deadline := time.Now().Add(2 * time.Second)
	for {
		block := m.BuildContext(ctx, "what is the user's favorite color? blue?", engram.GlobalScope())
		if strings.Contains(block, "User's favorite color is blue") {
			if !strings.HasPrefix(block, "=== USER MEMORY CONTEXT ===") {
				t.Fatalf("context block missing header: %q", block)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for extraction; last block: %q", block)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
