package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/vellum-dev/vellum/pkg/models"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func newSession(t *testing.T, ctx context.Context, store Store) *models.Session {
	t.Helper()
	session := &models.Session{
		Metadata: models.SessionMetadata{Provider: "anthropic", Model: "claude-sonnet-4"},
	}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return session
}

func userMsg(content string) *models.Message {
	return &models.Message{Role: models.RoleUser, Content: content, CreatedAt: time.Now()}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			session := newSession(t, ctx, store)
			id := session.Metadata.ID
			if id == "" {
				t.Fatal("Create did not assign an id")
			}

			msgs := []*models.Message{
				userMsg("hello"),
				{
					Role:      models.RoleAssistant,
					Content:   "hi",
					ToolCalls: []models.ToolCall{{ID: "t1", Name: "read_file", Arguments: []byte(`{"path":"a"}`)}},
				},
				{
					Role:        models.RoleTool,
					ToolResults: []models.ToolResult{{ToolCallID: "t1", Content: "data"}},
				},
			}
			for _, m := range msgs {
				if err := store.AppendMessage(ctx, id, m); err != nil {
					t.Fatalf("AppendMessage: %v", err)
				}
			}
			if _, err := store.CreateCheckpoint(ctx, id, "after greeting"); err != nil {
				t.Fatalf("CreateCheckpoint: %v", err)
			}

			got, err := store.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got.Messages) != 3 {
				t.Fatalf("reloaded %d messages, want 3", len(got.Messages))
			}
			if got.Messages[1].ToolCalls[0].Name != "read_file" {
				t.Error("tool call lost in round trip")
			}
			if got.Messages[2].ToolResults[0].Content != "data" {
				t.Error("tool result lost in round trip")
			}
			if len(got.Checkpoints) != 1 || got.Checkpoints[0].MessageIndex != 3 {
				t.Errorf("checkpoints = %+v, want one at index 3", got.Checkpoints)
			}
			if got.Version == 0 {
				t.Error("mutations did not bump the session version")
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "missing"); err != ErrNotFound {
				t.Errorf("Get(missing) = %v, want ErrNotFound", err)
			}
			if err := store.AppendMessage(ctx, "missing", userMsg("x")); err != ErrNotFound {
				t.Errorf("AppendMessage(missing) = %v, want ErrNotFound", err)
			}
			if err := store.Delete(ctx, "missing"); err != ErrNotFound {
				t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRollbackTruncatesAndDropsLaterCheckpoints(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			session := newSession(t, ctx, store)
			id := session.Metadata.ID

			if err := store.AppendMessage(ctx, id, userMsg("one")); err != nil {
				t.Fatal(err)
			}
			cp, err := store.CreateCheckpoint(ctx, id, "at one")
			if err != nil {
				t.Fatal(err)
			}
			if cp.MessageIndex != 1 {
				t.Fatalf("checkpoint index = %d, want 1", cp.MessageIndex)
			}

			if err := store.AppendMessage(ctx, id, userMsg("two")); err != nil {
				t.Fatal(err)
			}
			if err := store.AppendMessage(ctx, id, userMsg("three")); err != nil {
				t.Fatal(err)
			}
			if _, err := store.CreateCheckpoint(ctx, id, "at three"); err != nil {
				t.Fatal(err)
			}

			if err := store.Rollback(ctx, id, cp.ID); err != nil {
				t.Fatalf("Rollback: %v", err)
			}

			got, err := store.Get(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Messages) != 1 || got.Messages[0].Content != "one" {
				t.Errorf("after rollback messages = %d, want [one]", len(got.Messages))
			}
			if len(got.Checkpoints) != 1 || got.Checkpoints[0].ID != cp.ID {
				t.Errorf("later checkpoint survived rollback: %+v", got.Checkpoints)
			}

			if err := store.Rollback(ctx, id, "missing"); err != ErrCheckpointNotFound {
				t.Errorf("Rollback(missing) = %v, want ErrCheckpointNotFound", err)
			}
		})
	}
}

func TestReplaceMessagesSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			session := newSession(t, ctx, store)
			id := session.Metadata.ID
			for _, c := range []string{"a", "b", "c"} {
				if err := store.AppendMessage(ctx, id, userMsg(c)); err != nil {
					t.Fatal(err)
				}
			}

			summary := &models.Message{ID: "s1", Role: models.RoleAssistant, Content: "summary", CondenseID: "c1"}
			replacement := []*models.Message{summary, userMsg("c")}
			if err := store.ReplaceMessages(ctx, id, replacement); err != nil {
				t.Fatalf("ReplaceMessages: %v", err)
			}

			got, err := store.Messages(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 || got[0].CondenseID != "c1" {
				t.Errorf("replaced messages = %d, want summary first of 2", len(got))
			}

			// Appends continue after the replacement.
			if err := store.AppendMessage(ctx, id, userMsg("d")); err != nil {
				t.Fatal(err)
			}
			got, err = store.Messages(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 3 || got[2].Content != "d" {
				t.Errorf("append after replace gave %d messages", len(got))
			}
		})
	}
}

func TestBridgeIncrementalSync(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session := newSession(t, ctx, store)
	id := session.Metadata.ID

	bridge := NewBridge(store, id)

	if err := store.AppendMessage(ctx, id, userMsg("one")); err != nil {
		t.Fatal(err)
	}
	fresh, err := bridge.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0].Content != "one" {
		t.Fatalf("first sync = %d messages, want [one]", len(fresh))
	}

	fresh, err = bridge.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 0 {
		t.Fatalf("idle sync re-emitted %d messages", len(fresh))
	}

	if err := store.AppendMessage(ctx, id, userMsg("two")); err != nil {
		t.Fatal(err)
	}
	fresh, err = bridge.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0].Content != "two" {
		t.Fatalf("incremental sync = %v, want [two]", len(fresh))
	}
	if bridge.LastSyncedIndex() != 2 {
		t.Errorf("lastSyncedIndex = %d, want 2", bridge.LastSyncedIndex())
	}
}

func TestBridgeResetAfterRollback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	session := newSession(t, ctx, store)
	id := session.Metadata.ID
	bridge := NewBridge(store, id)

	cp, err := store.CreateCheckpoint(ctx, id, "empty")
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []string{"a", "b"} {
		if err := store.AppendMessage(ctx, id, userMsg(c)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := bridge.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if err := store.Rollback(ctx, id, cp.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessage(ctx, id, userMsg("fresh")); err != nil {
		t.Fatal(err)
	}

	// The shrunk log resets the bridge even without an explicit Reset.
	fresh, err := bridge.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0].Content != "fresh" {
		t.Fatalf("post-rollback sync = %d messages, want [fresh]", len(fresh))
	}
}

func TestBridgeDispose(t *testing.T) {
	store := NewMemoryStore()
	bridge := NewBridge(store, "any")
	bridge.Dispose()
	bridge.Dispose()
	if _, err := bridge.Sync(context.Background()); err != ErrDisposed {
		t.Errorf("Sync after dispose = %v, want ErrDisposed", err)
	}
	if bridge.LastSyncedIndex() != 0 {
		t.Error("dispose did not reset sync state")
	}
}
