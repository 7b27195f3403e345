package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDocumentLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		users := Path("users")

		id, err := store.Create(ctx, users, []byte(`{"displayName":"asha","isPremium":false}`))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id == "" || strings.Contains(id, "/") {
			t.Fatalf("unexpected id %q", id)
		}

		doc, err := store.Get(ctx, users.Child(id))
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var got struct {
			DisplayName string `json:"displayName"`
			IsPremium   bool   `json:"isPremium"`
			Bio         string `json:"bio"`
		}
		if err := doc.Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.DisplayName != "asha" || got.IsPremium {
			t.Fatalf("unexpected doc: %+v", got)
		}

		if err := store.Set(ctx, users.Child(id), []byte(`{"bio":"hi"}`), SetOptions{Merge: true}); err != nil {
			t.Fatalf("Set merge: %v", err)
		}
		doc, _ = store.Get(ctx, users.Child(id))
		_ = doc.Decode(&got)
		if got.DisplayName != "asha" || got.Bio != "hi" {
			t.Fatalf("merge lost fields: %+v", got)
		}

		if err := store.Set(ctx, users.Child(id), []byte(`{"bio":"only"}`), SetOptions{}); err != nil {
			t.Fatalf("Set replace: %v", err)
		}
		doc, _ = store.Get(ctx, users.Child(id))
		got.DisplayName = ""
		_ = doc.Decode(&got)
		if got.DisplayName != "" || got.Bio != "only" {
			t.Fatalf("replace kept old fields: %+v", got)
		}

		if err := store.Delete(ctx, users.Child(id)); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := store.Delete(ctx, users.Child(id)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second Delete: expected ErrNotFound, got %v", err)
		}
		if _, err := store.Get(ctx, users.Child(id)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get after delete: expected ErrNotFound, got %v", err)
		}
	})
}

func TestRejectsInvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		if _, err := store.Create(ctx, Path("users/abc"), []byte(`{}`)); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Create on document path: expected ErrInvalidPath, got %v", err)
		}
		if _, err := store.Create(ctx, Path("users"), []byte(`[1,2]`)); !errors.Is(err, ErrInvalidDocument) {
			t.Fatalf("Create with array: expected ErrInvalidDocument, got %v", err)
		}
		if err := store.Set(ctx, Path("users//x"), []byte(`{}`), SetOptions{}); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Set on empty segment: expected ErrInvalidPath, got %v", err)
		}
	})
}

func TestUpdateIsConditional(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		path := Path("counters").Child("c1")

		written, err := store.Update(ctx, path, func(_ Document, exists bool) ([]byte, error) {
			if exists {
				return nil, nil
			}
			return []byte(`{"n":0}`), nil
		})
		if err != nil || !written {
			t.Fatalf("Update create: written=%v err=%v", written, err)
		}
		written, err = store.Update(ctx, path, func(_ Document, exists bool) ([]byte, error) {
			if exists {
				return nil, nil
			}
			return []byte(`{"n":100}`), nil
		})
		if err != nil || written {
			t.Fatalf("Update keep: written=%v err=%v", written, err)
		}

		const workers = 16
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, path, func(current Document, _ bool) ([]byte, error) {
					var c struct{ N int }
					if err := current.Decode(&c); err != nil {
						return nil, err
					}
					return []byte(fmt.Sprintf(`{"n":%d}`, c.N+1)), nil
				})
				if err != nil {
					t.Errorf("Update increment: %v", err)
				}
			}()
		}
		wg.Wait()

		doc, err := store.Get(ctx, path)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		var c struct{ N int }
		_ = doc.Decode(&c)
		if c.N != workers {
			t.Fatalf("expected %d increments, got %d", workers, c.N)
		}

		boom := errors.New("boom")
		if _, err := store.Update(ctx, path, func(Document, bool) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("expected mutation error, got %v", err)
		}
	})
}

func TestQueryFiltersAndOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx := context.Background()
		messages := Join("private_rooms", "r1", "messages")
		for i, name := range []string{"alice", "bob", "alina"} {
			payload, _ := json.Marshal(map[string]any{
				"senderName": name,
				"timestamp":  1000 + i,
				"viewedBy":   []string{name + "-viewer"},
			})
			if _, err := store.Create(ctx, messages, payload); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		docs, err := store.Query(ctx, messages, Query{OrderBy: "timestamp", Descending: true})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if names := senderNames(t, docs); strings.Join(names, ",") != "alina,bob,alice" {
			t.Fatalf("unexpected order: %v", names)
		}

		docs, _ = store.Query(ctx, messages, Query{
			Filters: []Filter{{Field: "senderName", Op: OpPrefix, Value: "ali"}},
			OrderBy: "timestamp",
		})
		if names := senderNames(t, docs); strings.Join(names, ",") != "alice,alina" {
			t.Fatalf("unexpected prefix match: %v", names)
		}

		docs, _ = store.Query(ctx, messages, Query{Filters: []Filter{{Field: "timestamp", Op: OpEqual, Value: 1001}}})
		if names := senderNames(t, docs); strings.Join(names, ",") != "bob" {
			t.Fatalf("unexpected equality match: %v", names)
		}

		docs, _ = store.Query(ctx, messages, Query{Filters: []Filter{{Field: "viewedBy", Op: OpContains, Value: "alice-viewer"}}})
		if names := senderNames(t, docs); strings.Join(names, ",") != "alice" {
			t.Fatalf("unexpected contains match: %v", names)
		}

		docs, _ = store.Query(ctx, messages, Query{OrderBy: "timestamp", Limit: 2})
		if len(docs) != 2 {
			t.Fatalf("expected limit 2, got %d", len(docs))
		}

		docs, _ = store.Query(ctx, Join("private_rooms", "r2", "messages"), Query{})
		if len(docs) != 0 {
			t.Fatalf("expected empty collection, got %d", len(docs))
		}
	})
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		messages := Join("public_rooms", "main", "messages")

		snapshots := make(chan Snapshot, 16)
		unsubscribe, err := store.Subscribe(ctx, messages, Query{OrderBy: "timestamp", Descending: true}, func(s Snapshot) {
			snapshots <- s
		})
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		defer unsubscribe()

		if snap := nextSnapshot(t, snapshots); len(snap.Documents) != 0 {
			t.Fatalf("expected empty initial snapshot, got %d docs", len(snap.Documents))
		}

		id, err := store.Create(ctx, messages, []byte(`{"timestamp":1}`))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		waitForSnapshot(t, snapshots, func(s Snapshot) bool { return len(s.Documents) == 1 })

		// Writes elsewhere do not wake the subscription.
		if _, err := store.Create(ctx, Join("private_rooms", "r1", "messages"), []byte(`{"timestamp":2}`)); err != nil {
			t.Fatalf("Create other: %v", err)
		}

		if err := store.Delete(ctx, messages.Child(id)); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		waitForSnapshot(t, snapshots, func(s Snapshot) bool { return len(s.Documents) == 0 })

		unsubscribe()
		if _, err := store.Create(ctx, messages, []byte(`{"timestamp":3}`)); err != nil {
			t.Fatalf("Create after unsubscribe: %v", err)
		}
		select {
		case snap := <-snapshots:
			if len(snap.Documents) != 0 {
				t.Fatalf("unexpected snapshot after unsubscribe: %+v", snap)
			}
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestSubscribeDocument(t *testing.T) {
	forEachStore(t, func(t *testing.T, store DocumentStore) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		path := Path("users").Child("u1")

		snapshots := make(chan Snapshot, 16)
		if _, err := store.Subscribe(ctx, path, Query{}, func(s Snapshot) { snapshots <- s }); err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		if snap := nextSnapshot(t, snapshots); len(snap.Documents) != 0 {
			t.Fatalf("expected missing document, got %+v", snap)
		}
		if err := store.Set(ctx, path, []byte(`{"displayName":"asha"}`), SetOptions{Merge: true}); err != nil {
			t.Fatalf("Set: %v", err)
		}
		waitForSnapshot(t, snapshots, func(s Snapshot) bool {
			return len(s.Documents) == 1 && strings.Contains(string(s.Documents[0].Data), "asha")
		})
	})
}

func TestPathHelpers(t *testing.T) {
	doc := Join("private_rooms", "r1", "messages", "m1")
	if !doc.IsDocument() || doc.IsCollection() {
		t.Fatalf("expected %s to be a document path", doc)
	}
	if doc.ID() != "m1" {
		t.Fatalf("unexpected id %q", doc.ID())
	}
	if doc.Parent() != Path("private_rooms/r1/messages") {
		t.Fatalf("unexpected parent %q", doc.Parent())
	}
	if !doc.Parent().IsCollection() {
		t.Fatalf("expected parent to be a collection")
	}
	if Path("").IsCollection() || Path("a//b").IsDocument() {
		t.Fatalf("expected malformed paths to be rejected")
	}
}

func TestBuildDSN(t *testing.T) {
	cases := map[string]string{
		"chat.db":                     "file:chat.db?",
		"sqlite://file:x?mode=memory": "file:x?mode=memory&",
		"file:/tmp/flash.db":          "file:/tmp/flash.db?",
		":memory:":                    ":memory:?",
	}
	for in, prefix := range cases {
		if got := buildDSN(in); !strings.HasPrefix(got, prefix) {
			t.Fatalf("buildDSN(%q) = %q, want prefix %q", in, got, prefix)
		}
	}
}

func forEachStore(t *testing.T, run func(t *testing.T, store DocumentStore)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		store := NewMemoryStore()
		t.Cleanup(func() { _ = store.Close() })
		run(t, store)
	})
	t.Run("sqlite", func(t *testing.T) {
		run(t, newTestStore(t))
	})
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := NewSQLiteStore("sqlite://file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func senderNames(t *testing.T, docs []Document) []string {
	t.Helper()
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		var m struct {
			SenderName string `json:"senderName"`
		}
		if err := doc.Decode(&m); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		names = append(names, m.SenderName)
	}
	return names
}

func nextSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		if snap.Err != nil {
			t.Fatalf("snapshot error: %v", snap.Err)
		}
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func waitForSnapshot(t *testing.T, ch <-chan Snapshot, match func(Snapshot) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Err != nil {
				t.Fatalf("snapshot error: %v", snap.Err)
			}
			if match(snap) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
		}
	}
}
