package snapshots

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	return store, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	target := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTakeIsIdempotentOnUnchangedTree(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "lib/util.go", "package lib\n")

	first, err := store.Take("initial")
	if err != nil {
		t.Fatal(err)
	}
	if first.FileCount != 2 {
		t.Errorf("file count = %d, want 2", first.FileCount)
	}

	second, err := store.Take("again")
	if err != nil {
		t.Fatal(err)
	}
	if second.Hash != first.Hash {
		t.Errorf("unchanged tree produced a new snapshot: %s != %s", second.Hash, first.Hash)
	}
	if second.Message != "initial" {
		t.Errorf("idempotent take should return the prior record, got message %q", second.Message)
	}
	if got := len(store.List()); got != 1 {
		t.Errorf("snapshot count = %d, want 1", got)
	}
}

func TestTakeRecordsChanges(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "a.txt", "one")

	first, err := store.Take("v1")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "a.txt", "two")
	second, err := store.Take("v2")
	if err != nil {
		t.Fatal(err)
	}
	if second.Hash == first.Hash {
		t.Fatal("modified tree reused the previous snapshot hash")
	}

	list := store.List()
	if len(list) != 2 || list[0].Message != "v2" || list[1].Message != "v1" {
		t.Fatalf("list = %+v, want newest first", list)
	}
}

func TestRestoreRewritesTree(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "keep.txt", "original")
	writeFile(t, root, "gone.txt", "present at snapshot")

	snap, err := store.Take("baseline")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "keep.txt", "mutated")
	writeFile(t, root, "extra.txt", "added later")
	if err := os.Remove(filepath.Join(root, "gone.txt")); err != nil {
		t.Fatal(err)
	}

	if err := store.Restore(snap.Hash); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(root, "keep.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("keep.txt = %q, want original content", data)
	}
	if _, err := os.Stat(filepath.Join(root, "gone.txt")); err != nil {
		t.Error("deleted file was not restored")
	}
	if _, err := os.Stat(filepath.Join(root, "extra.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Error("file added after the snapshot survived restore")
	}

	changes, err := store.Diff(snap.Hash)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("tree differs from snapshot after restore: %+v", changes)
	}
}

func TestDiffClassifiesChanges(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "modified.txt", "before")
	writeFile(t, root, "deleted.txt", "doomed")

	snap, err := store.Take("baseline")
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "modified.txt", "after")
	writeFile(t, root, "added.txt", "new")
	if err := os.Remove(filepath.Join(root, "deleted.txt")); err != nil {
		t.Fatal(err)
	}

	changes, err := store.Diff(snap.Hash)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]ChangeKind{
		"added.txt":    ChangeAdded,
		"deleted.txt":  ChangeDeleted,
		"modified.txt": ChangeModified,
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %+v, want %d entries", changes, len(want))
	}
	for _, change := range changes {
		if want[change.Path] != change.Kind {
			t.Errorf("%s classified as %s, want %s", change.Path, change.Kind, want[change.Path])
		}
	}
}

func TestDiffUnknownHash(t *testing.T) {
	store, _ := newTestStore(t)
	if _, err := store.Diff("0000000000000000000000000000000000000000000000000000000000000000"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("err = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := store.Diff("not-a-hash"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("malformed hash err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestShadowDirExcludedFromSnapshots(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "code.go", "package main\n")

	snap, err := store.Take("v1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.FileCount != 1 {
		t.Errorf("file count = %d, want 1; shadow store must not capture itself", snap.FileCount)
	}

	// Index writes inside the shadow dir must not dirty the tree.
	again, err := store.Take("v2")
	if err != nil {
		t.Fatal(err)
	}
	if again.Hash != snap.Hash {
		t.Error("shadow store bookkeeping changed the snapshot hash")
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "a.txt", "content")
	snap, err := store.Take("persisted")
	if err != nil {
		t.Fatal(err)
	}

	reopened, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	latest, err := reopened.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if latest.Hash != snap.Hash || latest.Message != "persisted" {
		t.Fatalf("reopened latest = %+v, want %+v", latest, snap)
	}
}

func TestPollStatusCachesWithinWindow(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "a.txt", "content")
	if _, err := store.Take("baseline"); err != nil {
		t.Fatal(err)
	}

	first, err := store.PollStatus()
	if err != nil {
		t.Fatal(err)
	}
	if !first.Clean {
		t.Fatalf("status = %+v, want clean", first)
	}

	second, err := store.PollStatus()
	if err != nil {
		t.Fatal(err)
	}
	if !second.PolledAt.Equal(first.PolledAt) {
		t.Error("second poll inside the window recomputed instead of using the cache")
	}
}

func TestPollStatusWithoutSnapshots(t *testing.T) {
	store, _ := newTestStore(t)
	status, err := store.PollStatus()
	if err != nil {
		t.Fatal(err)
	}
	if status.Clean {
		t.Error("tree without a baseline must not report clean")
	}
}

func TestPollStatusSeesDirtyFlag(t *testing.T) {
	store, root := newTestStore(t)
	writeFile(t, root, "a.txt", "content")
	if _, err := store.Take("baseline"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.PollStatus(); err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "a.txt", "changed")
	// Simulate the watcher noticing the write.
	store.dirty.Store(true)

	status, err := store.PollStatus()
	if err != nil {
		t.Fatal(err)
	}
	if status.Clean {
		t.Error("dirty flag should force a fresh diff inside the poll window")
	}
	if len(status.Changes) != 1 || status.Changes[0].Kind != ChangeModified {
		t.Errorf("changes = %+v, want one modification", status.Changes)
	}
}
