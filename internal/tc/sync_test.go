package tc_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tc-go/internal/tc"
	"tc-go/internal/testutil"
)

func TestSyncAtStartup_FirstTimeJoin(t *testing.T) {
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	testutil.WriteBook(t, env.LocalDir, "moon", "my moon book")
	testutil.WriteBook(t, env.LocalDir, "sun", "my sun book")

	warnings := env.Collection.SyncAtStartup(nil, true)
	if len(warnings) != 0 {
		t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
	}

	books, err := env.Transport.ListBooks()
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 {
		t.Errorf("ListBooks() = %v, want both local books shared", books)
	}
	for _, id := range []string{"moon", "sun"} {
		status, err := env.Collection.GetStatus(id)
		if err != nil {
			t.Fatalf("GetStatus(%s) error = %v", id, err)
		}
		if status.Lock() != tc.Unlocked {
			t.Errorf("%s shared with Lock() = %v, want Unlocked", id, status.Lock())
		}
	}
}

func TestSyncAtStartup_FetchesMissingBooks(t *testing.T) {
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	testutil.StoreRemoteBook(t, env.Transport, "moon", "shared moon")

	warnings := env.Collection.SyncAtStartup(nil, false)
	if len(warnings) != 0 {
		t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
	}
	if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "shared moon" {
		t.Errorf("fetched content = %q", got)
	}
}

func TestSyncAtStartup_DeletedRemotely(t *testing.T) {
	t.Run("removes a synced book deleted from the repo", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		folder := testutil.WriteBook(t, env.LocalDir, "moon", "content")
		if _, err := env.Collection.PutBook(folder, true); err != nil {
			t.Fatal(err)
		}
		env.Transport.DeleteBook("moon")

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 0 {
			t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
		}
		if _, err := os.Stat(folder); !os.IsNotExist(err) {
			t.Error("deleted book still present locally")
		}
	})

	t.Run("keeps a deleted book that is checked out here", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		folder := testutil.WriteBook(t, env.LocalDir, "moon", "my edits")
		if _, err := env.Collection.PutBook(folder, true); err != nil {
			t.Fatal(err)
		}
		if _, err := env.Collection.AttemptLock("moon", ""); err != nil {
			t.Fatal(err)
		}
		env.Transport.DeleteBook("moon")

		env.Collection.SyncAtStartup(nil, false)
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "my edits" {
			t.Errorf("checked-out book was removed; content = %q", got)
		}
	})

	t.Run("leaves a brand-new unshared book alone", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		testutil.WriteBook(t, env.LocalDir, "draft", "unshared")

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 0 {
			t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "draft"); got != "unshared" {
			t.Errorf("unshared book disturbed; content = %q", got)
		}
		if _, found, _ := env.Transport.ReadRawStatus("draft"); found {
			t.Error("unshared book was pushed outside a first-time join")
		}
	})
}

func TestSyncAtStartup_RefreshesChangedBooks(t *testing.T) {
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	folder := testutil.WriteBook(t, env.LocalDir, "moon", "old version")
	if _, err := env.Collection.PutBook(folder, true); err != nil {
		t.Fatal(err)
	}

	// A teammate publishes a new version.
	testutil.StoreRemoteBook(t, env.Transport, "moon", "new version")

	warnings := env.Collection.SyncAtStartup(nil, false)
	if len(warnings) != 0 {
		t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
	}
	if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "new version" {
		t.Errorf("local content = %q, want the repo version", got)
	}
}

func TestSyncAtStartup_Idempotent(t *testing.T) {
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	testutil.WriteBook(t, env.LocalDir, "moon", "content")
	testutil.StoreRemoteBook(t, env.Transport, "sun", "remote book")

	first := env.Collection.SyncAtStartup(nil, true)
	if len(first) != 0 {
		t.Fatalf("first sync warnings = %v", first)
	}
	second := env.Collection.SyncAtStartup(nil, false)
	if len(second) != 0 {
		t.Fatalf("second sync warnings = %v", second)
	}

	if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "content" {
		t.Errorf("moon content = %q after repeated sync", got)
	}
	if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "sun"); got != "remote book" {
		t.Errorf("sun content = %q after repeated sync", got)
	}
	if names := env.Transport.QuarantineNames(); len(names) != 0 {
		t.Errorf("repeated sync quarantined books: %v", names)
	}
}

func TestSyncAtStartup_CheckoutConflicts(t *testing.T) {
	// Sets up a book checked out here, then rewrites the repo status (and
	// optionally content) as a conflicting installation would.
	setup := func(t *testing.T) (*testutil.TestCollection, string) {
		t.Helper()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		folder := testutil.WriteBook(t, env.LocalDir, "moon", "synced content")
		if _, err := env.Collection.PutBook(folder, true); err != nil {
			t.Fatal(err)
		}
		if _, err := env.Collection.AttemptLock("moon", ""); err != nil {
			t.Fatal(err)
		}
		return env, folder
	}

	overrideRepoStatus := func(t *testing.T, env *testutil.TestCollection, status tc.BookStatus) {
		t.Helper()
		raw, realErr := status.ToJSON()
		if realErr != nil {
			t.Fatal(realErr)
		}
		if err := env.Transport.WriteRawStatus("moon", raw); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("re-asserts a lock the repo lost", func(t *testing.T) {
		t.Parallel()
		env, _ := setup(t)

		// Same content, but the repo shows the book unlocked: someone began
		// and abandoned a checkout attempt.
		repoStatus, err := env.Collection.GetStatus("moon")
		if err != nil {
			t.Fatal(err)
		}
		overrideRepoStatus(t, env, repoStatus.WithLockCleared())

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 0 {
			t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
		}

		final, err := env.Collection.GetStatus("moon")
		if err != nil {
			t.Fatal(err)
		}
		if !final.IsCheckedOutHereBy("fred@example.com", "laptop") {
			t.Error("lost lock was not re-asserted")
		}
	})

	t.Run("remote lock wins when content is unedited", func(t *testing.T) {
		t.Parallel()
		env, _ := setup(t)

		repoStatus, err := env.Collection.GetStatus("moon")
		if err != nil {
			t.Fatal(err)
		}
		overrideRepoStatus(t, env, repoStatus.WithLockedBy("sue@example.com", "desktop", time.Now()))

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 0 {
			t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
		}
		if env.Collection.IsCheckedOutHere("moon") {
			t.Error("local cache still believes the book is checked out here")
		}
		if names := env.Transport.QuarantineNames(); len(names) != 0 {
			t.Errorf("unedited book was quarantined: %v", names)
		}
	})

	t.Run("remote lock wins and local edits go to lost and found", func(t *testing.T) {
		t.Parallel()
		env, folder := setup(t)

		repoStatus, err := env.Collection.GetStatus("moon")
		if err != nil {
			t.Fatal(err)
		}
		overrideRepoStatus(t, env, repoStatus.WithLockedBy("sue@example.com", "desktop", time.Now()))

		// Local edits after the last sync.
		if err := os.WriteFile(filepath.Join(folder, "moon.htm"), []byte("my unsynced edits"), 0644); err != nil {
			t.Fatal(err)
		}

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 1 {
			t.Fatalf("SyncAtStartup() warnings = %v, want exactly one", warnings)
		}
		if names := env.Transport.QuarantineNames(); len(names) != 1 || names[0] != "moon" {
			t.Errorf("QuarantineNames() = %v, want [moon]", names)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "synced content" {
			t.Errorf("local content = %q, want the repo version restored", got)
		}
		if got := env.Log.Status(); got != tc.StatusError {
			t.Errorf("Status() = %v, want Error", got)
		}
	})

	t.Run("changed repo content wins and local edits go to lost and found", func(t *testing.T) {
		t.Parallel()
		env, folder := setup(t)

		// A teammate force-took the book and published different content.
		testutil.StoreRemoteBook(t, env.Transport, "moon", "their new content")

		if err := os.WriteFile(filepath.Join(folder, "moon.htm"), []byte("my unsynced edits"), 0644); err != nil {
			t.Fatal(err)
		}

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 1 {
			t.Fatalf("SyncAtStartup() warnings = %v, want exactly one", warnings)
		}
		if names := env.Transport.QuarantineNames(); len(names) != 1 {
			t.Errorf("QuarantineNames() = %v, want one entry", names)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "their new content" {
			t.Errorf("local content = %q, want the repo version", got)
		}
	})

	t.Run("changed repo content with unedited local copy refreshes quietly", func(t *testing.T) {
		t.Parallel()
		env, _ := setup(t)

		testutil.StoreRemoteBook(t, env.Transport, "moon", "their new content")

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 0 {
			t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "their new content" {
			t.Errorf("local content = %q, want the repo version", got)
		}
		if names := env.Transport.QuarantineNames(); len(names) != 0 {
			t.Errorf("unedited book was quarantined: %v", names)
		}
	})
}

func TestSyncAtStartup_NameCollision(t *testing.T) {
	t.Run("identical content adopts the repo status", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		testutil.WriteBook(t, env.LocalDir, "moon", "same content")
		testutil.StoreRemoteBook(t, env.Transport, "moon", "same content")

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 0 {
			t.Fatalf("SyncAtStartup() warnings = %v, want none", warnings)
		}
		status, found, err := tc.NewLocalStatusStore(env.LocalDir).Read("moon")
		if err != nil || !found {
			t.Fatalf("local status after adoption: found=%v err=%v", found, err)
		}
		if status.Checksum == "" {
			t.Error("adopted status has no checksum")
		}
	})

	t.Run("different book under the same name is renamed", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		testutil.WriteBook(t, env.LocalDir, "moon", "my independent moon")
		testutil.StoreRemoteBook(t, env.Transport, "moon", "the team's moon")

		warnings := env.Collection.SyncAtStartup(nil, false)
		if len(warnings) != 1 {
			t.Fatalf("SyncAtStartup() warnings = %v, want exactly one", warnings)
		}

		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "the team's moon" {
			t.Errorf("moon content = %q, want the repo version", got)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon2"); got != "my independent moon" {
			t.Errorf("moon2 content = %q, want the renamed local version", got)
		}
	})

	t.Run("rename probes past occupied slots", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		testutil.WriteBook(t, env.LocalDir, "moon", "my independent moon")
		testutil.WriteBook(t, env.LocalDir, "moon2", "already here")
		// moon2 must survive the repo-book loop untouched; share it so its
		// checksum matches the repo.
		if _, err := env.Collection.PutBook(filepath.Join(env.LocalDir, "moon2"), true); err != nil {
			t.Fatal(err)
		}
		testutil.StoreRemoteBook(t, env.Transport, "moon", "the team's moon")

		env.Collection.SyncAtStartup(nil, false)

		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon3"); got != "my independent moon" {
			t.Errorf("moon3 content = %q, want the renamed local version", got)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon2"); got != "already here" {
			t.Errorf("moon2 content = %q, occupied slot was disturbed", got)
		}
	})

	t.Run("first-time join sends the local conflict to lost and found", func(t *testing.T) {
		t.Parallel()
		env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
		testutil.WriteBook(t, env.LocalDir, "moon", "my independent moon")
		testutil.StoreRemoteBook(t, env.Transport, "moon", "the team's moon")

		warnings := env.Collection.SyncAtStartup(nil, true)
		if len(warnings) != 1 {
			t.Fatalf("SyncAtStartup() warnings = %v, want exactly one", warnings)
		}
		if names := env.Transport.QuarantineNames(); len(names) != 1 || names[0] != "moon" {
			t.Errorf("QuarantineNames() = %v, want [moon]", names)
		}
		if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "moon"); got != "the team's moon" {
			t.Errorf("moon content = %q, want the repo version", got)
		}
	})
}

func TestSyncAtStartup_QuarantineSlots(t *testing.T) {
	// Two conflicting syncs of the same book occupy distinct quarantine
	// slots; nothing in Lost and Found is ever overwritten.
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	testutil.WriteBook(t, env.LocalDir, "moon", "first conflict")
	testutil.StoreRemoteBook(t, env.Transport, "moon", "the team's moon")

	env.Collection.SyncAtStartup(nil, true)

	// A second independent conflict on the same name.
	if err := os.RemoveAll(filepath.Join(env.LocalDir, "moon")); err != nil {
		t.Fatal(err)
	}
	testutil.WriteBook(t, env.LocalDir, "moon", "second conflict")
	env.Collection.SyncAtStartup(nil, true)

	names := env.Transport.QuarantineNames()
	if len(names) != 2 {
		t.Fatalf("QuarantineNames() = %v, want two distinct slots", names)
	}
	if names[0] == names[1] {
		t.Errorf("quarantine slots collide: %v", names)
	}
}

func TestSyncAtStartup_WritesReloadMilestone(t *testing.T) {
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	env.Log.WriteMessage(tc.MessageError, "Test.Err", "stale error", "moon", "")

	env.Collection.SyncAtStartup(nil, false)

	if got := env.Log.Status(); got != tc.StatusNominal {
		t.Errorf("Status() after sync = %v, want Nominal (stale state reset)", got)
	}
}

func TestSyncAtStartup_IsolatesPerBookFailures(t *testing.T) {
	// One unreadable book must not stop the rest from syncing.
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	folder := testutil.WriteBook(t, env.LocalDir, "bad", "content")
	if _, err := env.Collection.PutBook(folder, true); err != nil {
		t.Fatal(err)
	}
	// Gut the local folder: no primary document means the checksum needed
	// for collision handling cannot be computed.
	if err := os.Remove(filepath.Join(folder, "bad.htm")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(folder, tc.LocalStatusFileName)); err != nil {
		t.Fatal(err)
	}
	testutil.StoreRemoteBook(t, env.Transport, "good", "fine book")

	warnings := env.Collection.SyncAtStartup(nil, false)
	if len(warnings) == 0 {
		t.Fatal("expected a warning for the broken book")
	}
	if got := testutil.ReadPrimaryDoc(t, env.LocalDir, "good"); got != "fine book" {
		t.Errorf("good book not synced after a bad one: %q", got)
	}
}

func TestSyncAtStartup_ProgressMessages(t *testing.T) {
	t.Parallel()
	env := testutil.NewTestCollection(t, "fred@example.com", "laptop")
	testutil.StoreRemoteBook(t, env.Transport, "moon", "shared moon")

	var progress progressRecorder
	env.Collection.SyncAtStartup(&progress, false)

	if len(progress.messages) == 0 {
		t.Error("no progress messages for a fetch")
	}
}

type progressRecorder struct {
	messages []string
}

func (p *progressRecorder) Message(msg string) { p.messages = append(p.messages, msg) }
