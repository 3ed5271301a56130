package tc_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tc-go/internal/tc"
	"tc-go/internal/testutil"
)

func TestDisconnectedCollection(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	clock := testutil.FixedClock()
	log, err := tc.NewMessageLog(filepath.Join(localDir, "messages.log"), clock)
	if err != nil {
		t.Fatal(err)
	}

	// A book checked out here before the repo became unreachable.
	testutil.WriteBook(t, localDir, "moon", "content")
	store := tc.NewLocalStatusStore(localDir)
	held := tc.NewBookStatus().WithChecksum("abc").WithLockedBy("fred@example.com", "laptop", time.Now())
	if err := store.Write("moon", held); err != nil {
		t.Fatal(err)
	}

	d := tc.NewDisconnectedCollection(localDir, "fred@example.com", "laptop", log)

	t.Run("reports disconnected", func(t *testing.T) {
		if !d.IsDisconnected() {
			t.Error("IsDisconnected() = false")
		}
	})

	t.Run("answers checkout queries from the local cache", func(t *testing.T) {
		if !d.IsCheckedOutHere("moon") {
			t.Error("IsCheckedOutHere(moon) = false, want cached checkout honored")
		}
		if d.IsCheckedOutHere("unknown") {
			t.Error("IsCheckedOutHere(unknown) = true")
		}

		status, err := d.GetStatus("moon")
		if err != nil {
			t.Fatalf("GetStatus() error = %v", err)
		}
		if status != held {
			t.Errorf("GetStatus() = %+v, want cached status", status)
		}
	})

	t.Run("write operations fail fast", func(t *testing.T) {
		if _, err := d.PutBook("anything", true); !errors.Is(err, tc.ErrDisconnected) {
			t.Errorf("PutBook() error = %v, want ErrDisconnected", err)
		}
		if _, err := d.AttemptLock("moon", ""); !errors.Is(err, tc.ErrDisconnected) {
			t.Errorf("AttemptLock() error = %v, want ErrDisconnected", err)
		}
		if err := d.UnlockBook("moon"); !errors.Is(err, tc.ErrDisconnected) {
			t.Errorf("UnlockBook() error = %v, want ErrDisconnected", err)
		}
	})

	t.Run("sync reports a single warning", func(t *testing.T) {
		warnings := d.SyncAtStartup(nil, false)
		if len(warnings) != 1 {
			t.Errorf("SyncAtStartup() warnings = %v, want exactly one", warnings)
		}
	})
}
