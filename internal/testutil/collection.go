package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"tc-go/internal/tc"
	"tc-go/internal/transport"
)

// TestCollection bundles everything a collection test needs to inspect.
type TestCollection struct {
	Collection *tc.TeamCollection
	Transport  *transport.MemoryTransport
	LocalDir   string
	Clock      *StubClock
	Log        *tc.MessageLog
}

// NewTestCollection wires a TeamCollection over an in-memory repo, a temp
// local folder, and a stub clock. The notification throttle is disabled so
// tests can observe every message.
func NewTestCollection(t *testing.T, user, machine string) *TestCollection {
	t.Helper()

	localDir := t.TempDir()
	clock := FixedClock()
	repo := transport.NewMemoryTransport()

	log, err := tc.NewMessageLog(filepath.Join(localDir, ".tc", "messages.log"), clock)
	if err != nil {
		t.Fatalf("NewMessageLog() error = %v", err)
	}

	collection := tc.NewTeamCollection(repo, localDir, user, machine, log, tc.NewNopLogger(), tc.NopErrorReporter{}, clock)
	collection.DisableNotificationThrottle()

	return &TestCollection{
		Collection: collection,
		Transport:  repo,
		LocalDir:   localDir,
		Clock:      clock,
		Log:        log,
	}
}

// WriteBook creates a book folder under dir containing a primary document
// with the given content, and returns the folder path.
func WriteBook(t *testing.T, dir, bookID, content string) string {
	t.Helper()
	folder := filepath.Join(dir, bookID)
	if err := os.MkdirAll(folder, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(folder, bookID+".htm"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return folder
}

// StoreRemoteBook stores a checked-in book in the repo as a teammate's share
// would: unlocked, with a checksum matching its content.
func StoreRemoteBook(t *testing.T, repo *transport.MemoryTransport, bookID, content string) {
	t.Helper()
	folder := WriteBook(t, t.TempDir(), bookID, content)
	sum, err := tc.ComputeChecksum(folder)
	if err != nil {
		t.Fatalf("ComputeChecksum() error = %v", err)
	}
	if err := repo.StoreBook(folder, tc.NewBookStatus().WithChecksum(sum), false); err != nil {
		t.Fatalf("StoreBook() error = %v", err)
	}
}

// ReadPrimaryDoc returns the content of the book's primary document.
func ReadPrimaryDoc(t *testing.T, dir, bookID string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, bookID, bookID+".htm"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}
