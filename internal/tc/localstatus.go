package tc

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalStatusFileName is the fixed name of the cached status file inside
// each local book folder. It is never included in the shared artifact.
const LocalStatusFileName = "book.status"

// LocalStatusStore reads and writes the cached per-book status files in the
// local (unshared) collection folder. The cache lets divergence checks run
// without touching the transport.
type LocalStatusStore struct {
	collectionDir string
}

// NewLocalStatusStore creates a store rooted at the local collection folder.
func NewLocalStatusStore(collectionDir string) *LocalStatusStore {
	return &LocalStatusStore{collectionDir: collectionDir}
}

// Path returns the status file path for a book.
func (ls *LocalStatusStore) Path(bookID string) string {
	return filepath.Join(ls.collectionDir, bookID, LocalStatusFileName)
}

// Exists reports whether a cached status file exists for the book.
func (ls *LocalStatusStore) Exists(bookID string) bool {
	_, err := os.Stat(ls.Path(bookID))
	return err == nil
}

// Read returns the cached status for a book. found is false when no status
// file exists (the book was never shared from this machine).
func (ls *LocalStatusStore) Read(bookID string) (status BookStatus, found bool, err error) {
	data, err := os.ReadFile(ls.Path(bookID))
	if err != nil {
		if os.IsNotExist(err) {
			return BookStatus{}, false, nil
		}
		return BookStatus{}, false, fmt.Errorf("reading local status for %s: %w", bookID, err)
	}
	status, err = StatusFromJSON(string(data))
	if err != nil {
		return BookStatus{}, false, fmt.Errorf("parsing local status for %s: %w", bookID, err)
	}
	return status, true, nil
}

// Write persists the status for a book. The book folder must exist.
func (ls *LocalStatusStore) Write(bookID string, status BookStatus) error {
	raw, err := status.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(ls.Path(bookID), []byte(raw), 0644); err != nil {
		return fmt.Errorf("writing local status for %s: %w", bookID, err)
	}
	return nil
}

// Delete removes the cached status file, if any.
func (ls *LocalStatusStore) Delete(bookID string) error {
	err := os.Remove(ls.Path(bookID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting local status for %s: %w", bookID, err)
	}
	return nil
}
