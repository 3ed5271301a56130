package tc

import (
	"errors"
	"fmt"
)

// ErrBookAbsent is returned by transport operations that require the book to
// already exist in the repo.
var ErrBookAbsent = errors.New("book absent from repo")

// TransportError wraps a backend failure with the operation and path that
// produced it.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChangeKind identifies the kind of remote change a monitoring transport
// observed.
type ChangeKind int

const (
	// ChangeNewBook means a book appeared in the repo that the transport
	// had not seen before.
	ChangeNewBook ChangeKind = iota
	// ChangeBookChanged means an existing book's stored artifact changed.
	ChangeBookChanged
)

// ChangeHandler receives remote-change notifications. Handlers are invoked
// on the transport's monitoring goroutine and must not block for long.
// Events may be duplicated or coalesced; correctness must not depend on
// seeing exactly one event per logical change.
type ChangeHandler func(kind ChangeKind, bookID string)

// RepoTransport is the abstract storage backend a Team Collection
// synchronizes against. The shared-folder transport is the only concrete
// implementation today; the interface exists so a DVCS-backed transport can
// plug in without touching the orchestrator.
type RepoTransport interface {
	// ListBooks returns a snapshot of book IDs present in the repo.
	// Callers must tolerate staleness: a listed book may vanish before it
	// is fetched.
	ListBooks() ([]string, error)

	// FetchBook unpacks the repo's stored artifact for bookID into
	// destDir/bookID, replacing any existing contents there.
	FetchBook(bookID string, destDir string) error

	// StoreBook packs the book folder at sourceFolder into a single
	// artifact and writes it to the repo under the folder's name, with the
	// status recorded as the artifact's status blob. When toQuarantine is
	// true the artifact goes to the lost-and-found area under a slot name
	// that never overwrites an existing quarantined item; otherwise the
	// live slot is overwritten unconditionally.
	StoreBook(sourceFolder string, status BookStatus, toQuarantine bool) error

	// ReadRawStatus returns the raw status blob for a book. found is false
	// when the book is absent from the repo.
	ReadRawStatus(bookID string) (raw string, found bool, err error)

	// WriteRawStatus replaces the status blob of an existing book.
	// Returns ErrBookAbsent (wrapped) if the book is not in the repo.
	WriteRawStatus(bookID string, raw string) error

	// PutCollectionFile copies a local file into the repo's shared
	// collection-file area under its base name.
	PutCollectionFile(localPath string) error

	// FetchCollectionFile copies the named shared file into destDir.
	FetchCollectionFile(name string, destDir string) error

	// ListCollectionFiles returns the names of shared collection files.
	ListCollectionFiles() ([]string, error)

	// StartMonitoring begins watching the repo for changes, delivering
	// them to handler. Idempotent; a second call replaces nothing and
	// returns nil. While monitoring, the transport must not report its
	// own writes.
	StartMonitoring(handler ChangeHandler) error

	// StopMonitoring stops watching. Idempotent.
	StopMonitoring() error

	// ValidateSetup verifies the repo is reachable and structurally sound.
	ValidateSetup() error
}
