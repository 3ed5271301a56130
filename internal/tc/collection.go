package tc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrDisconnected is returned by write-capable operations on a disconnected
// collection.
var ErrDisconnected = errors.New("team collection is disconnected")

// notificationThrottleWindow bounds user-facing remote-change messages to at
// most one per window. Bursts of filesystem events for one logical change
// would otherwise flood the log.
const notificationThrottleWindow = 2 * time.Minute

// Collection is the surface the application layer talks to. TeamCollection
// implements it fully; DisconnectedCollection answers cheap read-only
// queries from local state and fails fast on everything else.
type Collection interface {
	// PutBook shares the book folder to the repo. When checkin is true the
	// lock is released as part of the store.
	PutBook(bookFolder string, checkin bool) (BookStatus, error)

	// GetStatus returns the authoritative status of a book.
	GetStatus(bookID string) (BookStatus, error)

	// AttemptLock tries to claim the exclusive-edit lock for user on this
	// machine. Best effort: the transport has no atomic exchange, so the
	// result is determined by re-reading after the write.
	AttemptLock(bookID string, user string) (bool, error)

	// UnlockBook releases the lock on a book.
	UnlockBook(bookID string) error

	// ForceUnlock clears a lock regardless of who holds it. Dangerous to
	// the holder's unsynced edits; an admin override only.
	ForceUnlock(bookID string) error

	// IsCheckedOutHere reports whether the current user on this machine
	// may edit the book, using only locally-cached state.
	IsCheckedOutHere(bookID string) bool

	// SyncAtStartup reconciles local and repo state. Returns user-visible
	// warnings; per-book failures never abort the run.
	SyncAtStartup(progress Progress, firstTimeJoin bool) []string

	// StartMonitoring begins servicing remote-change notifications.
	StartMonitoring() error

	// StopMonitoring stops servicing notifications.
	StopMonitoring() error

	// MessageLog exposes the collection's event log.
	MessageLog() *MessageLog

	// IsDisconnected reports whether this is the degraded fallback.
	IsDisconnected() bool
}

// Progress receives step-by-step reconciliation updates for display while a
// sync runs.
type Progress interface {
	Message(msg string)
}

// NopProgress discards progress updates.
type NopProgress struct{}

func (NopProgress) Message(string) {}

// TeamCollection orchestrates one local collection folder against one repo
// transport: locking, sharing, startup reconciliation, and remote-change
// handling.
type TeamCollection struct {
	transport   RepoTransport
	localDir    string
	user        string
	machine     string
	localStatus *LocalStatusStore
	log         *MessageLog
	logger      Logger
	reporter    ErrorReporter
	clock       Clock

	mu           sync.Mutex
	monitoring   bool
	lastNotified time.Time
	throttleOff  bool
}

// NewTeamCollection wires a collection. user is the team member's email;
// machine identifies this installation.
func NewTeamCollection(transport RepoTransport, localDir, user, machine string, log *MessageLog, logger Logger, reporter ErrorReporter, clock Clock) *TeamCollection {
	return &TeamCollection{
		transport:   transport,
		localDir:    localDir,
		user:        user,
		machine:     machine,
		localStatus: NewLocalStatusStore(localDir),
		log:         log,
		logger:      logger,
		reporter:    reporter,
		clock:       clock,
	}
}

// DisableNotificationThrottle turns off the user-facing notification
// throttle. Test hook only.
func (c *TeamCollection) DisableNotificationThrottle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttleOff = true
}

// MessageLog returns the collection's event log.
func (c *TeamCollection) MessageLog() *MessageLog { return c.log }

// IsDisconnected always reports false for a live collection.
func (c *TeamCollection) IsDisconnected() bool { return false }

// User returns the current team member's identity.
func (c *TeamCollection) User() string { return c.user }

// Machine returns this installation's machine identity.
func (c *TeamCollection) Machine() string { return c.machine }

// LocalDir returns the local collection folder.
func (c *TeamCollection) LocalDir() string { return c.localDir }

// PutBook shares the book folder to the repo's live slot, refreshing the
// checksum and (on checkin) releasing the lock, then caches the resulting
// status locally.
func (c *TeamCollection) PutBook(bookFolder string, checkin bool) (BookStatus, error) {
	return c.putBook(bookFolder, checkin, false)
}

func (c *TeamCollection) putBook(bookFolder string, checkin bool, toQuarantine bool) (BookStatus, error) {
	bookID := filepath.Base(bookFolder)

	checksum, err := ComputeChecksum(bookFolder)
	if err != nil {
		return BookStatus{}, fmt.Errorf("putting book %s: %w", bookID, err)
	}

	status, err := c.GetStatus(bookID)
	if err != nil {
		return BookStatus{}, fmt.Errorf("putting book %s: %w", bookID, err)
	}
	status = status.WithChecksum(checksum)

	// A never-shared book stops being one the moment it is stored.
	if status.Lock() == LocalOnly {
		status = status.WithLockCleared()
	}
	if checkin {
		status = status.WithLockCleared()
	}

	if err := c.transport.StoreBook(bookFolder, status, toQuarantine); err != nil {
		return BookStatus{}, fmt.Errorf("putting book %s: %w", bookID, err)
	}

	if err := c.localStatus.Write(bookID, status); err != nil {
		return BookStatus{}, err
	}

	c.logger.Info("book stored", "book", bookID, "checkin", checkin, "quarantine", toQuarantine)
	return status, nil
}

// GetStatus returns the repo's status for the book. A book absent from the
// repo but present locally is a new local-only book; absent both places
// yields an empty status.
func (c *TeamCollection) GetStatus(bookID string) (BookStatus, error) {
	raw, found, err := c.transport.ReadRawStatus(bookID)
	if err != nil {
		return BookStatus{}, err
	}
	if !found {
		if c.localFolderExists(bookID) {
			return NewLocalOnlyStatus(c.machine), nil
		}
		return NewBookStatus(), nil
	}
	return StatusFromJSON(raw)
}

// IsCheckedOutHere answers from the local status cache only, so it works
// without the transport.
func (c *TeamCollection) IsCheckedOutHere(bookID string) bool {
	status, found, err := c.localStatus.Read(bookID)
	if err != nil || !found {
		return false
	}
	return status.IsCheckedOutHereBy(c.user, c.machine)
}

func (c *TeamCollection) localFolderExists(bookID string) bool {
	info, err := os.Stat(filepath.Join(c.localDir, bookID))
	return err == nil && info.IsDir()
}

// copyBookFromRepo replaces the local copy of a book with the repo's version
// and adopts the repo status as the local cache.
func (c *TeamCollection) copyBookFromRepo(bookID string) error {
	status, err := c.GetStatus(bookID)
	if err != nil {
		return err
	}
	localFolder := filepath.Join(c.localDir, bookID)
	if err := os.RemoveAll(localFolder); err != nil {
		return fmt.Errorf("removing stale local copy of %s: %w", bookID, err)
	}
	if err := c.transport.FetchBook(bookID, c.localDir); err != nil {
		return err
	}
	return c.localStatus.Write(bookID, status)
}

// handleRemoteChange services a single notification from the transport.
//
// A new book with no local folder is fetched; a new book colliding with an
// independently created local folder is not auto-resolved (a restart forces
// a fresh reconciliation, which handles the collision deterministically).
// A changed book is refreshed unless it is checked out here, in which case
// the local copy is never clobbered while the user may be editing it.
func (c *TeamCollection) handleRemoteChange(kind ChangeKind, bookID string) {
	c.logger.Debug("remote change", "kind", int(kind), "book", bookID)

	switch kind {
	case ChangeNewBook:
		if c.localFolderExists(bookID) {
			c.writeThrottled(MessageError, "TeamCollection.NeedsRestartNewBook",
				"A new book \"{0}\" arrived with the same name as one of yours. Please restart to reconcile.", bookID, "")
			return
		}
		if err := c.copyBookFromRepo(bookID); err != nil {
			c.logger.Error("fetching new remote book", "book", bookID, "err", err)
			c.log.WriteMessage(MessageError, "TeamCollection.FetchFailed",
				"Could not get the new book \"{0}\" from the Team Collection.", bookID, "")
			return
		}
		c.writeThrottled(MessageNewStuff, "TeamCollection.NewBookArrived",
			"A new book called \"{0}\" was added by a teammate.", bookID, "")

	case ChangeBookChanged:
		if c.IsCheckedOutHere(bookID) {
			// Someone changed a book we are editing. Do not touch the
			// working copy; the user must resolve via restart.
			c.log.WriteMessage(MessageClobberPending, "TeamCollection.EditedBookChangedRemotely",
				"One of your teammates changed \"{0}\", which you have checked out. Please restart to reconcile.", bookID, "")
			return
		}
		if err := c.copyBookFromRepo(bookID); err != nil {
			c.logger.Error("refreshing changed remote book", "book", bookID, "err", err)
			c.log.WriteMessage(MessageError, "TeamCollection.FetchFailed",
				"Could not get the updated book \"{0}\" from the Team Collection.", bookID, "")
			return
		}
		c.writeThrottled(MessageNewStuff, "TeamCollection.BookModifiedRemotely",
			"One of your teammates made changes to the book \"{0}\".", bookID, "")
	}
}

// writeThrottled emits a user-facing message, at most one per throttle
// window. Suppressed messages still leave a debug trace.
func (c *TeamCollection) writeThrottled(t MessageType, l10nID, template, param0, param1 string) {
	c.mu.Lock()
	now := c.clock.Now()
	if !c.throttleOff && !c.lastNotified.IsZero() && now.Sub(c.lastNotified) < notificationThrottleWindow {
		c.mu.Unlock()
		c.logger.Debug("notification throttled", "l10n", l10nID, "param0", param0)
		return
	}
	c.lastNotified = now
	c.mu.Unlock()

	if err := c.log.WriteMessage(t, l10nID, template, param0, param1); err != nil {
		c.logger.Error("writing message log", "err", err)
	}
}

// StartMonitoring subscribes this collection to the transport's change
// notifications. Idempotent and callable from any goroutine.
func (c *TeamCollection) StartMonitoring() error {
	c.mu.Lock()
	if c.monitoring {
		c.mu.Unlock()
		return nil
	}
	c.monitoring = true
	c.mu.Unlock()

	if err := c.transport.StartMonitoring(c.handleRemoteChange); err != nil {
		c.mu.Lock()
		c.monitoring = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// StopMonitoring unsubscribes from change notifications. Idempotent.
func (c *TeamCollection) StopMonitoring() error {
	c.mu.Lock()
	if !c.monitoring {
		c.mu.Unlock()
		return nil
	}
	c.monitoring = false
	c.mu.Unlock()

	return c.transport.StopMonitoring()
}

var _ Collection = (*TeamCollection)(nil)
