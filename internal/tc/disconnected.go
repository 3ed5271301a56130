package tc

// DisconnectedCollection stands in for a TeamCollection whose repo cannot be
// reached (settings unparseable, repo folder gone). It answers cheap
// read-only queries from locally-cached state and fails fast on anything
// that would need the transport. A designed fallback, not an error path:
// callers check IsDisconnected rather than expecting failures.
type DisconnectedCollection struct {
	localStatus *LocalStatusStore
	user        string
	machine     string
	log         *MessageLog
}

// NewDisconnectedCollection creates the degraded fallback for a local
// collection folder.
func NewDisconnectedCollection(localDir, user, machine string, log *MessageLog) *DisconnectedCollection {
	return &DisconnectedCollection{
		localStatus: NewLocalStatusStore(localDir),
		user:        user,
		machine:     machine,
		log:         log,
	}
}

func (d *DisconnectedCollection) PutBook(string, bool) (BookStatus, error) {
	return BookStatus{}, ErrDisconnected
}

// GetStatus answers from the local cache; a book with no cached status
// reports an empty status rather than an error.
func (d *DisconnectedCollection) GetStatus(bookID string) (BookStatus, error) {
	status, found, err := d.localStatus.Read(bookID)
	if err != nil {
		return BookStatus{}, err
	}
	if !found {
		return NewBookStatus(), nil
	}
	return status, nil
}

func (d *DisconnectedCollection) AttemptLock(string, string) (bool, error) {
	return false, ErrDisconnected
}

func (d *DisconnectedCollection) UnlockBook(string) error  { return ErrDisconnected }
func (d *DisconnectedCollection) ForceUnlock(string) error { return ErrDisconnected }

// IsCheckedOutHere works disconnected: it only needs the local cache.
func (d *DisconnectedCollection) IsCheckedOutHere(bookID string) bool {
	status, found, err := d.localStatus.Read(bookID)
	if err != nil || !found {
		return false
	}
	return status.IsCheckedOutHereBy(d.user, d.machine)
}

// SyncAtStartup cannot reconcile without a transport; it reports the
// condition as a single warning.
func (d *DisconnectedCollection) SyncAtStartup(Progress, bool) []string {
	return []string{"The Team Collection is not reachable; working from local copies only."}
}

func (d *DisconnectedCollection) StartMonitoring() error { return nil }
func (d *DisconnectedCollection) StopMonitoring() error  { return nil }

func (d *DisconnectedCollection) MessageLog() *MessageLog { return d.log }

func (d *DisconnectedCollection) IsDisconnected() bool { return true }

var _ Collection = (*DisconnectedCollection)(nil)
