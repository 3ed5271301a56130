package transport

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"tc-go/internal/tc"
)

// folderMonitor watches the repo's Books folder and translates filesystem
// events into NewBook/BookChanged notifications. Events may be duplicated or
// coalesced; the handler side is expected to tolerate that.
type folderMonitor struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	stopped chan struct{}
}

// StartMonitoring begins watching the Books folder. Idempotent: a second
// call while monitoring returns nil without replacing the handler.
func (t *FolderTransport) StartMonitoring(handler tc.ChangeHandler) error {
	t.monitorMu.Lock()
	defer t.monitorMu.Unlock()

	if t.monitor != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return &tc.TransportError{Op: "monitor", Path: t.booksDir, Err: err}
	}
	if err := watcher.Add(t.booksDir); err != nil {
		watcher.Close()
		return &tc.TransportError{Op: "monitor", Path: t.booksDir, Err: err}
	}

	// Snapshot what exists now so later Create events can be classified
	// as genuinely new books.
	known := make(map[string]bool)
	if books, err := t.ListBooks(); err == nil {
		for _, b := range books {
			known[b] = true
		}
	}

	m := &folderMonitor{
		watcher: watcher,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	t.monitor = m

	go t.watchLoop(m, known, handler)
	return nil
}

// StopMonitoring stops the watcher and waits for the event loop to drain.
// Idempotent.
func (t *FolderTransport) StopMonitoring() error {
	t.monitorMu.Lock()
	m := t.monitor
	t.monitor = nil
	t.monitorMu.Unlock()

	if m == nil {
		return nil
	}
	close(m.done)
	m.watcher.Close()
	<-m.stopped
	return nil
}

func (t *FolderTransport) watchLoop(m *folderMonitor, known map[string]bool, handler tc.ChangeHandler) {
	defer close(m.stopped)
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			t.handleFSEvent(event, known, handler)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("watch error", "err", err)
		}
	}
}

// handleFSEvent classifies one watch event. Own writes are dropped; temp
// archives and non-book files are ignored; otherwise the event becomes a
// NewBook or BookChanged notification keyed by the book's name.
func (t *FolderTransport) handleFSEvent(event fsnotify.Event, known map[string]bool, handler tc.ChangeHandler) {
	if t.isOwnWrite(event.Name) {
		t.logger.Debug("suppressed own write", "path", event.Name)
		return
	}

	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, BookExtension) {
		return
	}
	bookID := strings.TrimSuffix(base, BookExtension)

	switch {
	case event.Op.Has(fsnotify.Create):
		if known[bookID] {
			handler(tc.ChangeBookChanged, bookID)
			return
		}
		known[bookID] = true
		handler(tc.ChangeNewBook, bookID)
	case event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Rename):
		if !known[bookID] {
			known[bookID] = true
			handler(tc.ChangeNewBook, bookID)
			return
		}
		handler(tc.ChangeBookChanged, bookID)
	}
	// Removals are not notified; a deletion is reconciled at the next
	// startup sync rather than by destroying local copies live.
}
