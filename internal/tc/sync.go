package tc

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strconv"
)

// SyncAtStartup reconciles the local collection with the repo. It runs once
// per collection open, and once with firstTimeJoin=true when a local
// collection is first merged into an existing repo (repo-wins conflict
// semantics).
//
// Every per-book failure is isolated: it is reported with a captured stack,
// converted to a warning, and reconciliation continues with the next book.
// The returned warnings keep the progress UI open for manual dismissal.
//
// Callers must prevent concurrent runs against the same collection, and
// should suppress monitoring for the duration so the run's own writes do not
// come back as notifications.
func (c *TeamCollection) SyncAtStartup(progress Progress, firstTimeJoin bool) []string {
	if progress == nil {
		progress = NopProgress{}
	}
	var warnings []string

	// The run itself is the reload: everything current after it is fresh.
	if err := c.log.WriteMilestone(MilestoneReloaded); err != nil {
		c.logger.Error("writing reload milestone", "err", err)
	}

	// Phase A: local books the repo does not have.
	localBooks, err := c.listLocalBooks()
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("Could not read the local collection folder: %v", err))
		return warnings
	}
	for _, bookID := range localBooks {
		if w := c.syncBookSafely(bookID, func() error {
			return c.reconcileLocalBook(bookID, firstTimeJoin, progress)
		}); w != "" {
			warnings = append(warnings, w)
		}
	}

	// Phase B: every book the repo lists. The list is a snapshot; a listed
	// book can vanish before we get to it, which surfaces as a per-book
	// warning rather than an abort.
	repoBooks, err := c.transport.ListBooks()
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("Could not list books in the Team Collection: %v", err))
		return warnings
	}
	for _, bookID := range repoBooks {
		if w := c.syncBookSafely(bookID, func() (err error) {
			var warning string
			warning, err = c.reconcileRepoBook(bookID, firstTimeJoin, progress)
			if warning != "" {
				warnings = append(warnings, warning)
			}
			return err
		}); w != "" {
			warnings = append(warnings, w)
		}
	}

	c.logger.Info("sync complete", "warnings", len(warnings), "firstTimeJoin", firstTimeJoin)
	return warnings
}

// syncBookSafely runs one per-book reconciliation step, converting any error
// or panic into a warning so one bad book never aborts the rest.
func (c *TeamCollection) syncBookSafely(bookID string, fn func() error) (warning string) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic reconciling %s: %v", bookID, r)
			c.reporter.Report(err, "SyncAtStartup", debug.Stack())
			warning = fmt.Sprintf("Something went wrong with the book \"%s\": %v", bookID, r)
		}
	}()

	if err := fn(); err != nil {
		c.reporter.Report(err, "SyncAtStartup", debug.Stack())
		c.log.WriteMessage(MessageErrorNoReload, "TeamCollection.BookProblem",
			"Something went wrong with the book \"{0}\".", bookID, "")
		return fmt.Sprintf("Something went wrong with the book \"%s\": %v", bookID, err)
	}
	return ""
}

// reconcileLocalBook handles Phase A for one local book folder.
func (c *TeamCollection) reconcileLocalBook(bookID string, firstTimeJoin bool, progress Progress) error {
	_, inRepo, err := c.transport.ReadRawStatus(bookID)
	if err != nil {
		return err
	}
	if inRepo {
		// Phase B reconciles it.
		return nil
	}

	if firstTimeJoin {
		// First join uploads everything local as the starting state.
		if _, err := c.putBook(filepath.Join(c.localDir, bookID), true, false); err != nil {
			return err
		}
		progress.Message(fmt.Sprintf("Adding your book \"%s\" to the Team Collection", bookID))
		return nil
	}

	if !c.localStatus.Exists(bookID) {
		// Brand-new unshared local book; PutBook picks it up later.
		return nil
	}

	// The book was shared once and the repo no longer has it: a teammate
	// deleted it. Local edits in progress are never silently destroyed.
	if c.IsCheckedOutHere(bookID) {
		progress.Message(fmt.Sprintf("Keeping \"%s\", which you have checked out, although it was deleted from the Team Collection", bookID))
		return nil
	}

	progress.Message(fmt.Sprintf("Removing \"%s\", which was deleted from the Team Collection", bookID))
	if err := os.RemoveAll(filepath.Join(c.localDir, bookID)); err != nil {
		return fmt.Errorf("removing deleted book %s: %w", bookID, err)
	}
	c.log.WriteMessage(MessageHistory, "TeamCollection.RemovedDeletedBook",
		"Removed the book \"{0}\", which was deleted from the Team Collection.", bookID, "")
	return nil
}

// reconcileRepoBook handles Phase B for one repo-listed book. The returned
// warning, if any, names at-risk local work the user should know about.
func (c *TeamCollection) reconcileRepoBook(bookID string, firstTimeJoin bool, progress Progress) (string, error) {
	localFolder := filepath.Join(c.localDir, bookID)

	if !c.localFolderExists(bookID) {
		progress.Message(fmt.Sprintf("Fetching \"%s\" from the Team Collection", bookID))
		return "", c.copyBookFromRepo(bookID)
	}

	repoStatus, err := c.GetStatus(bookID)
	if err != nil {
		return "", err
	}

	localStatus, hasLocalStatus, err := c.localStatus.Read(bookID)
	if err != nil {
		return "", err
	}

	if !hasLocalStatus {
		return c.reconcileNameCollision(bookID, localFolder, repoStatus, firstTimeJoin, progress)
	}

	checkedOutHere := localStatus.IsCheckedOutHereBy(c.user, c.machine)

	if !checkedOutHere {
		if localStatus.Checksum != repoStatus.Checksum {
			// No local stake in the content; refresh quietly.
			progress.Message(fmt.Sprintf("Updating \"%s\" to the Team Collection version", bookID))
			return "", c.copyBookFromRepo(bookID)
		}
		return "", nil
	}

	if repoStatus.IsCheckedOutHereBy(c.user, c.machine) {
		// Local and repo agree it is ours.
		return "", nil
	}

	// Conflict: local thinks the book is checked out here, the repo
	// disagrees.
	if localStatus.Checksum == repoStatus.Checksum {
		if repoStatus.Lock() == Unlocked {
			// Someone began and abandoned a checkout attempt remotely.
			// No content is at risk; re-assert our lock.
			progress.Message(fmt.Sprintf("Restoring your checkout of \"%s\"", bookID))
			raw, err := localStatus.ToJSON()
			if err != nil {
				return "", err
			}
			return "", c.transport.WriteRawStatus(bookID, raw)
		}

		// The remote lock wins. Quarantine first if we actually edited.
		edited, err := c.contentEdited(localFolder, localStatus)
		if err != nil {
			return "", err
		}
		if !edited {
			return "", c.localStatus.Write(bookID, repoStatus)
		}
		return c.quarantineAndRefetch(bookID, localFolder, progress)
	}

	// Repo content changed under our checkout. Remote content wins
	// regardless of lock state; local edits are quarantined, never dropped.
	edited, err := c.contentEdited(localFolder, localStatus)
	if err != nil {
		return "", err
	}
	if !edited {
		progress.Message(fmt.Sprintf("Updating \"%s\" to the Team Collection version", bookID))
		return "", c.copyBookFromRepo(bookID)
	}
	return c.quarantineAndRefetch(bookID, localFolder, progress)
}

// reconcileNameCollision handles a local folder with no status file whose
// name the repo also uses.
func (c *TeamCollection) reconcileNameCollision(bookID, localFolder string, repoStatus BookStatus, firstTimeJoin bool, progress Progress) (string, error) {
	localChecksum, err := ComputeChecksum(localFolder)
	if err != nil {
		return "", err
	}

	if localChecksum == repoStatus.Checksum {
		// Coincidental identical copy (e.g. merging two folders that both
		// had the book); adopt the repo status as local.
		return "", c.localStatus.Write(bookID, repoStatus)
	}

	if firstTimeJoin {
		// Conflicting independent history; the repo wins on first join and
		// the local version goes to Lost and Found.
		if _, err := c.putBook(localFolder, false, true); err != nil {
			return "", err
		}
		if err := c.copyBookFromRepo(bookID); err != nil {
			return "", err
		}
		c.log.WriteMessage(MessageErrorNoReload, "TeamCollection.MovedToLostAndFound",
			"Your version of \"{0}\" was moved to Lost and Found; the Team Collection version replaced it.", bookID, "")
		return fmt.Sprintf("Your version of \"%s\" conflicted with the Team Collection and was moved to Lost and Found.", bookID), nil
	}

	// Presume an independently created book under the same name; keep it
	// under a new name and fetch the repo's version under the original.
	renamed, err := c.renameToFreeSlot(bookID)
	if err != nil {
		return "", err
	}
	progress.Message(fmt.Sprintf("Renamed your book \"%s\" to \"%s\"; a different Team Collection book has that name", bookID, renamed))
	if err := c.copyBookFromRepo(bookID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Your book \"%s\" was renamed to \"%s\" because a different book with that name exists in the Team Collection.", bookID, renamed), nil
}

// quarantineAndRefetch preserves the locally-edited book in Lost and Found,
// replaces the local copy with the repo version, and emits the required
// warning naming the book.
func (c *TeamCollection) quarantineAndRefetch(bookID, localFolder string, progress Progress) (string, error) {
	progress.Message(fmt.Sprintf("Moving your edits of \"%s\" to Lost and Found", bookID))
	if _, err := c.putBook(localFolder, false, true); err != nil {
		return "", err
	}
	if err := c.copyBookFromRepo(bookID); err != nil {
		return "", err
	}
	c.log.WriteMessage(MessageErrorNoReload, "TeamCollection.MovedToLostAndFound",
		"Your version of \"{0}\" was moved to Lost and Found; the Team Collection version replaced it.", bookID, "")
	return fmt.Sprintf("Your edits of \"%s\" were moved to Lost and Found; the Team Collection version replaced them.", bookID), nil
}

// contentEdited reports whether the book's current content differs from the
// last-known-synced checksum in its local status.
func (c *TeamCollection) contentEdited(localFolder string, localStatus BookStatus) (bool, error) {
	current, err := ComputeChecksum(localFolder)
	if err != nil {
		return false, err
	}
	return current != localStatus.Checksum, nil
}

// renameToFreeSlot renames the local book folder to the first free numbered
// name (book2, book3, ...) and returns the new name.
func (c *TeamCollection) renameToFreeSlot(bookID string) (string, error) {
	for n := 2; ; n++ {
		candidate := bookID + strconv.Itoa(n)
		target := filepath.Join(c.localDir, candidate)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.Rename(filepath.Join(c.localDir, bookID), target); err != nil {
			return "", fmt.Errorf("renaming colliding book %s: %w", bookID, err)
		}
		// Keep the primary document name matching the folder so the
		// renamed book still checksums and opens as itself.
		if doc, err := PrimaryDocPath(target); err == nil {
			_ = os.Rename(doc, filepath.Join(target, candidate+PrimaryDocExtension))
		}
		return candidate, nil
	}
}

// listLocalBooks returns the names of local folders that look like books
// (contain a primary document), sorted for deterministic processing.
func (c *TeamCollection) listLocalBooks() ([]string, error) {
	entries, err := os.ReadDir(c.localDir)
	if err != nil {
		return nil, fmt.Errorf("reading collection folder: %w", err)
	}
	var books []string
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		if _, err := PrimaryDocPath(filepath.Join(c.localDir, e.Name())); err != nil {
			continue
		}
		books = append(books, e.Name())
	}
	sort.Strings(books)
	return books, nil
}
