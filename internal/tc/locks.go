package tc

import "fmt"

// AttemptLock tries to claim the exclusive-edit lock on a book for user on
// this machine.
//
// There is no compare-and-swap in the transport substrate, so the race
// between reading "unlocked" and writing the claim is resolved by "last
// write wins, caller re-checks": after writing, the status is read back and
// the result is whether the final status is held here. Two near-simultaneous
// claimants may both see "unlocked"; the later physical write wins.
func (c *TeamCollection) AttemptLock(bookID string, user string) (bool, error) {
	if user == "" {
		user = c.user
	}

	status, err := c.GetStatus(bookID)
	if err != nil {
		return false, fmt.Errorf("attempting lock on %s: %w", bookID, err)
	}

	switch status.Lock() {
	case LocalOnly:
		// Never shared; nothing in the repo to claim. Always editable.
		return true, nil
	case Unlocked:
		claimed := status.WithLockedBy(user, c.machine, c.clock.Now())
		raw, err := claimed.ToJSON()
		if err != nil {
			return false, err
		}
		if err := c.transport.WriteRawStatus(bookID, raw); err != nil {
			return false, fmt.Errorf("attempting lock on %s: %w", bookID, err)
		}
		if err := c.localStatus.Write(bookID, claimed); err != nil {
			return false, err
		}
	}

	final, err := c.GetStatus(bookID)
	if err != nil {
		return false, fmt.Errorf("re-checking lock on %s: %w", bookID, err)
	}
	won := final.IsCheckedOutHereBy(user, c.machine)
	c.logger.Info("lock attempt", "book", bookID, "user", user, "won", won)
	return won, nil
}

// UnlockBook releases the lock on a book by writing an unlocked status.
func (c *TeamCollection) UnlockBook(bookID string) error {
	status, err := c.GetStatus(bookID)
	if err != nil {
		return fmt.Errorf("unlocking %s: %w", bookID, err)
	}
	if status.Lock() == LocalOnly {
		return nil
	}

	unlocked := status.WithLockCleared()
	raw, err := unlocked.ToJSON()
	if err != nil {
		return err
	}
	if err := c.transport.WriteRawStatus(bookID, raw); err != nil {
		return fmt.Errorf("unlocking %s: %w", bookID, err)
	}
	if c.localFolderExists(bookID) {
		if err := c.localStatus.Write(bookID, unlocked); err != nil {
			return err
		}
	}
	c.logger.Info("book unlocked", "book", bookID)
	return nil
}

// ForceUnlock clears a lock regardless of holder. This bypasses the normal
// rule that only the holder releases a lock; the holder's unsynced edits
// will conflict at their next sync.
func (c *TeamCollection) ForceUnlock(bookID string) error {
	status, err := c.GetStatus(bookID)
	if err != nil {
		return fmt.Errorf("force-unlocking %s: %w", bookID, err)
	}
	holder := status.LockedBy
	if err := c.UnlockBook(bookID); err != nil {
		return err
	}
	if holder != "" && holder != NewBookPseudoUser {
		c.log.WriteMessage(MessageHistory, "TeamCollection.ForceUnlocked",
			"The checkout of \"{0}\" by {1} was cleared by an administrator.", bookID, holder)
	}
	return nil
}
