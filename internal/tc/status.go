package tc

import (
	"encoding/json"
	"fmt"
	"time"
)

// NewBookPseudoUser is the lock-holder value recorded for a book that exists
// only in the local collection and has never been shared. A book in this
// state is always editable locally, by anyone, on any machine.
//
// The value is kept stable because it is written into status JSON that other
// team members' installations read back.
const NewBookPseudoUser = "this user"

// LockKind classifies the lock field of a BookStatus.
type LockKind int

const (
	// Unlocked means no one holds an edit claim on the book.
	Unlocked LockKind = iota
	// LockedBy means a specific user on a specific machine holds the claim.
	LockedBy
	// LocalOnly means the book has never been shared; it carries the
	// NewBookPseudoUser sentinel and is freely editable here.
	LocalOnly
)

// BookStatus is the per-book synchronization record. Two physical copies
// exist for every shared book: the authoritative one stored with the book in
// the repo, and a cached copy in the local book folder. They may disagree;
// reconciliation resolves disagreement.
//
// BookStatus is derived-immutable: mutators return a new value and never
// modify the receiver.
type BookStatus struct {
	Checksum    string `json:"checksum,omitempty"`
	LockedBy    string `json:"lockedBy,omitempty"`
	LockedWhen  string `json:"lockedWhen,omitempty"`
	LockedWhere string `json:"lockedWhere,omitempty"`
}

// NewBookStatus returns an empty status: no checksum, unlocked.
func NewBookStatus() BookStatus {
	return BookStatus{}
}

// NewLocalOnlyStatus returns the status synthesized for a book that exists
// locally but has no entry in the repo.
func NewLocalOnlyStatus(machine string) BookStatus {
	return BookStatus{
		LockedBy:    NewBookPseudoUser,
		LockedWhere: machine,
	}
}

// Lock classifies the status.
func (s BookStatus) Lock() LockKind {
	switch s.LockedBy {
	case "":
		return Unlocked
	case NewBookPseudoUser:
		return LocalOnly
	default:
		return LockedBy
	}
}

// WithChecksum returns a copy of s with the checksum replaced.
func (s BookStatus) WithChecksum(checksum string) BookStatus {
	s.Checksum = checksum
	return s
}

// WithLockedBy returns a copy of s locked by the given user on the given
// machine at the given time. An empty user clears all three lock fields,
// preserving the invariant that lockedWhen and lockedWhere are set exactly
// when lockedBy is.
func (s BookStatus) WithLockedBy(user, machine string, when time.Time) BookStatus {
	if user == "" {
		s.LockedBy = ""
		s.LockedWhen = ""
		s.LockedWhere = ""
		return s
	}
	s.LockedBy = user
	s.LockedWhen = when.UTC().Format(time.RFC3339)
	s.LockedWhere = machine
	return s
}

// WithLockCleared returns a copy of s with all lock fields cleared.
func (s BookStatus) WithLockCleared() BookStatus {
	return s.WithLockedBy("", "", time.Time{})
}

// IsCheckedOutHereBy reports whether the given user on the given machine may
// edit the book. A never-shared local book is always editable.
func (s BookStatus) IsCheckedOutHereBy(user, machine string) bool {
	if s.Lock() == LocalOnly {
		return true
	}
	return s.LockedBy == user && s.LockedWhere == machine
}

// ToJSON serializes the status. The output is the canonical blob stored in
// the archive comment and the local status file.
func (s BookStatus) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding book status: %w", err)
	}
	return string(data), nil
}

// StatusFromJSON deserializes a status blob. Unknown fields are ignored so
// newer installations can extend the record without breaking older ones.
func StatusFromJSON(raw string) (BookStatus, error) {
	var s BookStatus
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return BookStatus{}, fmt.Errorf("decoding book status: %w", err)
	}
	return s, nil
}
