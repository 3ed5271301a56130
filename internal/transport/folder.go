// Package transport provides the concrete RepoTransport backends a Team
// Collection can synchronize against: the shared-folder transport and an
// in-memory transport for tests.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"tc-go/internal/archive"
	"tc-go/internal/tc"
)

const (
	// BookExtension is the extension of the stored book artifact.
	BookExtension = ".book"

	booksDirName = "Books"
	lostDirName  = "Lost and Found"
	otherDirName = "Other"

	// JoinMarkerName is the marker file an external file association opens
	// to trigger the join flow. Its content is instructional, never parsed.
	JoinMarkerName = "Join this Team Collection.jointc"

	// ownWriteWindow is how long after a completed write the transport
	// still attributes watch events on that path to itself. Watch events
	// can lag the actual write by a small, bounded amount.
	ownWriteWindow = 2 * time.Second
)

// FolderTransport is a RepoTransport backed by a shared filesystem folder:
//
//	<repo>/
//	  Books/
//	    <bookName>.book        (zip artifact, status JSON in the comment)
//	  Lost and Found/
//	    <bookName>.book, <bookName>2.book, ...
//	  Other/
//	    <shared collection files>
//	  Join this Team Collection.jointc
type FolderTransport struct {
	repoDir  string
	booksDir string
	lostDir  string
	otherDir string
	packer   *archive.Packer
	logger   tc.Logger
	clock    tc.Clock

	// writeMu protects only the own-write tracking fields, never any I/O.
	writeMu         sync.Mutex
	lastWrittenPath string
	writeInProgress bool
	lastWriteTime   time.Time

	monitorMu sync.Mutex
	monitor   *folderMonitor
}

// NewFolderTransport creates a transport over an existing repo folder.
// Use CreateRepo to build a fresh repo skeleton.
func NewFolderTransport(repoDir string, packer *archive.Packer, logger tc.Logger, clock tc.Clock) *FolderTransport {
	return &FolderTransport{
		repoDir:  repoDir,
		booksDir: filepath.Join(repoDir, booksDirName),
		lostDir:  filepath.Join(repoDir, lostDirName),
		otherDir: filepath.Join(repoDir, otherDirName),
		packer:   packer,
		logger:   logger,
		clock:    clock,
	}
}

// CreateRepo builds the repo skeleton at repoDir, including the join marker.
func CreateRepo(repoDir string) error {
	for _, dir := range []string{booksDirName, lostDirName, otherDirName} {
		if err := os.MkdirAll(filepath.Join(repoDir, dir), 0755); err != nil {
			return fmt.Errorf("creating repo folder %s: %w", dir, err)
		}
	}
	marker := filepath.Join(repoDir, JoinMarkerName)
	content := "Open this file with the Team Collection application installed to join this Team Collection.\n"
	if err := os.WriteFile(marker, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing join marker: %w", err)
	}
	return nil
}

// ValidateSetup verifies the repo folder is reachable and ensures the
// expected subfolders exist.
func (t *FolderTransport) ValidateSetup() error {
	info, err := os.Stat(t.repoDir)
	if err != nil {
		return &tc.TransportError{Op: "validate", Path: t.repoDir, Err: err}
	}
	if !info.IsDir() {
		return &tc.TransportError{Op: "validate", Path: t.repoDir, Err: errors.New("not a directory")}
	}
	for _, dir := range []string{t.booksDir, t.lostDir, t.otherDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &tc.TransportError{Op: "validate", Path: dir, Err: err}
		}
	}
	return nil
}

// ListBooks returns a snapshot of book IDs stored in the repo.
func (t *FolderTransport) ListBooks() ([]string, error) {
	entries, err := os.ReadDir(t.booksDir)
	if err != nil {
		return nil, &tc.TransportError{Op: "list", Path: t.booksDir, Err: err}
	}
	var books []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), BookExtension) {
			continue
		}
		books = append(books, strings.TrimSuffix(e.Name(), BookExtension))
	}
	return books, nil
}

func (t *FolderTransport) bookPath(bookID string) string {
	return filepath.Join(t.booksDir, bookID+BookExtension)
}

// FetchBook unpacks the stored artifact into destDir/bookID.
func (t *FolderTransport) FetchBook(bookID string, destDir string) error {
	src := t.bookPath(bookID)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return &tc.TransportError{Op: "fetch", Path: src, Err: tc.ErrBookAbsent}
		}
		return &tc.TransportError{Op: "fetch", Path: src, Err: err}
	}
	if err := t.packer.Unpack(src, filepath.Join(destDir, bookID)); err != nil {
		return &tc.TransportError{Op: "fetch", Path: src, Err: err}
	}
	return nil
}

// StoreBook packs the book folder into the repo. The live slot is
// overwritten unconditionally; quarantine slots are probed (name, name2,
// name3, ...) so no previous Lost and Found entry is ever overwritten.
func (t *FolderTransport) StoreBook(sourceFolder string, status tc.BookStatus, toQuarantine bool) error {
	raw, err := status.ToJSON()
	if err != nil {
		return err
	}

	bookID := filepath.Base(sourceFolder)
	var target string
	if toQuarantine {
		target, err = t.freeQuarantineSlot(bookID)
		if err != nil {
			return err
		}
	} else {
		target = t.bookPath(bookID)
	}

	t.beginWrite(target)
	defer t.endWrite()

	if err := t.writeArchive(sourceFolder, raw, target); err != nil {
		return &tc.TransportError{Op: "store", Path: target, Err: err}
	}
	t.logger.Debug("stored book artifact", "path", target)
	return nil
}

// writeArchive packs to a temp file beside the target, then renames into
// place so readers never see a partial archive.
func (t *FolderTransport) writeArchive(sourceFolder, statusJSON, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := t.packer.Pack(sourceFolder, statusJSON, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp archive: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("replacing archive: %w", err)
	}
	success = true
	return nil
}

// freeQuarantineSlot probes for the first unused Lost and Found name.
// Check-then-create, like the rest of the folder substrate: two processes
// quarantining the same name at once can still collide.
func (t *FolderTransport) freeQuarantineSlot(bookID string) (string, error) {
	if err := os.MkdirAll(t.lostDir, 0755); err != nil {
		return "", &tc.TransportError{Op: "quarantine", Path: t.lostDir, Err: err}
	}
	for n := 1; ; n++ {
		name := bookID
		if n > 1 {
			name += strconv.Itoa(n)
		}
		candidate := filepath.Join(t.lostDir, name+BookExtension)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// ReadRawStatus returns the status JSON from the artifact's comment.
// found is false when the book is absent from the repo.
func (t *FolderTransport) ReadRawStatus(bookID string) (string, bool, error) {
	path := t.bookPath(bookID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, &tc.TransportError{Op: "readStatus", Path: path, Err: err}
	}
	raw, err := archive.ReadComment(path)
	if err != nil {
		return "", false, &tc.TransportError{Op: "readStatus", Path: path, Err: err}
	}
	return raw, true, nil
}

// WriteRawStatus replaces the artifact's comment in place, copying entries
// raw. Fails if the book is absent.
func (t *FolderTransport) WriteRawStatus(bookID string, raw string) error {
	path := t.bookPath(bookID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &tc.TransportError{Op: "writeStatus", Path: path, Err: tc.ErrBookAbsent}
		}
		return &tc.TransportError{Op: "writeStatus", Path: path, Err: err}
	}

	t.beginWrite(path)
	defer t.endWrite()

	if err := archive.RewriteComment(path, raw); err != nil {
		return &tc.TransportError{Op: "writeStatus", Path: path, Err: err}
	}
	return nil
}

// PutCollectionFile copies a local file into the repo's shared area.
func (t *FolderTransport) PutCollectionFile(localPath string) error {
	if err := os.MkdirAll(t.otherDir, 0755); err != nil {
		return &tc.TransportError{Op: "putCollectionFile", Path: t.otherDir, Err: err}
	}
	target := filepath.Join(t.otherDir, filepath.Base(localPath))

	t.beginWrite(target)
	defer t.endWrite()

	if err := copyFile(localPath, target); err != nil {
		return &tc.TransportError{Op: "putCollectionFile", Path: target, Err: err}
	}
	return nil
}

// FetchCollectionFile copies a shared file into destDir under its own name.
func (t *FolderTransport) FetchCollectionFile(name string, destDir string) error {
	src := filepath.Join(t.otherDir, name)
	if err := copyFile(src, filepath.Join(destDir, name)); err != nil {
		return &tc.TransportError{Op: "fetchCollectionFile", Path: src, Err: err}
	}
	return nil
}

// ListCollectionFiles returns the names of files in the shared area.
func (t *FolderTransport) ListCollectionFiles() ([]string, error) {
	entries, err := os.ReadDir(t.otherDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &tc.TransportError{Op: "listCollectionFiles", Path: t.otherDir, Err: err}
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// beginWrite records that a write to path is starting. Held-lock work is
// limited to the three tracking fields.
func (t *FolderTransport) beginWrite(path string) {
	t.writeMu.Lock()
	t.lastWrittenPath = path
	t.writeInProgress = true
	t.writeMu.Unlock()
}

func (t *FolderTransport) endWrite() {
	t.writeMu.Lock()
	t.writeInProgress = false
	t.lastWriteTime = t.clock.Now()
	t.writeMu.Unlock()
}

// isOwnWrite classifies a watch event as one of our own writes: the event
// path starts with the last written path (temp archives carry the target
// path as a prefix) and the write is either still in progress or completed
// within the suppression window. A heuristic, not a guarantee.
func (t *FolderTransport) isOwnWrite(path string) bool {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.lastWrittenPath == "" || !strings.HasPrefix(path, t.lastWrittenPath) {
		return false
	}
	return t.writeInProgress || t.clock.Now().Sub(t.lastWriteTime) < ownWriteWindow
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return out.Close()
}

var _ tc.RepoTransport = (*FolderTransport)(nil)
