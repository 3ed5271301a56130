package transport

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"tc-go/internal/archive"
	"tc-go/internal/tc"
)

// memBook is one stored artifact: the raw status blob plus the packed files.
type memBook struct {
	status string
	files  map[string][]byte // relative path -> content
}

// MemoryTransport is an in-memory RepoTransport. It mirrors the folder
// transport's semantics (quarantine slot probing, absent-book errors) and
// lets tests fire change notifications directly. Safe for concurrent use.
type MemoryTransport struct {
	mu              sync.Mutex
	books           map[string]memBook
	quarantine      map[string]memBook
	collectionFiles map[string][]byte
	handler         tc.ChangeHandler
	excludes        *archive.ExcludeMatcher
}

// NewMemoryTransport creates an empty in-memory repo.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		books:           make(map[string]memBook),
		quarantine:      make(map[string]memBook),
		collectionFiles: make(map[string][]byte),
		excludes:        archive.NewExcludeMatcher(nil),
	}
}

func (m *MemoryTransport) ValidateSetup() error { return nil }

func (m *MemoryTransport) ListBooks() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var books []string
	for id := range m.books {
		books = append(books, id)
	}
	sort.Strings(books)
	return books, nil
}

func (m *MemoryTransport) FetchBook(bookID string, destDir string) error {
	m.mu.Lock()
	book, ok := m.books[bookID]
	m.mu.Unlock()
	if !ok {
		return &tc.TransportError{Op: "fetch", Path: bookID, Err: tc.ErrBookAbsent}
	}

	folder := filepath.Join(destDir, bookID)
	for rel, content := range book.files {
		target := filepath.Join(folder, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", target, err)
		}
	}
	return nil
}

func (m *MemoryTransport) StoreBook(sourceFolder string, status tc.BookStatus, toQuarantine bool) error {
	raw, err := status.ToJSON()
	if err != nil {
		return err
	}

	files := make(map[string][]byte)
	err = filepath.WalkDir(sourceFolder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceFolder, path)
		if err != nil {
			return err
		}
		if m.excludes.Match(rel) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = content
		return nil
	})
	if err != nil {
		return &tc.TransportError{Op: "store", Path: sourceFolder, Err: err}
	}

	bookID := filepath.Base(sourceFolder)
	book := memBook{status: raw, files: files}

	m.mu.Lock()
	defer m.mu.Unlock()
	if toQuarantine {
		for n := 1; ; n++ {
			name := bookID
			if n > 1 {
				name += strconv.Itoa(n)
			}
			if _, taken := m.quarantine[name]; !taken {
				m.quarantine[name] = book
				return nil
			}
		}
	}
	m.books[bookID] = book
	return nil
}

func (m *MemoryTransport) ReadRawStatus(bookID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookID]
	if !ok {
		return "", false, nil
	}
	return book.status, true, nil
}

func (m *MemoryTransport) WriteRawStatus(bookID string, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[bookID]
	if !ok {
		return &tc.TransportError{Op: "writeStatus", Path: bookID, Err: tc.ErrBookAbsent}
	}
	book.status = raw
	m.books[bookID] = book
	return nil
}

func (m *MemoryTransport) PutCollectionFile(localPath string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return &tc.TransportError{Op: "putCollectionFile", Path: localPath, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectionFiles[filepath.Base(localPath)] = content
	return nil
}

func (m *MemoryTransport) FetchCollectionFile(name string, destDir string) error {
	m.mu.Lock()
	content, ok := m.collectionFiles[name]
	m.mu.Unlock()
	if !ok {
		return &tc.TransportError{Op: "fetchCollectionFile", Path: name, Err: os.ErrNotExist}
	}
	return os.WriteFile(filepath.Join(destDir, name), content, 0644)
}

func (m *MemoryTransport) ListCollectionFiles() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.collectionFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryTransport) StartMonitoring(handler tc.ChangeHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		m.handler = handler
	}
	return nil
}

func (m *MemoryTransport) StopMonitoring() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
	return nil
}

// FireChange delivers a change notification as the watcher would. Test hook.
func (m *MemoryTransport) FireChange(kind tc.ChangeKind, bookID string) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(kind, bookID)
	}
}

// DeleteBook removes a book from the repo. Test hook for simulating a
// teammate's deletion.
func (m *MemoryTransport) DeleteBook(bookID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, bookID)
}

// QuarantineNames returns the Lost and Found slot names. Test hook.
func (m *MemoryTransport) QuarantineNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.quarantine {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ tc.RepoTransport = (*MemoryTransport)(nil)
