// Package archive packs a book folder into a single self-contained zip
// artifact and back. The archive-level comment field holds the book's
// status JSON verbatim: the canonical place status lives in the shared
// transport, readable without unpacking anything.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"tc-go/internal/tc"
)

// Packer builds and opens book archives. A nil encryptor stores entry
// contents as-is; with an encryptor, entry payloads are encrypted while
// entry names and the status comment stay cleartext.
type Packer struct {
	excludes  *ExcludeMatcher
	encryptor tc.Encryptor
}

// NewPacker creates a Packer with the given exclusion rules and optional
// encryptor (nil for cleartext collections).
func NewPacker(excludes *ExcludeMatcher, encryptor tc.Encryptor) *Packer {
	if excludes == nil {
		excludes = NewExcludeMatcher(nil)
	}
	return &Packer{excludes: excludes, encryptor: encryptor}
}

// Pack writes the book folder as a zip archive to w, with statusJSON as the
// archive comment. Excluded files are skipped.
func (p *Packer) Pack(bookFolder string, statusJSON string, w io.Writer) error {
	zw := zip.NewWriter(w)
	if err := zw.SetComment(statusJSON); err != nil {
		zw.Close()
		return fmt.Errorf("setting archive comment: %w", err)
	}

	err := filepath.WalkDir(bookFolder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bookFolder, path)
		if err != nil {
			return err
		}
		if p.excludes.Match(rel) {
			return nil
		}
		return p.addEntry(zw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("packing %s: %w", bookFolder, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

func (p *Packer) addEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	ew, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating archive entry %s: %w", name, err)
	}

	if p.encryptor != nil {
		if err := p.encryptor.Encrypt(f, ew); err != nil {
			return fmt.Errorf("encrypting entry %s: %w", name, err)
		}
		return nil
	}
	if _, err := io.Copy(ew, f); err != nil {
		return fmt.Errorf("writing entry %s: %w", name, err)
	}
	return nil
}

// Unpack extracts the archive at archivePath into destFolder, creating it
// if needed. Existing files are overwritten.
func (p *Packer) Unpack(archivePath string, destFolder string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	if err := os.MkdirAll(destFolder, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", destFolder, err)
	}

	for _, entry := range zr.File {
		if err := p.extractEntry(entry, destFolder); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packer) extractEntry(entry *zip.File, destFolder string) error {
	rel := filepath.FromSlash(entry.Name)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("archive entry escapes destination: %s", entry.Name)
	}
	target := filepath.Join(destFolder, rel)

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	defer dst.Close()

	if p.encryptor != nil {
		if err := p.encryptor.Decrypt(src, dst); err != nil {
			return fmt.Errorf("decrypting entry %s: %w", entry.Name, err)
		}
		return nil
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extracting entry %s: %w", entry.Name, err)
	}
	return nil
}

// ReadComment returns the archive comment (the status JSON) without reading
// any entry contents.
func ReadComment(archivePath string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer zr.Close()
	return zr.Comment, nil
}

// RewriteComment replaces the archive comment of an existing archive without
// touching entry contents. Entries are copied raw, so encrypted payloads
// pass through unchanged.
func RewriteComment(archivePath string, comment string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}

	// Temp name keeps the archive path as a prefix so the transport's
	// own-write suppression recognizes events for it.
	tmp, err := os.CreateTemp(filepath.Dir(archivePath), filepath.Base(archivePath)+".tmp-*")
	if err != nil {
		zr.Close()
		return fmt.Errorf("creating temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(tmp)
	if err := zw.SetComment(comment); err != nil {
		zr.Close()
		tmp.Close()
		return fmt.Errorf("setting archive comment: %w", err)
	}
	for _, entry := range zr.File {
		if err := zw.Copy(entry); err != nil {
			zr.Close()
			tmp.Close()
			return fmt.Errorf("copying archive entry %s: %w", entry.Name, err)
		}
	}
	zr.Close()
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp archive: %w", err)
	}

	if err := os.Rename(tmpPath, archivePath); err != nil {
		return fmt.Errorf("replacing archive: %w", err)
	}
	success = true
	return nil
}
