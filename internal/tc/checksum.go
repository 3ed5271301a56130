package tc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PrimaryDocExtension is the extension of a book's primary document.
const PrimaryDocExtension = ".htm"

// ComputeChecksum fingerprints the book folder's primary document.
//
// The hash covers the document content with all whitespace runs collapsed,
// so formatting-only churn does not register as a change, salted with the
// book's folder name so identical content under different names yields
// different checksums. A missing primary document is an error: every real
// book has one, and callers treat this as a fatal precondition violation.
func ComputeChecksum(bookFolder string) (string, error) {
	docPath, err := PrimaryDocPath(bookFolder)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(docPath)
	if err != nil {
		return "", fmt.Errorf("reading primary document: %w", err)
	}

	normalized := strings.Join(strings.Fields(string(content)), " ")

	h := sha256.New()
	h.Write([]byte(filepath.Base(bookFolder)))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// PrimaryDocPath locates the book's primary document: <folderName>.htm if it
// exists, otherwise the alphabetically first .htm file in the folder.
func PrimaryDocPath(bookFolder string) (string, error) {
	name := filepath.Base(bookFolder)
	preferred := filepath.Join(bookFolder, name+PrimaryDocExtension)
	if _, err := os.Stat(preferred); err == nil {
		return preferred, nil
	}

	entries, err := os.ReadDir(bookFolder)
	if err != nil {
		return "", fmt.Errorf("reading book folder: %w", err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), PrimaryDocExtension) {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("book has no primary document: %s", bookFolder)
	}
	sort.Strings(candidates)
	return filepath.Join(bookFolder, candidates[0]), nil
}
