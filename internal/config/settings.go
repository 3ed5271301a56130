package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SettingsFileName is the per-collection settings pointer file in the local
// collection root. Its presence is what makes the collection a Team
// Collection at startup.
const SettingsFileName = "TeamCollectionSettings.toml"

// CollectionSettings points a local collection at its shared repo.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type CollectionSettings struct {
	Type string `toml:"type"` // "folder" (default) or "memory"

	// Folder-specific fields (only used when Type == "folder")
	RepoDir string `toml:"repo_dir,omitempty"`

	// Encrypted collections share an age collection key, distributed
	// out-of-band; KeyPath is local and never stored in the repo.
	Encrypted bool   `toml:"encrypted,omitempty"`
	KeyPath   string `toml:"key_path,omitempty"`
}

// SettingsPath returns the settings pointer path for a collection folder.
func SettingsPath(collectionDir string) string {
	return filepath.Join(collectionDir, SettingsFileName)
}

// ReadSettings loads the settings pointer for a collection. Returns
// (nil, nil) when the file does not exist: the collection is simply not a
// Team Collection.
func ReadSettings(collectionDir string) (*CollectionSettings, error) {
	path := SettingsPath(collectionDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading collection settings: %w", err)
	}

	var s CollectionSettings
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing collection settings %s: %w", path, err)
	}
	if s.Type == "" {
		s.Type = "folder"
	}
	return &s, nil
}

// WriteSettings persists the settings pointer into the collection folder.
func WriteSettings(collectionDir string, s *CollectionSettings) error {
	f, err := os.Create(SettingsPath(collectionDir))
	if err != nil {
		return fmt.Errorf("creating collection settings: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("encoding collection settings: %w", err)
	}
	return nil
}
