package transport

import (
	"fmt"

	"tc-go/internal/archive"
	"tc-go/internal/config"
	"tc-go/internal/tc"
)

// NewTransportFromSettings creates a RepoTransport based on the collection
// settings type.
func NewTransportFromSettings(s *config.CollectionSettings, packer *archive.Packer, logger tc.Logger, clock tc.Clock) (tc.RepoTransport, error) {
	switch s.Type {
	case "folder", "":
		if s.RepoDir == "" {
			return nil, fmt.Errorf("folder transport requires repo_dir to be set")
		}
		return NewFolderTransport(s.RepoDir, packer, logger, clock), nil
	case "memory":
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", s.Type)
	}
}
