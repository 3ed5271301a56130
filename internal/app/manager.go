// Package app wires the Team Collection engine together: it decides at
// collection-open time whether a Team Collection exists, constructs the
// right transport (or the disconnected fallback), and exposes the current
// user identity to the CLI.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tc-go/internal/archive"
	"tc-go/internal/config"
	"tc-go/internal/encryption"
	"tc-go/internal/tc"
	"tc-go/internal/transport"
)

// messageLogName is the persisted message log, one per collection, kept in
// the collection's private .tc folder.
const messageLogName = "messages.log"

// Manager owns the per-process Team Collection state. Construct one at
// startup via NewManager; the caller must call Close when done.
type Manager struct {
	cfg        *config.Config
	settings   *config.CollectionSettings
	collection tc.Collection
	log        *tc.MessageLog
	logFile    *os.File
	logger     tc.Logger
	reporter   tc.ErrorReporter
}

// NewManager inspects the configured collection folder and wires either a
// live TeamCollection, a DisconnectedCollection (settings present but repo
// unreachable), or no collection at all (no settings pointer file).
// passphrase unlocks the collection key for encrypted collections and may
// be empty otherwise.
func NewManager(cfg *config.Config, passphrase string) (*Manager, error) {
	sessionID := time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, sessionID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}
	reporter := &slogReporter{l: slogger}

	m := &Manager{cfg: cfg, logFile: logFile, logger: logger, reporter: reporter}

	settings, err := config.ReadSettings(cfg.CollectionDir)
	if err != nil {
		// Settings exist but cannot be parsed: degraded mode, not a
		// startup failure.
		logger.Error("unreadable collection settings", "err", err)
		mlog, lerr := m.openMessageLog()
		if lerr != nil {
			logFile.Close()
			return nil, lerr
		}
		m.log = mlog
		m.collection = tc.NewDisconnectedCollection(cfg.CollectionDir, cfg.User, cfg.Machine, mlog)
		return m, nil
	}
	if settings == nil {
		// Not a Team Collection. Manager still works for config queries.
		return m, nil
	}
	m.settings = settings

	mlog, err := m.openMessageLog()
	if err != nil {
		logFile.Close()
		return nil, err
	}
	m.log = mlog

	encryptor, err := encryption.NewEncryptorFromSettings(settings, passphrase)
	if err != nil {
		logger.Error("collection key unavailable", "err", err)
		m.collection = tc.NewDisconnectedCollection(cfg.CollectionDir, cfg.User, cfg.Machine, mlog)
		return m, nil
	}

	packer := archive.NewPacker(nil, encryptor)
	tp, err := transport.NewTransportFromSettings(settings, packer, logger, tc.RealClock{})
	if err != nil {
		logger.Error("constructing transport", "err", err)
		m.collection = tc.NewDisconnectedCollection(cfg.CollectionDir, cfg.User, cfg.Machine, mlog)
		return m, nil
	}

	if err := tp.ValidateSetup(); err != nil {
		logger.Warn("team collection repo unreachable", "err", err)
		m.collection = tc.NewDisconnectedCollection(cfg.CollectionDir, cfg.User, cfg.Machine, mlog)
		return m, nil
	}

	m.collection = tc.NewTeamCollection(tp, cfg.CollectionDir, cfg.User, cfg.Machine,
		mlog, logger, reporter, tc.RealClock{})
	return m, nil
}

func (m *Manager) openMessageLog() (*tc.MessageLog, error) {
	path := filepath.Join(m.cfg.CollectionDir, ".tc", messageLogName)
	mlog, err := tc.NewMessageLog(path, tc.RealClock{})
	if err != nil {
		return nil, fmt.Errorf("opening message log: %w", err)
	}
	return mlog, nil
}

// HasCollection reports whether the local collection is a Team Collection
// (connected or disconnected).
func (m *Manager) HasCollection() bool { return m.collection != nil }

// Collection returns the active collection, or nil when the local
// collection is not a Team Collection.
func (m *Manager) Collection() tc.Collection { return m.collection }

// CurrentUser returns the configured team member identity.
func (m *Manager) CurrentUser() string { return m.cfg.User }

// CurrentMachine returns the configured machine identity.
func (m *Manager) CurrentMachine() string { return m.cfg.Machine }

// CollectionDir returns the local collection folder.
func (m *Manager) CollectionDir() string { return m.cfg.CollectionDir }

// Status returns the aggregate collection status for display.
func (m *Manager) Status() tc.CollectionStatus {
	if m.collection == nil {
		return tc.StatusNone
	}
	if m.collection.IsDisconnected() {
		return tc.StatusDisconnected
	}
	return m.log.Status()
}

// CreateCollection turns the local collection into a new Team Collection
// backed by a fresh folder repo, uploading all local books as the starting
// state. keyPassphrase, when non-empty, makes it an encrypted collection
// with a newly generated collection key.
func (m *Manager) CreateCollection(repoDir string, keyPassphrase string) ([]string, error) {
	if m.settings != nil {
		return nil, fmt.Errorf("collection is already a Team Collection")
	}
	if err := transport.CreateRepo(repoDir); err != nil {
		return nil, err
	}

	settings := &config.CollectionSettings{Type: "folder", RepoDir: repoDir}
	if keyPassphrase != "" {
		settings.Encrypted = true
		settings.KeyPath = filepath.Join(m.cfg.CollectionDir, ".tc", "collection.key")
		if err := encryption.GenerateKeyFile(settings.KeyPath, keyPassphrase); err != nil {
			return nil, err
		}
	}
	if err := config.WriteSettings(m.cfg.CollectionDir, settings); err != nil {
		return nil, err
	}

	return m.connectAndJoin(settings, keyPassphrase)
}

// JoinCollection connects the local collection to an existing repo and runs
// the first-time merge (repo wins on conflicts; local-only books upload).
func (m *Manager) JoinCollection(repoDir string, keyPassphrase string) ([]string, error) {
	if m.settings != nil {
		return nil, fmt.Errorf("collection is already a Team Collection")
	}

	settings := &config.CollectionSettings{Type: "folder", RepoDir: repoDir}
	keyName := "collection.key"
	// An encrypted repo is recognized by a shared key stub note; the key
	// itself arrives out-of-band into the local .tc folder.
	localKey := filepath.Join(m.cfg.CollectionDir, ".tc", keyName)
	if _, err := os.Stat(localKey); err == nil {
		settings.Encrypted = true
		settings.KeyPath = localKey
	}
	if err := config.WriteSettings(m.cfg.CollectionDir, settings); err != nil {
		return nil, err
	}

	return m.connectAndJoin(settings, keyPassphrase)
}

// connectAndJoin builds the live collection for freshly written settings and
// runs the first-time sync.
func (m *Manager) connectAndJoin(settings *config.CollectionSettings, passphrase string) ([]string, error) {
	m.settings = settings

	mlog, err := m.openMessageLog()
	if err != nil {
		return nil, err
	}
	m.log = mlog

	encryptor, err := encryption.NewEncryptorFromSettings(settings, passphrase)
	if err != nil {
		return nil, err
	}
	packer := archive.NewPacker(nil, encryptor)
	tp, err := transport.NewTransportFromSettings(settings, packer, m.logger, tc.RealClock{})
	if err != nil {
		return nil, err
	}
	if err := tp.ValidateSetup(); err != nil {
		return nil, err
	}

	if err := m.shareCollectionFiles(tp); err != nil {
		m.logger.Warn("syncing shared collection files", "err", err)
	}

	collection := tc.NewTeamCollection(tp, m.cfg.CollectionDir, m.cfg.User, m.cfg.Machine,
		mlog, m.logger, m.reporter, tc.RealClock{})
	m.collection = collection

	warnings := collection.SyncAtStartup(nil, true)
	return warnings, nil
}

// shareCollectionFiles exchanges collection-level settings files with the
// repo's shared area: top-level regular files upload, and shared files
// absent locally download. Books, dotfiles, and the settings pointer (it
// names local paths) never travel this way.
func (m *Manager) shareCollectionFiles(tp tc.RepoTransport) error {
	entries, err := os.ReadDir(m.cfg.CollectionDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name[0] == '.' || name == config.SettingsFileName {
			continue
		}
		if err := tp.PutCollectionFile(filepath.Join(m.cfg.CollectionDir, name)); err != nil {
			return err
		}
	}

	names, err := tp.ListCollectionFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == config.SettingsFileName {
			continue
		}
		local := filepath.Join(m.cfg.CollectionDir, name)
		if _, err := os.Stat(local); err == nil {
			continue
		}
		if err := tp.FetchCollectionFile(name, m.cfg.CollectionDir); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the manager's resources.
func (m *Manager) Close() error {
	if m.collection != nil {
		if err := m.collection.StopMonitoring(); err != nil {
			m.logger.Warn("stopping monitoring", "err", err)
		}
	}
	if m.logFile != nil {
		return m.logFile.Close()
	}
	return nil
}
