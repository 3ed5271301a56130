package encryption

import (
	"fmt"

	"tc-go/internal/config"
	"tc-go/internal/tc"
)

// NewEncryptorFromSettings returns the encryptor for a collection, or nil
// for cleartext collections. passphrase unlocks the collection key file and
// is only consulted when the collection is encrypted.
func NewEncryptorFromSettings(s *config.CollectionSettings, passphrase string) (tc.Encryptor, error) {
	if !s.Encrypted {
		return nil, nil
	}
	if s.KeyPath == "" {
		return nil, fmt.Errorf("encrypted collection requires key_path to be set")
	}
	enc, err := OpenKeyFile(s.KeyPath, passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening collection key: %w", err)
	}
	return enc, nil
}
