// Package encryption implements the optional at-rest encryption of book
// archive entries for encrypted collections. Every team member holds the
// same collection key file, distributed out-of-band; the key file itself is
// protected with a passphrase.
package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"tc-go/internal/tc"
)

// AgeEncryptor implements tc.Encryptor using filippo.io/age with a shared
// X25519 collection identity. The identity is stored in the key file
// encrypted with the passphrase using age's scrypt-based passphrase
// encryption; once unlocked it covers both directions, since members both
// read and write the shared artifacts.
type AgeEncryptor struct {
	identity  *age.X25519Identity
	recipient age.Recipient
}

var _ tc.Encryptor = (*AgeEncryptor)(nil)

// GenerateKeyFile creates a new collection identity and writes it to path,
// passphrase-protected. Called once when an encrypted collection is created;
// the resulting file is what members share out-of-band.
func GenerateKeyFile(path string, passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating collection key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	defer f.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted key: %w", err)
	}
	return nil
}

// OpenKeyFile unlocks the collection key at path with the passphrase and
// returns a ready AgeEncryptor. Returns an error if the passphrase is
// incorrect.
func OpenKeyFile(path string, passphrase string) (*AgeEncryptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	dec, err := age.Decrypt(bytes.NewReader(data), scrypt)
	if err != nil {
		return nil, fmt.Errorf("unlocking key file: %w", err)
	}
	keyData, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("reading unlocked key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing collection key: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return &AgeEncryptor{identity: x, recipient: x.Recipient()}, nil
		}
	}
	return nil, fmt.Errorf("no usable identity in key file")
}

// Encrypt reads plaintext from r and writes age ciphertext to w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	ew, err := age.Encrypt(w, e.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(ew, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt reads age ciphertext from r and writes plaintext to w.
func (e *AgeEncryptor) Decrypt(r io.Reader, w io.Writer) error {
	dr, err := age.Decrypt(r, e.identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, dr); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
