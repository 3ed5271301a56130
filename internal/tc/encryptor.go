package tc

import "io"

// Encryptor handles at-rest encryption of book archive entry contents for
// encrypted collections. Every member holds the same shared collection key,
// so one seam covers both directions. Entry names and the status blob stay
// cleartext; only entry payloads pass through the encryptor.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}
