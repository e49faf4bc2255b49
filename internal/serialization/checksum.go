package serialization

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// Checksum is the SHA-256 of a .born data section.
type Checksum = [sha256.Size]byte

// ComputeChecksum returns the checksum of data.
func ComputeChecksum(data []byte) Checksum {
	return sha256.Sum256(data)
}

// ComputeChecksumReader hashes r until EOF.
func ComputeChecksumReader(r io.Reader) (Checksum, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Checksum{}, err
	}
	return Checksum(h.Sum(nil)), nil
}

// ValidateChecksum compares the checksum computed over the data section with
// the one stored in the file.
func ValidateChecksum(computed, stored Checksum) error {
	if computed == stored {
		return nil
	}
	return fmt.Errorf("%w: data %x..., header %x...", ErrChecksumMismatch, computed[:4], stored[:4])
}
