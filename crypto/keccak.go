// Package crypto provides the hash primitive used throughout the store:
// Keccak-256, exactly as Ethereum defines it (not the later NIST SHA-3
// variant).
package crypto

import "golang.org/x/crypto/sha3"

// HashLength is the size in bytes of a Keccak-256 digest.
const HashLength = 32

// Hash is a 32-byte Keccak-256 digest.
type Hash [HashLength]byte

// BytesToHash copies b into a Hash, truncating on the left if b is longer
// than HashLength and zero-padding on the left if it is shorter.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// Bytes returns the hash as a newly allocated byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// Keccak256 hashes the concatenation of data and returns the digest.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash hashes the concatenation of data and returns it as a Hash.
func Keccak256Hash(data ...[]byte) Hash {
	return BytesToHash(Keccak256(data...))
}
