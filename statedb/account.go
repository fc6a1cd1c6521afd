// Package statedb composes two layers of trie: an accounts trie keyed
// by the Keccak-256 of an address, and one per-account storage trie
// opened lazily from the account's StorageRoot, the "secure trie"
// convention Ethereum clients use so that keys are uniformly
// distributed regardless of caller-chosen addresses.
package statedb

import (
	"math/big"

	"github.com/ahadb/ahadb/crypto"
	"github.com/ahadb/ahadb/rlp"
	"github.com/ahadb/ahadb/trie"
)

// Account is the value stored in the accounts trie, RLP-encoded exactly
// as Ethereum's yellow paper defines: [nonce, balance, storageRoot,
// codeHash]. StorageRoot is the CleanPtr of the account's storage
// trie's root in the same node store the accounts trie lives in, not a
// hash: unlike the canonical Ethereum layout, this is an internal
// pointer private to one database instance, never a portable value.
type Account struct {
	Nonce       uint64
	Balance     *big.Int
	StorageRoot trie.CleanPtr
	CodeHash    []byte
}

// EmptyCodeHash is the Keccak-256 hash of the empty byte string, the
// CodeHash of an account with no associated contract code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// NewAccount returns a fresh account with zero nonce/balance, no
// storage, and no code.
func NewAccount() *Account {
	return &Account{
		Balance:  new(big.Int),
		CodeHash: append([]byte{}, EmptyCodeHash[:]...),
	}
}

// Encode returns the canonical RLP encoding of the account.
func (a *Account) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(accountWire{
		Nonce:       a.Nonce,
		Balance:     a.Balance,
		StorageRoot: a.StorageRoot,
		CodeHash:    a.CodeHash,
	})
}

// DecodeAccount parses an account previously produced by Encode.
func DecodeAccount(b []byte) (*Account, error) {
	var w accountWire
	if err := rlp.DecodeBytes(b, &w); err != nil {
		return nil, err
	}
	return &Account{
		Nonce:       w.Nonce,
		Balance:     w.Balance,
		StorageRoot: w.StorageRoot,
		CodeHash:    w.CodeHash,
	}, nil
}

// accountWire is the flat struct RLP actually encodes/decodes.
type accountWire struct {
	Nonce       uint64
	Balance     *big.Int
	StorageRoot trie.CleanPtr
	CodeHash    []byte
}
