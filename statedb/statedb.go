package statedb

import (
	"bytes"
	"math/big"
	"path/filepath"
	"sync"

	"github.com/ahadb/ahadb/crypto"
	"github.com/ahadb/ahadb/trie"
)

const codeFileName = "code"

const defaultCodeCacheSize = 8 << 20

// StateDB composes an accounts trie (keyed by address hash) with a
// per-account storage trie opened from that account's StorageRoot, and
// a content-addressed code store, mirroring the Ethereum world-state
// layering: one trie of accounts, each pointing at its own trie of
// storage slots.
type StateDB struct {
	mu       sync.Mutex
	accounts *trie.DB
	code     *CodeStore
}

// Open opens or creates a state database rooted at dir.
func Open(dir string, cfg trie.Config) (*StateDB, error) {
	accounts, err := trie.Open(dir, cfg)
	if err != nil {
		return nil, err
	}
	codeCache := cfg.PageCacheSize
	if codeCache <= 0 {
		codeCache = defaultCodeCacheSize
	}
	code, err := OpenCodeStore(filepath.Join(dir, codeFileName), codeCache, cfg.Truncate)
	if err != nil {
		accounts.Close()
		return nil, err
	}
	return &StateDB{accounts: accounts, code: code}, nil
}

// addrKey is the accounts trie key for an address: its Keccak-256 hash,
// the "secure trie" convention that keeps the trie balanced regardless
// of how addresses are chosen.
func addrKey(addr []byte) []byte {
	return crypto.Keccak256(addr)
}

// GetAccount returns the account at addr, or ok=false if none exists.
func (s *StateDB) GetAccount(addr []byte) (*Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getAccountLocked(addr)
}

func (s *StateDB) getAccountLocked(addr []byte) (*Account, bool, error) {
	b, ok, err := s.accounts.Get(addrKey(addr))
	if err != nil || !ok {
		return nil, ok, err
	}
	a, err := DecodeAccount(b)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// GetStorage looks up key in addr's storage trie, as of the account's
// currently committed StorageRoot.
func (s *StateDB) GetStorage(addr, key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok, err := s.getAccountLocked(addr)
	if err != nil || !ok {
		return nil, false, err
	}
	st := trie.Open(s.accounts.Store(), a.StorageRoot)
	return st.Get(key)
}

// GetCode returns the contract bytecode for addr, or ok=false if the
// account has no code (an externally-owned account).
func (s *StateDB) GetCode(addr []byte) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok, err := s.getAccountLocked(addr)
	if err != nil || !ok {
		return nil, false, err
	}
	if bytes.Equal(a.CodeHash, EmptyCodeHash[:]) {
		return nil, false, nil
	}
	var hash crypto.Hash
	copy(hash[:], a.CodeHash)
	return s.code.Get(hash)
}

// Flush durably syncs the accounts trie and the code store.
func (s *StateDB) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.accounts.Flush(); err != nil {
		return err
	}
	return s.code.Flush()
}

// Close flushes and closes every underlying file.
func (s *StateDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.accounts.Close(); err != nil {
		return err
	}
	return s.code.Close()
}

// NewBatch starts a batch of account, storage, and code mutations
// against the database's current root.
func (s *StateDB) NewBatch() *StateBatch {
	return &StateBatch{
		db:            s,
		wb:            s.accounts.NewWriteBatch(),
		touched:       make(map[string]*trie.Trie),
		accountsCache: make(map[string]*Account),
	}
}

// StateBatch stages account, storage, and code changes, none of which
// are visible to readers until Commit. Every touched storage trie is
// committed first so each staged account's StorageRoot is up to date
// before the accounts trie itself is committed.
type StateBatch struct {
	db            *StateDB
	wb            *trie.WriteBatch
	touched       map[string]*trie.Trie
	accountsCache map[string]*Account
	err           error
}

func (b *StateBatch) account(addr []byte) (*Account, error) {
	k := string(addr)
	if a, ok := b.accountsCache[k]; ok {
		return a, nil
	}
	a, ok, err := b.db.getAccountLocked(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		a = NewAccount()
	}
	b.accountsCache[k] = a
	return a, nil
}

func (b *StateBatch) storageTrie(addr []byte, a *Account) *trie.Trie {
	k := string(addr)
	if st, ok := b.touched[k]; ok {
		return st
	}
	st := trie.Open(b.db.accounts.Store(), a.StorageRoot)
	b.touched[k] = st
	return st
}

// SetNonce stages addr's nonce, creating the account if it does not
// already exist.
func (b *StateBatch) SetNonce(addr []byte, nonce uint64) {
	if b.err != nil {
		return
	}
	a, err := b.account(addr)
	if err != nil {
		b.err = err
		return
	}
	a.Nonce = nonce
}

// SetBalance stages addr's balance, creating the account if it does not
// already exist.
func (b *StateBatch) SetBalance(addr []byte, balance *big.Int) {
	if b.err != nil {
		return
	}
	a, err := b.account(addr)
	if err != nil {
		b.err = err
		return
	}
	a.Balance = balance
}

// SetCode stages addr's contract bytecode, storing it in the code store
// and pointing the account at its hash.
func (b *StateBatch) SetCode(addr, code []byte) {
	if b.err != nil {
		return
	}
	a, err := b.account(addr)
	if err != nil {
		b.err = err
		return
	}
	hash, err := b.db.code.Put(code)
	if err != nil {
		b.err = err
		return
	}
	a.CodeHash = append([]byte{}, hash[:]...)
}

// SetStorage stages a storage slot write for addr, creating the account
// if it does not already exist.
func (b *StateBatch) SetStorage(addr, key, value []byte) {
	if b.err != nil {
		return
	}
	a, err := b.account(addr)
	if err != nil {
		b.err = err
		return
	}
	st := b.storageTrie(addr, a)
	if err := st.Insert(key, value, nil); err != nil {
		b.err = err
	}
}

// DeleteStorage removes a storage slot for addr, creating the account
// if it does not already exist.
func (b *StateBatch) DeleteStorage(addr, key []byte) {
	if b.err != nil {
		return
	}
	a, err := b.account(addr)
	if err != nil {
		b.err = err
		return
	}
	st := b.storageTrie(addr, a)
	if err := st.Delete(key); err != nil {
		b.err = err
	}
}

// Commit commits every touched storage trie, then the accounts trie
// itself, and returns the CleanPtr of the new accounts root.
func (b *StateBatch) Commit() (trie.CleanPtr, error) {
	if b.err != nil {
		return 0, b.err
	}
	for addrStr, st := range b.touched {
		root, _, err := st.Commit()
		if err != nil {
			return 0, err
		}
		b.accountsCache[addrStr].StorageRoot = root
	}
	for addrStr, a := range b.accountsCache {
		enc, err := a.Encode()
		if err != nil {
			return 0, err
		}
		b.wb.Insert(addrKey([]byte(addrStr)), enc)
	}
	return b.wb.Commit()
}
