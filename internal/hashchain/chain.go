package hashchain

import (
	"fmt"
)

// GenesisHash is the sentinel previous_hash of the first entry in any chain.
const GenesisHash = "genesis"

// EntryHashLen is the hex length of a chain entry_hash, per the audit trail
// format in the data model (distinct from the 16-hex artifact content hashes
// produced by ShortHash).
const EntryHashLen = 32

// Entry is one link in a hash chain: a previous-hash reference plus the hash
// of this entry's own canonical payload. It holds no business fields itself —
// callers (the Intervenor's AuditEntry, principally) embed Entry's hashes
// alongside their own payload fields.
type Entry struct {
	PreviousHash string
	EntryHash    string
}

// First computes the Entry for the first payload in a chain: its
// PreviousHash is always GenesisHash.
func First(payload any) (Entry, error) {
	return link(GenesisHash, payload)
}

// Append computes the Entry for payload given the previous entry in the
// chain. A canonicalization or hashing failure is fatal to the caller — there
// is no partial chain.
func Append(payload any, prev Entry) (Entry, error) {
	return link(prev.EntryHash, payload)
}

func link(previousHash string, payload any) (Entry, error) {
	canon, err := Canonicalize(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("hashchain: link: %w", err)
	}
	combined := append([]byte(previousHash), canon...)
	return Entry{
		PreviousHash: previousHash,
		EntryHash:    Digest(combined)[:EntryHashLen],
	}, nil
}

// Linked is anything that can report its own chain linkage and the payload
// it was computed over, so Verify can work over a caller-defined slice type
// (e.g. intervention.AuditEntry) without this package knowing its fields.
type Linked interface {
	ChainLink() (previousHash, entryHash string, payload any)
}

// Verify recomputes every entry_hash in chain, in order, checking both the
// previous_hash linkage and the recomputed hash against the stored one. It
// never mutates. On success it returns (true, -1); on the first broken link
// it returns (false, index) — the index of the first entry that fails to
// verify, per the audit trail's tamper-evidence invariant.
func Verify(chain []Linked) (bool, int) {
	expectedPrev := GenesisHash
	for i, e := range chain {
		prevHash, entryHash, payload := e.ChainLink()
		if prevHash != expectedPrev {
			return false, i
		}
		recomputed, err := link(prevHash, payload)
		if err != nil || recomputed.EntryHash != entryHash {
			return false, i
		}
		expectedPrev = entryHash
	}
	return true, -1
}
