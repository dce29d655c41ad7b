package purchase

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprinter derives a stable, keyed digest of a card so sales can be
// correlated without the card number ever reaching the event store.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter accepts keys of up to 64 bytes. An empty key yields an
// unkeyed digest.
func NewFingerprinter(key []byte) (*Fingerprinter, error) {
	if _, err := blake2b.New256(key); err != nil {
		return nil, fmt.Errorf("invalid fingerprint key: %w", err)
	}
	return &Fingerprinter{key: append([]byte(nil), key...)}, nil
}

func (f *Fingerprinter) Fingerprint(card CardDetails) string {
	h, _ := blake2b.New256(f.key)
	h.Write([]byte(card.Number))
	h.Write([]byte{0})
	h.Write([]byte(card.Expiry))
	return hex.EncodeToString(h.Sum(nil))
}
