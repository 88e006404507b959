package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// AddressHashLen is the number of hex characters kept from the SHA-256
// digest when deriving ids. Together with the hash algorithm it is
// frozen: changing either invalidates every stored message id.
const AddressHashLen = 16

// ContentAddress computes a message id from its canonical tuple.
// The tuple is serialized as a JSON array in fixed field order, so
// identical input always yields the identical id regardless of which
// adapter produced it.
func ContentAddress(kind Kind, handle string, createdAtMS int64, content, platform, platformID string) string {
	tuple := []interface{}{int(kind), handle, createdAtMS, content, platform, platformID}
	data, _ := json.Marshal(tuple)
	return HashPrefix(string(data))
}

// HashPrefix returns the first AddressHashLen hex characters of the
// SHA-256 digest of s. Email-derived thread ids use the same prefix so
// every derived id shares one address space.
func HashPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:AddressHashLen]
}
