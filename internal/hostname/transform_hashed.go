//go:build hashed

package hostname

import (
	"encoding/base64"

	"golang.org/x/crypto/blake2s"
)

// LookupName hashes the canonical name exactly as cmd/sniproxy-hostname
// does in its hashed build, so the directory the resolver probes
// matches the name the operator's hashed-build CLI printed when
// creating it.
func LookupName(canonical string) string {
	sum := blake2s.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
