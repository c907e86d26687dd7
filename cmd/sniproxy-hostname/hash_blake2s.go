//go:build hashed

package main

import (
	"encoding/base64"

	"golang.org/x/crypto/blake2s"
)

// transformName replaces the printed name with base64url-no-padding
// of a blake2s-256 digest of the ASCII hostname, so a listing of
// backend directories never reveals the hostnames they serve. The
// proxy's backend resolver must apply this identical transform
// before filesystem lookup when built with the hashed tag.
func transformName(asciiHostname string) string {
	sum := blake2s.Sum256([]byte(asciiHostname))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func hashedLongSuffix() string {
	return "\nThis build of sniproxy uses hashed hostnames."
}
