// Package hostname canonicalizes a TLS SNI server_name into a
// filesystem-safe, traversal-resistant relative path component, and
// maps that name to the directory the backend resolver looks up. The
// sniproxy-hostname CLI helper does not import this package; it
// carries its own copy of the lookup transform.
package hostname

// maxNameLength is RFC 1035's 255-octet limit minus the trailing dot
// RFC 6066 prohibits. Enforcing it up front means a client can never
// make the proxy buffer a hostname it will never be able to match.
const maxNameLength = 254

// Canonicalize validates raw byte by byte and returns the lowercase,
// dot/dash-validated name. The second return value is false if raw
// does not canonicalize to a safe name at all (empty, traversal, a
// label starting with '.' or '-', a trailing '.', any byte outside
// [a-z0-9.-] after ASCII case folding). A '-' at the end of a label is
// accepted.
//
// This does not enforce per-label (63 octet) or stricter DNS length
// limits; those are unnecessary for routing lookups and are left to
// whatever created the backend directory.
func Canonicalize(raw []byte) (string, bool) {
	if len(raw) == 0 || len(raw) > maxNameLength {
		return "", false
	}

	out := make([]byte, len(raw))
	startOfLabel := true

	for i, b := range raw {
		if b >= 'A' && b <= 'Z' {
			b = b - 'A' + 'a'
		}

		if startOfLabel && (b == '-' || b == '.') {
			return "", false
		}
		startOfLabel = b == '.'

		switch {
		case b >= 'a' && b <= 'z', b >= '0' && b <= '9', b == '-', b == '.':
			out[i] = b
		default:
			return "", false
		}
	}

	// Expecting a new label after the last byte means the name was
	// empty or ended in a dot; neither is a valid filesystem name.
	if startOfLabel {
		return "", false
	}

	return string(out), true
}
