// Package clienthello extracts the first server_name of host_name
// type from a TLS ClientHello, reading only through a handshake.Reader
// so the underlying bytes never have to be materialized as a single
// message.
//
// Every structural advance decrements the budget of its enclosing
// scope; a budget that would go negative is a decode_error.
package clienthello

import (
	"sniproxy/internal/handshake"
	"sniproxy/internal/hostname"
)

const (
	handshakeTypeClientHello = 0x01
	extensionServerName      = 0x0000
	nameTypeHostName         = 0
)

// ParseServerName reads a single ClientHello from r and returns its
// canonical server name, or an AlertError describing why none could
// be produced.
func ParseServerName(r *handshake.Reader) (string, *handshake.AlertError) {
	msgType, aerr := r.ReadByte()
	if aerr != nil {
		return "", aerr
	}
	if msgType != handshakeTypeClientHello {
		return "", handshake.NewAlertError(handshake.UnexpectedMessage)
	}

	helloLength, aerr := r.ReadUint(3)
	if aerr != nil {
		return "", aerr
	}
	budget := helloLength

	// legacy_version (2) + random (32)
	if aerr := r.Skip(34, &budget); aerr != nil {
		return "", aerr
	}

	if aerr := skipVariable(r, &budget, 1); aerr != nil {
		return "", aerr
	}
	if aerr := skipVariable(r, &budget, 2); aerr != nil {
		return "", aerr
	}
	if aerr := skipVariable(r, &budget, 1); aerr != nil {
		return "", aerr
	}

	// section 4.1.2: presence of extensions is detected by whether any
	// bytes remain after legacy_compression_methods. Treat "no
	// extensions" as "SNI absent".
	if budget == 0 {
		return "", handshake.NewAlertError(handshake.UnrecognizedName)
	}

	if aerr := handshake.CheckBudget(2, &budget); aerr != nil {
		return "", aerr
	}
	extListLen, aerr := r.ReadUint(2)
	if aerr != nil {
		return "", aerr
	}
	// The ClientHello ends immediately after the extensions block.
	if extListLen != budget {
		return "", handshake.NewAlertError(handshake.DecodeError)
	}

	for budget > 0 {
		if aerr := handshake.CheckBudget(4, &budget); aerr != nil {
			return "", aerr
		}
		extType, aerr := r.ReadUint(2)
		if aerr != nil {
			return "", aerr
		}
		extLen, aerr := r.ReadUint(2)
		if aerr != nil {
			return "", aerr
		}

		if extType != extensionServerName {
			if aerr := r.Skip(extLen, &budget); aerr != nil {
				return "", aerr
			}
			continue
		}

		if aerr := handshake.CheckBudget(extLen, &budget); aerr != nil {
			return "", aerr
		}

		name, aerr := parseServerNameExtension(r, extLen)
		if aerr != nil {
			return "", aerr
		}
		return name, nil
	}

	// Either there was no server_name extension at all, or it was
	// present but contained no usable host_name entry.
	return "", handshake.NewAlertError(handshake.UnrecognizedName)
}

// skipVariable reads a length field of lengthBytes (1 or 2) from the
// handshake stream, decrements budget for the length field itself,
// then skips the indicated number of following bytes.
func skipVariable(r *handshake.Reader, budget *int, lengthBytes int) *handshake.AlertError {
	if aerr := handshake.CheckBudget(lengthBytes, budget); aerr != nil {
		return aerr
	}
	length, aerr := r.ReadUint(lengthBytes)
	if aerr != nil {
		return aerr
	}
	return r.Skip(length, budget)
}

// parseServerNameExtension walks the server_name_list within a
// server_name extension of extLen bytes, returning the first
// canonicalized host_name entry. Per RFC 6066 §3 the list MUST NOT
// contain two entries of the same name_type, so the first host_name
// found is the only one worth extracting.
func parseServerNameExtension(r *handshake.Reader, extLen int) (string, *handshake.AlertError) {
	listBudget := extLen

	if aerr := handshake.CheckBudget(2, &listBudget); aerr != nil {
		return "", aerr
	}
	listLen, aerr := r.ReadUint(2)
	if aerr != nil {
		return "", aerr
	}
	if listLen != listBudget {
		return "", handshake.NewAlertError(handshake.DecodeError)
	}

	for listBudget > 0 {
		if aerr := handshake.CheckBudget(3, &listBudget); aerr != nil {
			return "", aerr
		}
		nameType, aerr := r.ReadUint(1)
		if aerr != nil {
			return "", aerr
		}
		nameLength, aerr := r.ReadUint(2)
		if aerr != nil {
			return "", aerr
		}

		if byte(nameType) != nameTypeHostName {
			if aerr := r.Skip(nameLength, &listBudget); aerr != nil {
				return "", aerr
			}
			continue
		}

		if aerr := handshake.CheckBudget(nameLength, &listBudget); aerr != nil {
			return "", aerr
		}

		if nameLength > 254 {
			return "", handshake.NewAlertError(handshake.UnrecognizedName)
		}

		raw := make([]byte, nameLength)
		for i := 0; i < nameLength; i++ {
			b, aerr := r.ReadByte()
			if aerr != nil {
				return "", aerr
			}
			raw[i] = b
		}

		name, ok := hostname.Canonicalize(raw)
		if !ok {
			return "", handshake.NewAlertError(handshake.UnrecognizedName)
		}
		return name, nil
	}

	return "", handshake.NewAlertError(handshake.UnrecognizedName)
}
