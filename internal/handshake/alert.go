package handshake

// Kind is the closed set of error kinds the proxy distinguishes. Each
// kind doubles as a TLS alert description byte.
type Kind int

const (
	UnexpectedMessage Kind = iota
	RecordOverflow
	DecodeError
	InternalError
	UserCanceled
	UnrecognizedName
)

// code returns the on-wire AlertDescription byte for this Kind.
func (k Kind) code() byte {
	switch k {
	case UnexpectedMessage:
		return 10
	case RecordOverflow:
		return 22
	case DecodeError:
		return 50
	case InternalError:
		return 80
	case UserCanceled:
		return 90
	case UnrecognizedName:
		return 112
	default:
		return 80
	}
}

func (k Kind) String() string {
	switch k {
	case UnexpectedMessage:
		return "unexpected_message"
	case RecordOverflow:
		return "record_overflow"
	case DecodeError:
		return "decode_error"
	case InternalError:
		return "internal_error"
	case UserCanceled:
		return "user_canceled"
	case UnrecognizedName:
		return "unrecognized_name"
	default:
		return "internal_error"
	}
}

// AlertError is a TLS-fatal-alert-carrying error. It bubbles up from
// the Handshake Reader and ClientHello Parser to the connection
// handler, which is the only place it gets written to the wire.
type AlertError struct {
	kind Kind
}

// NewAlertError wraps kind as an error.
func NewAlertError(kind Kind) *AlertError {
	return &AlertError{kind: kind}
}

func (e *AlertError) Error() string {
	return "tls alert: " + e.kind.String()
}

// Code returns the single-byte AlertDescription to place in the fatal
// alert record written to the client.
func (e *AlertError) Code() byte {
	return e.kind.code()
}

// Kind returns the underlying error kind.
func (e *AlertError) Kind() Kind {
	return e.kind
}
