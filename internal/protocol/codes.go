package protocol

// ErrorCode is the single byte carried by every *Failed message.
type ErrorCode byte

const (
	InvalidPayload   ErrorCode = 0
	NotLoggedIn      ErrorCode = 1
	DatabaseError    ErrorCode = 2
	TargetNotFound   ErrorCode = 3
	AlreadyRelated   ErrorCode = 4
	NoPendingRequest ErrorCode = 5
)

func (c ErrorCode) String() string {
	switch c {
	case InvalidPayload:
		return "InvalidPayload"
	case NotLoggedIn:
		return "NotLoggedIn"
	case DatabaseError:
		return "DatabaseError"
	case TargetNotFound:
		return "TargetNotFound"
	case AlreadyRelated:
		return "AlreadyRelated"
	case NoPendingRequest:
		return "NoPendingRequest"
	}
	return "Unknown"
}
