package session

import "errors"

var (
	// ErrInvalidKey is returned when a session key is empty or too long
	ErrInvalidKey = errors.New("invalid session key")

	// ErrInvalidParams is returned when a request parameter is missing or malformed
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrNotFound is returned when an operation requires a session that does not exist
	ErrNotFound = errors.New("session not found")

	// ErrReservedSession is returned when deleting the reserved main session
	ErrReservedSession = errors.New("session is reserved")

	// ErrLockContention is returned when another writer holds the session log lock
	ErrLockContention = errors.New("session log is locked by another writer")

	// ErrStorage is returned for filesystem failures
	ErrStorage = errors.New("session storage failure")

	// ErrMalformedRecord describes a log line that failed to parse. Reads skip such
	// lines, so it only appears in logs.
	ErrMalformedRecord = errors.New("malformed session record")
)

// Kind classifies session errors so callers can react without matching messages.
type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindReserved        Kind = "reserved"
	KindLockContention  Kind = "lock_contention"
	KindStorage         Kind = "storage"
	KindMalformedRecord Kind = "malformed_record"
)

// KindOf returns the Kind of err, looking through wrapped errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrInvalidParams):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrReservedSession):
		return KindReserved
	case errors.Is(err, ErrLockContention):
		return KindLockContention
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformedRecord
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}
