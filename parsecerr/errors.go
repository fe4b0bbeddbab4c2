// Package parsecerr defines the six error kinds of §7 surfaced by the sync
// core to its callers (the mountpoint layer, userfs, workspacefs). Every
// layer below wraps the underlying cause with github.com/pkg/errors but
// never discards one of these sentinels, so callers can always recover the
// kind with errors.Is.
package parsecerr

import "github.com/pkg/errors"

// Kind is one of the six error kinds §7 requires the core to expose.
type Kind int

const (
	// Offline means the realm service is unreachable.
	Offline Kind = iota + 1
	// InMaintenance means the realm is being reencrypted.
	InMaintenance
	// NoAccess means a role check failed (includes SharingNotAllowed).
	NoAccess
	// RemoteSync means a concurrent write raced this one (version or
	// vlob-create conflict).
	RemoteSync
	// BadEncryptionRevision means the server crossed a maintenance
	// boundary the client's request predates.
	BadEncryptionRevision
	// Crypto means signature, digest or schema verification failed.
	Crypto
)

func (k Kind) String() string {
	switch k {
	case Offline:
		return "offline"
	case InMaintenance:
		return "in_maintenance"
	case NoAccess:
		return "no_access"
	case RemoteSync:
		return "remote_sync"
	case BadEncryptionRevision:
		return "bad_encryption_revision"
	case Crypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// Error is the concrete type wrapping a Kind with a cause and message, the
// single error type every package in this module returns for the cases
// enumerated in §7.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}

	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, parsecerr.Offline) (etc, via the Kind sentinels
// below) work without exposing *Error's fields to every caller.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

// Sentinel values usable with errors.Is(err, parsecerr.ErrOffline) and
// friends.
var (
	ErrOffline                = kindSentinel(Offline)
	ErrInMaintenance          = kindSentinel(InMaintenance)
	ErrNoAccess               = kindSentinel(NoAccess)
	ErrRemoteSync             = kindSentinel(RemoteSync)
	ErrBadEncryptionRevision  = kindSentinel(BadEncryptionRevision)
	ErrCrypto                 = kindSentinel(Crypto)
)

func (k kindSentinel) Error() string { return Kind(k).String() }

// New builds an *Error of the given kind wrapping cause, with msg for
// context (matching the errors.Wrap idiom used across this module).
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Wrap is New with an errors.Wrap-style formatted message.
func Wrap(kind Kind, cause error, msg string) *Error {
	return New(kind, msg, cause)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kindSentinel(kind))
}
