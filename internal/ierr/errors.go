package ierr

import "errors"

// Key lifecycle outcomes. These are expected results, returned as values.
var (
	ErrNotFound             = errors.New("key not found")
	ErrAlreadyBound         = errors.New("key is already bound")
	ErrNotBound             = errors.New("key is not bound")
	ErrNotBoundToIdentity   = errors.New("key is not bound to this player")
	ErrExpired              = errors.New("key has expired")
	ErrNotWildcard          = errors.New("key is not a wildcard key")
	ErrWildcardUnbindDenied = errors.New("wildcard keys cannot be unbound")
	ErrKeyExists            = errors.New("key already exists")
	ErrStoreUnavailable     = errors.New("key store unavailable")
	ErrInvalidArgument      = errors.New("invalid argument")
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrInternalServer = errors.New("internal server error")
)

var lifecycle = []error{
	ErrNotFound,
	ErrAlreadyBound,
	ErrNotBound,
	ErrNotBoundToIdentity,
	ErrExpired,
	ErrNotWildcard,
	ErrWildcardUnbindDenied,
	ErrKeyExists,
	ErrStoreUnavailable,
	ErrInvalidArgument,
}

// IsLifecycle reports whether err carries one of the named key lifecycle outcomes.
func IsLifecycle(err error) bool {
	for _, target := range lifecycle {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
