package redeemkey

import (
	"context"
	"time"
)

// BindDefaults are the fields written only when Bind creates the record.
type BindDefaults struct {
	Reward string
}

// Repository persists key records. Every mutating method is a single atomic
// conditional write; failures are reported with the ierr lifecycle errors.
type Repository interface {
	// Bind sets the owner to player if the key is absent or unbound.
	// Returns ierr.ErrAlreadyBound when the key has any other owner.
	Bind(ctx context.Context, key, player string, defaults BindDefaults, now time.Time) (created bool, err error)
	// Unbind releases a bound key. Wildcard keys are released only when
	// allowWildcard is set.
	Unbind(ctx context.Context, key string, allowWildcard bool, now time.Time) error
	// SetExpiry updates the expiry of a wildcard key.
	SetExpiry(ctx context.Context, key string, expireAt, now time.Time) error
	FindByKey(ctx context.Context, key string) (*Key, error)
	List(ctx context.Context) ([]*Key, error)
	// Create inserts a new record, failing with ierr.ErrKeyExists on duplicates.
	Create(ctx context.Context, k *Key) error
}
