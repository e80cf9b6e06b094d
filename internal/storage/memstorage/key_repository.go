package memstorage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
)

// KeyRepository keeps key records in process memory. The mutex plays the
// role of the document store's per-document write serialisation.
type KeyRepository struct {
	mu   sync.RWMutex
	keys map[string]*redeemkey.Key
}

func NewKeyRepository() *KeyRepository {
	return &KeyRepository{
		keys: make(map[string]*redeemkey.Key),
	}
}

var _ redeemkey.Repository = (*KeyRepository)(nil)

func (r *KeyRepository) Bind(ctx context.Context, key, player string, defaults redeemkey.BindDefaults, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[key]
	if !ok {
		r.keys[key] = &redeemkey.Key{
			Key:       key,
			Owner:     redeemkey.Identity(player),
			Reward:    defaults.Reward,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return true, nil
	}

	if !existing.Owner.IsUnbound() {
		return false, ierr.ErrAlreadyBound
	}

	existing.Owner = redeemkey.Identity(player)
	existing.UpdatedAt = now
	return false, nil
}

func (r *KeyRepository) Unbind(ctx context.Context, key string, allowWildcard bool, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[key]
	if !ok {
		return ierr.ErrNotFound
	}

	switch existing.Owner.Kind() {
	case redeemkey.OwnerUnbound:
		return ierr.ErrNotBound
	case redeemkey.OwnerWildcard:
		if !allowWildcard {
			return ierr.ErrWildcardUnbindDenied
		}
	}

	existing.Owner = redeemkey.Unbound()
	existing.ExpireAt = nil
	existing.UpdatedAt = now
	existing.LastUnboundAt = &now
	return nil
}

func (r *KeyRepository) SetExpiry(ctx context.Context, key string, expireAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[key]
	if !ok {
		return ierr.ErrNotFound
	}
	if !existing.Owner.IsWildcard() {
		return ierr.ErrNotWildcard
	}

	existing.ExpireAt = &expireAt
	existing.UpdatedAt = now
	return nil
}

func (r *KeyRepository) FindByKey(ctx context.Context, key string) (*redeemkey.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	existing, ok := r.keys[key]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	return clone(existing), nil
}

func (r *KeyRepository) List(ctx context.Context) ([]*redeemkey.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]*redeemkey.Key, 0, len(r.keys))
	for _, k := range r.keys {
		keys = append(keys, clone(k))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })
	return keys, nil
}

func (r *KeyRepository) Create(ctx context.Context, k *redeemkey.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.keys[k.Key]; ok {
		return fmt.Errorf("%w: %s", ierr.ErrKeyExists, k.Key)
	}
	r.keys[k.Key] = clone(k)
	return nil
}

func clone(k *redeemkey.Key) *redeemkey.Key {
	c := *k
	if k.ExpireAt != nil {
		t := *k.ExpireAt
		c.ExpireAt = &t
	}
	if k.LastUnboundAt != nil {
		t := *k.LastUnboundAt
		c.LastUnboundAt = &t
	}
	return &c
}

// Ping always succeeds; it lets the repository stand in for a store
// connector in health checks.
func (r *KeyRepository) Ping(ctx context.Context) error { return nil }
