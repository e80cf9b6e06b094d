package redeemkey

import "time"

type Key struct {
	Key           string
	Owner         Owner
	Reward        string
	ExpireAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastUnboundAt *time.Time
}

// ExpiredAt reports whether the key is past its expiry at now. Validity is
// exclusive of the expiry instant: a key with ExpireAt == now is expired.
func (k *Key) ExpiredAt(now time.Time) bool {
	return k.ExpireAt != nil && !now.Before(*k.ExpireAt)
}

// Projection is the read model returned by a full listing.
type Projection struct {
	Owner    Owner
	Reward   string
	ExpireAt *time.Time
}

func (k *Key) Project() Projection {
	return Projection{
		Owner:    k.Owner,
		Reward:   k.Reward,
		ExpireAt: k.ExpireAt,
	}
}

// Inventory counts keys per lifecycle state.
type Inventory struct {
	Total           int
	Unbound         int
	Bound           int
	Wildcard        int
	ExpiredWildcard int
}
