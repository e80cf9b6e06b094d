package dto

import (
	"time"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/service"
)

type BindKeyRequest struct {
	Key      string `json:"key" binding:"required"`
	PlayerID string `json:"playerId" binding:"required"`
}

type UnbindKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

type ValidateKeyRequest struct {
	Key      string `json:"key" binding:"required"`
	PlayerID string `json:"playerId" binding:"required"`
}

type SetExpiryRequest struct {
	ExpireTime *time.Time `json:"expiretime" binding:"required"`
}

type ProvisionKeyRequest struct {
	Key        string     `json:"key" binding:"required"`
	Owner      string     `json:"owner" binding:"required,oneof=unbound wildcard"`
	Reward     string     `json:"reward"`
	ExpireTime *time.Time `json:"expiretime"`
}

// ToService converts the request; binding has already restricted Owner.
func (r *ProvisionKeyRequest) ToService() service.ProvisionRequest {
	owner := redeemkey.Unbound()
	if r.Owner == redeemkey.OwnerWildcard.String() {
		owner = redeemkey.Wildcard()
	}
	return service.ProvisionRequest{
		Key:      r.Key,
		Owner:    owner,
		Reward:   r.Reward,
		ExpireAt: r.ExpireTime,
	}
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BindKeyResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Key      string `json:"key"`
	PlayerID string `json:"playerid"`
	Created  bool   `json:"created"`
}

type ValidateKeyResponse struct {
	Valid      bool       `json:"valid"`
	Key        string     `json:"key"`
	Reward     string     `json:"reward"`
	Wildcard   bool       `json:"wildcard"`
	ExpireTime *time.Time `json:"expiretime,omitempty"`
}

func NewValidateKeyResponse(res *service.ValidationResult) *ValidateKeyResponse {
	return &ValidateKeyResponse{
		Valid:      true,
		Key:        res.Key,
		Reward:     res.Reward,
		Wildcard:   res.Wildcard,
		ExpireTime: res.ExpireAt,
	}
}

// KeyListEntry is one value of the key listing, keyed by key string.
type KeyListEntry struct {
	PlayerID   string     `json:"playerid"`
	Reward     string     `json:"reward"`
	ExpireTime *time.Time `json:"expiretime,omitempty"`
}

func NewKeyListResponse(keys map[string]redeemkey.Projection, sentinels redeemkey.Sentinels) map[string]KeyListEntry {
	resp := make(map[string]KeyListEntry, len(keys))
	for key, p := range keys {
		resp[key] = KeyListEntry{
			PlayerID:   sentinels.Format(p.Owner),
			Reward:     p.Reward,
			ExpireTime: p.ExpireAt,
		}
	}
	return resp
}

type KeyResponse struct {
	Key        string     `json:"key"`
	PlayerID   string     `json:"playerid"`
	OwnerKind  string     `json:"ownerKind"`
	Reward     string     `json:"reward"`
	ExpireTime *time.Time `json:"expiretime,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	LastUnbind *time.Time `json:"lastUnbind,omitempty"`
}

func NewKeyResponse(k *redeemkey.Key, sentinels redeemkey.Sentinels) *KeyResponse {
	return &KeyResponse{
		Key:        k.Key,
		PlayerID:   sentinels.Format(k.Owner),
		OwnerKind:  k.Owner.Kind().String(),
		Reward:     k.Reward,
		ExpireTime: k.ExpireAt,
		CreatedAt:  k.CreatedAt,
		UpdatedAt:  k.UpdatedAt,
		LastUnbind: k.LastUnboundAt,
	}
}
