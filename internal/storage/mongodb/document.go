package mongodb

import (
	"fmt"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"go.mongodb.org/mongo-driver/bson"
)

// Field names match the documents written by earlier versions of the service.
const (
	fieldKey        = "key"
	fieldOwner      = "playerid"
	fieldReward     = "reward"
	fieldExpireTime = "expiretime"
	fieldCreatedAt  = "createdAt"
	fieldUpdatedAt  = "updatedAt"
	fieldLastUnbind = "lastUnbind"
)

type keyDocument struct {
	Key        string     `bson:"key"`
	PlayerID   string     `bson:"playerid"`
	Reward     string     `bson:"reward"`
	ExpireTime *time.Time `bson:"expiretime"`
	CreatedAt  time.Time  `bson:"createdAt"`
	UpdatedAt  time.Time  `bson:"updatedAt"`
	LastUnbind *time.Time `bson:"lastUnbind"`
}

func (r *KeyRepository) decode(raw bson.Raw) (*redeemkey.Key, error) {
	var doc keyDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode key document: %w", err)
	}

	owner := doc.PlayerID
	if owner == "" && r.legacyField != "" {
		if v, ok := raw.Lookup(r.legacyField).StringValueOK(); ok {
			owner = v
		}
	}

	return &redeemkey.Key{
		Key:           doc.Key,
		Owner:         r.sentinels.Parse(owner),
		Reward:        doc.Reward,
		ExpireAt:      utc(doc.ExpireTime),
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
		LastUnboundAt: utc(doc.LastUnbind),
	}, nil
}

func (r *KeyRepository) encode(k *redeemkey.Key) bson.D {
	doc := bson.D{
		{Key: fieldKey, Value: k.Key},
		{Key: fieldOwner, Value: r.sentinels.Format(k.Owner)},
		{Key: fieldReward, Value: k.Reward},
		{Key: fieldCreatedAt, Value: k.CreatedAt},
		{Key: fieldUpdatedAt, Value: k.UpdatedAt},
	}
	if k.ExpireAt != nil {
		doc = append(doc, bson.E{Key: fieldExpireTime, Value: *k.ExpireAt})
	}
	if k.LastUnboundAt != nil {
		doc = append(doc, bson.E{Key: fieldLastUnbind, Value: *k.LastUnboundAt})
	}
	return doc
}

// ownerMatch matches documents whose effective owner string is value, or
// missing/empty when orEmpty is set. With a legacy owner field configured the
// canonical field wins whenever it is non-empty.
func (r *KeyRepository) ownerMatch(value string, orEmpty bool) bson.D {
	values := bson.A{value}
	if orEmpty {
		values = append(values, nil, "")
	}

	if r.legacyField == "" {
		return bson.D{{Key: fieldOwner, Value: bson.D{{Key: "$in", Value: values}}}}
	}

	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: fieldOwner, Value: value}},
		bson.D{
			{Key: fieldOwner, Value: bson.D{{Key: "$in", Value: bson.A{nil, ""}}}},
			{Key: r.legacyField, Value: bson.D{{Key: "$in", Value: values}}},
		},
	}}}
}

func (r *KeyRepository) unboundMatch() bson.D {
	return r.ownerMatch(r.sentinels.Unbound, true)
}

func (r *KeyRepository) wildcardMatch() bson.D {
	return r.ownerMatch(r.sentinels.Wildcard, false)
}

// withOwnerWrite clears the legacy owner field alongside a write to the
// canonical one.
func (r *KeyRepository) withOwnerWrite(update bson.D, unset bson.D) bson.D {
	if r.legacyField != "" {
		unset = append(unset, bson.E{Key: r.legacyField, Value: ""})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	return update
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
