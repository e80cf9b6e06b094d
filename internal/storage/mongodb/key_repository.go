package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/metrics"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const backendName = "mongo"

type KeyRepository struct {
	conn        *connector.Connector[*mongo.Collection]
	sentinels   redeemkey.Sentinels
	legacyField string
	logger      *zap.Logger
}

// NewKeyRepository builds a repository on top of conn. legacyField names an
// older owner field that is read as a fallback and cleared on owner writes;
// leave it empty when the collection has only ever used "playerid".
func NewKeyRepository(conn *connector.Connector[*mongo.Collection], sentinels redeemkey.Sentinels, legacyField string, logger *zap.Logger) *KeyRepository {
	if legacyField == fieldOwner {
		legacyField = ""
	}
	return &KeyRepository{
		conn:        conn,
		sentinels:   sentinels,
		legacyField: legacyField,
		logger:      logger.Named("KeyRepository"),
	}
}

var _ redeemkey.Repository = (*KeyRepository)(nil)

func (r *KeyRepository) collection(ctx context.Context) (*mongo.Collection, error) {
	coll, st, err := r.conn.Acquire(ctx)
	connector.Report(r.logger, st, err)
	metrics.ObserveAcquire(backendName, st, err)
	return coll, err
}

func (r *KeyRepository) Bind(ctx context.Context, key, player string, defaults redeemkey.BindDefaults, now time.Time) (bool, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	filter := append(bson.D{{Key: fieldKey, Value: key}}, r.unboundMatch()...)
	update := r.withOwnerWrite(bson.D{
		{Key: "$set", Value: bson.D{
			{Key: fieldOwner, Value: player},
			{Key: fieldUpdatedAt, Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: fieldReward, Value: defaults.Reward},
			{Key: fieldCreatedAt, Value: now},
		}},
	}, nil)

	res, err := coll.UpdateOne(opCtx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// The filter missed an existing document, so the upsert collided
		// with the unique index: someone else owns the key.
		if mongo.IsDuplicateKeyError(err) {
			r.logger.Debug("Bind refused, key already bound", zap.String("key", key))
			return false, ierr.ErrAlreadyBound
		}
		r.logger.Error("Failed to bind key", zap.String("key", key), zap.Error(err))
		return false, r.translate("bind", err)
	}

	switch {
	case res.UpsertedCount == 1:
		r.logger.Info("Key created on bind", zap.String("key", key), zap.String("player_id", player))
		return true, nil
	case res.MatchedCount == 1:
		r.logger.Info("Key bound", zap.String("key", key), zap.String("player_id", player))
		return false, nil
	default:
		return false, fmt.Errorf("bind %q: no document matched or upserted", key)
	}
}

func (r *KeyRepository) Unbind(ctx context.Context, key string, allowWildcard bool, now time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	excluded := bson.A{r.unboundMatch()}
	if !allowWildcard {
		excluded = append(excluded, r.wildcardMatch())
	}
	filter := bson.D{
		{Key: fieldKey, Value: key},
		{Key: "$nor", Value: excluded},
	}
	update := r.withOwnerWrite(bson.D{
		{Key: "$set", Value: bson.D{
			{Key: fieldOwner, Value: r.sentinels.Unbound},
			{Key: fieldUpdatedAt, Value: now},
			{Key: fieldLastUnbind, Value: now},
		}},
	}, bson.D{{Key: fieldExpireTime, Value: ""}})

	res, err := coll.UpdateOne(opCtx, filter, update)
	if err != nil {
		r.logger.Error("Failed to unbind key", zap.String("key", key), zap.Error(err))
		return r.translate("unbind", err)
	}
	if res.MatchedCount == 1 {
		r.logger.Info("Key unbound", zap.String("key", key))
		return nil
	}

	// Nothing matched; read the record once to report why.
	k, err := r.FindByKey(ctx, key)
	if err != nil {
		return err
	}
	switch {
	case k.Owner.IsUnbound():
		return ierr.ErrNotBound
	case k.Owner.IsWildcard() && !allowWildcard:
		return ierr.ErrWildcardUnbindDenied
	default:
		// The owner changed between the write and the read.
		return ierr.ErrNotBound
	}
}

func (r *KeyRepository) SetExpiry(ctx context.Context, key string, expireAt, now time.Time) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	filter := append(bson.D{{Key: fieldKey, Value: key}}, r.wildcardMatch()...)
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: fieldExpireTime, Value: expireAt},
		{Key: fieldUpdatedAt, Value: now},
	}}}

	res, err := coll.UpdateOne(opCtx, filter, update)
	if err != nil {
		r.logger.Error("Failed to set key expiry", zap.String("key", key), zap.Error(err))
		return r.translate("set expiry", err)
	}
	if res.MatchedCount == 1 {
		r.logger.Info("Key expiry updated", zap.String("key", key), zap.Time("expire_at", expireAt))
		return nil
	}

	if _, err := r.FindByKey(ctx, key); err != nil {
		return err
	}
	return ierr.ErrNotWildcard
}

func (r *KeyRepository) FindByKey(ctx context.Context, key string) (*redeemkey.Key, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	raw, err := coll.FindOne(opCtx, bson.D{{Key: fieldKey, Value: key}}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to find key", zap.String("key", key), zap.Error(err))
		return nil, r.translate("find key", err)
	}
	return r.decode(raw)
}

func (r *KeyRepository) List(ctx context.Context) ([]*redeemkey.Key, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	cur, err := coll.Find(opCtx, bson.D{}, options.Find().SetSort(bson.D{{Key: fieldKey, Value: 1}}))
	if err != nil {
		r.logger.Error("Failed to query list of keys", zap.Error(err))
		return nil, r.translate("list keys", err)
	}
	defer cur.Close(opCtx)

	keys := make([]*redeemkey.Key, 0)
	for cur.Next(opCtx) {
		k, err := r.decode(cur.Current)
		if err != nil {
			r.logger.Error("Failed to decode key document during list", zap.Error(err))
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := cur.Err(); err != nil {
		r.logger.Error("Error iterating key cursor", zap.Error(err))
		return nil, r.translate("list keys", err)
	}

	return keys, nil
}

func (r *KeyRepository) Create(ctx context.Context, k *redeemkey.Key) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	if _, err := coll.InsertOne(opCtx, r.encode(k)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			r.logger.Warn("Attempted to create duplicate key", zap.String("key", k.Key))
			return fmt.Errorf("%w: %s", ierr.ErrKeyExists, k.Key)
		}
		r.logger.Error("Failed to create key", zap.String("key", k.Key), zap.Error(err))
		return r.translate("create key", err)
	}

	r.logger.Info("Key created", zap.String("key", k.Key), zap.Stringer("owner", k.Owner))
	return nil
}

// translate maps transport failures to ierr.ErrStoreUnavailable so callers
// can tell an unreachable store from a rejected operation.
func (r *KeyRepository) translate(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, mongo.ErrClientDisconnected) ||
		mongo.IsTimeout(err) ||
		mongo.IsNetworkError(err) {
		return fmt.Errorf("%w: %s: %v", ierr.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("database error on %s: %w", op, err)
}
