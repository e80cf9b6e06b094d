package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"
)

var testSentinels = redeemkey.Sentinels{Unbound: "待定", Wildcard: "all"}

type mockSession struct {
	coll *mongo.Collection
}

func (s *mockSession) Handle() *mongo.Collection { return s.coll }
func (s *mockSession) Ping(ctx context.Context) error { return nil }
func (s *mockSession) EnsureIndexes(ctx context.Context) error { return nil }
func (s *mockSession) Close(ctx context.Context) error { return nil }

func newTestRepository(coll *mongo.Collection, legacyField string) *KeyRepository {
	conn := connector.New[*mongo.Collection](func(ctx context.Context) (connector.Session[*mongo.Collection], error) {
		return &mockSession{coll: coll}, nil
	}, connector.Options{MaxRetries: 1, RetryDelay: time.Millisecond})
	return NewKeyRepository(conn, testSentinels, legacyField, zap.NewNop())
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func keyDoc(key, owner string, extra ...bson.E) bson.D {
	doc := bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: fieldKey, Value: key},
		{Key: fieldOwner, Value: owner},
		{Key: fieldReward, Value: "100 gems"},
	}
	return append(doc, extra...)
}

func upsertedResponse() bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: 1},
		bson.E{Key: "nModified", Value: 0},
		bson.E{Key: "upserted", Value: bson.A{
			bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: primitive.NewObjectID()}},
		}},
	)
}

func matchedResponse(n int) bson.D {
	return mtest.CreateSuccessResponse(
		bson.E{Key: "n", Value: n},
		bson.E{Key: "nModified", Value: n},
	)
}

func TestKeyRepository_Bind(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	defaults := redeemkey.BindDefaults{Reward: "auto-created key"}

	mt.Run("creates missing key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(upsertedResponse())

		created, err := repo.Bind(context.Background(), "K1", "p1", defaults, now)
		require.NoError(mt, err)
		assert.True(mt, created)
	})

	mt.Run("binds unbound key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(matchedResponse(1))

		created, err := repo.Bind(context.Background(), "K1", "p1", defaults, now)
		require.NoError(mt, err)
		assert.False(mt, created)
	})

	mt.Run("duplicate key on upsert means already bound", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: key_db.keys index: key_unique",
		}))

		created, err := repo.Bind(context.Background(), "K1", "p2", defaults, now)
		assert.ErrorIs(mt, err, ierr.ErrAlreadyBound)
		assert.False(mt, created)
	})

	mt.Run("other server errors are not lifecycle errors", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "bad value",
		}))

		_, err := repo.Bind(context.Background(), "K1", "p2", defaults, now)
		require.Error(mt, err)
		assert.False(mt, ierr.IsLifecycle(err))
	})
}

func TestKeyRepository_Unbind(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("releases bound key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(matchedResponse(1))

		require.NoError(mt, repo.Unbind(context.Background(), "K1", false, now))
	})

	mt.Run("unknown key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(
			matchedResponse(0),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch),
		)

		assert.ErrorIs(mt, repo.Unbind(context.Background(), "missing", false, now), ierr.ErrNotFound)
	})

	mt.Run("unbound key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(
			matchedResponse(0),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, keyDoc("K1", "待定")),
		)

		assert.ErrorIs(mt, repo.Unbind(context.Background(), "K1", false, now), ierr.ErrNotBound)
	})

	mt.Run("wildcard key refused", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(
			matchedResponse(0),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, keyDoc("W", "all")),
		)

		assert.ErrorIs(mt, repo.Unbind(context.Background(), "W", false, now), ierr.ErrWildcardUnbindDenied)
	})
}

func TestKeyRepository_SetExpiry(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expireAt := now.Add(24 * time.Hour)

	mt.Run("updates wildcard key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(matchedResponse(1))

		require.NoError(mt, repo.SetExpiry(context.Background(), "W", expireAt, now))
	})

	mt.Run("identity key is not wildcard", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(
			matchedResponse(0),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, keyDoc("K1", "p1")),
		)

		assert.ErrorIs(mt, repo.SetExpiry(context.Background(), "K1", expireAt, now), ierr.ErrNotWildcard)
	})

	mt.Run("unknown key", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(
			matchedResponse(0),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch),
		)

		assert.ErrorIs(mt, repo.SetExpiry(context.Background(), "nope", expireAt, now), ierr.ErrNotFound)
	})
}

func TestKeyRepository_FindAndList(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	expireAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mt.Run("find decodes owner and expiry", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			keyDoc("W", "all", bson.E{Key: fieldExpireTime, Value: expireAt})))

		k, err := repo.FindByKey(context.Background(), "W")
		require.NoError(mt, err)
		assert.Equal(mt, "W", k.Key)
		assert.True(mt, k.Owner.IsWildcard())
		require.NotNil(mt, k.ExpireAt)
		assert.True(mt, expireAt.Equal(*k.ExpireAt))
	})

	mt.Run("list returns every record", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			keyDoc("A", "待定"),
			keyDoc("B", "p1"),
			keyDoc("C", "all", bson.E{Key: fieldExpireTime, Value: nil}),
		))

		keys, err := repo.List(context.Background())
		require.NoError(mt, err)
		require.Len(mt, keys, 3)
		assert.True(mt, keys[0].Owner.IsUnbound())
		assert.Equal(mt, "p1", keys[1].Owner.IdentityID())
		assert.True(mt, keys[2].Owner.IsWildcard())
		assert.Nil(mt, keys[2].ExpireAt)
	})

	mt.Run("create duplicate", func(mt *mtest.T) {
		repo := newTestRepository(mt.Coll, "")
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "duplicate key",
		}))

		err := repo.Create(context.Background(), &redeemkey.Key{Key: "A", Owner: redeemkey.Wildcard()})
		assert.ErrorIs(mt, err, ierr.ErrKeyExists)
	})
}

func TestKeyRepository_StoreUnavailable(t *testing.T) {
	errRefused := errors.New("connection refused")
	conn := connector.New[*mongo.Collection](func(ctx context.Context) (connector.Session[*mongo.Collection], error) {
		return nil, errRefused
	}, connector.Options{MaxRetries: 2, RetryDelay: time.Millisecond})
	repo := NewKeyRepository(conn, testSentinels, "", zap.NewNop())

	_, err := repo.Bind(context.Background(), "K1", "p1", redeemkey.BindDefaults{}, time.Now())
	assert.ErrorIs(t, err, ierr.ErrStoreUnavailable)

	_, err = repo.List(context.Background())
	assert.ErrorIs(t, err, ierr.ErrStoreUnavailable)
}

func TestKeyRepository_Translate(t *testing.T) {
	repo := newTestRepository(nil, "")

	err := repo.translate("bind", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ierr.ErrStoreUnavailable)

	err = repo.translate("bind", errors.New("boom"))
	assert.NotErrorIs(t, err, ierr.ErrStoreUnavailable)
}

func TestKeyRepository_LegacyOwnerField(t *testing.T) {
	repo := newTestRepository(nil, "playerId")

	raw, err := bson.Marshal(bson.D{
		{Key: fieldKey, Value: "OLD"},
		{Key: "playerId", Value: "p9"},
		{Key: fieldReward, Value: "r"},
	})
	require.NoError(t, err)

	k, err := repo.decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "p9", k.Owner.IdentityID())

	// The canonical field wins when both are present.
	raw, err = bson.Marshal(bson.D{
		{Key: fieldKey, Value: "MIXED"},
		{Key: fieldOwner, Value: "all"},
		{Key: "playerId", Value: "p9"},
	})
	require.NoError(t, err)

	k, err = repo.decode(raw)
	require.NoError(t, err)
	assert.True(t, k.Owner.IsWildcard())

	match := repo.unboundMatch()
	require.Len(t, match, 1)
	assert.Equal(t, "$or", match[0].Key)

	update := repo.withOwnerWrite(bson.D{{Key: "$set", Value: bson.D{}}}, nil)
	require.Len(t, update, 2)
	assert.Equal(t, "$unset", update[1].Key)
	assert.Equal(t, bson.D{{Key: "playerId", Value: ""}}, update[1].Value)
}

func TestKeyRepository_CanonicalOwnerFieldOnly(t *testing.T) {
	repo := newTestRepository(nil, fieldOwner)
	assert.Empty(t, repo.legacyField)

	match := repo.unboundMatch()
	require.Len(t, match, 1)
	assert.Equal(t, fieldOwner, match[0].Key)

	update := repo.withOwnerWrite(bson.D{{Key: "$set", Value: bson.D{}}}, nil)
	assert.Len(t, update, 1)
}
