package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/metrics"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"go.uber.org/zap"
)

const backendName = "postgres"

const selectKeyColumns = `
	SELECT key, owner_kind, owner, reward, expire_at, created_at, updated_at, last_unbind_at
	FROM redeem_keys
`

type KeyRepository struct {
	conn   *connector.Connector[Querier]
	logger *zap.Logger
}

func NewKeyRepository(conn *connector.Connector[Querier], logger *zap.Logger) *KeyRepository {
	return &KeyRepository{
		conn:   conn,
		logger: logger.Named("KeyRepository"),
	}
}

var _ redeemkey.Repository = (*KeyRepository)(nil)

func (r *KeyRepository) db(ctx context.Context) (Querier, error) {
	q, st, err := r.conn.Acquire(ctx)
	connector.Report(r.logger, st, err)
	metrics.ObserveAcquire(backendName, st, err)
	return q, err
}

func (r *KeyRepository) Bind(ctx context.Context, key, player string, defaults redeemkey.BindDefaults, now time.Time) (bool, error) {
	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	// The conflict branch only fires for unbound rows; any other owner leaves
	// the row untouched and RETURNING yields nothing.
	query := `
		INSERT INTO redeem_keys (key, owner_kind, owner, reward, created_at, updated_at)
		VALUES ($1, 'identity', $2, $3, $4, $4)
		ON CONFLICT (key) DO UPDATE
			SET owner_kind = 'identity', owner = EXCLUDED.owner, updated_at = EXCLUDED.updated_at
			WHERE redeem_keys.owner_kind = 'unbound'
		RETURNING (xmax = 0) AS created
	`

	var created bool
	err = db.QueryRow(opCtx, query, key, player, defaults.Reward, now).Scan(&created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Bind refused, key already bound", zap.String("key", key))
			return false, ierr.ErrAlreadyBound
		}
		r.logger.Error("Failed to bind key", zap.String("key", key), zap.Error(err))
		return false, r.translate("bind", err)
	}

	r.logger.Info("Key bound", zap.String("key", key), zap.String("player_id", player), zap.Bool("created", created))
	return created, nil
}

func (r *KeyRepository) Unbind(ctx context.Context, key string, allowWildcard bool, now time.Time) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	query := `
		UPDATE redeem_keys SET
			owner_kind = 'unbound',
			owner = '',
			expire_at = NULL,
			updated_at = $2,
			last_unbind_at = $2
		WHERE key = $1
		  AND (owner_kind = 'identity' OR ($3 AND owner_kind = 'wildcard'))
	`

	cmdTag, err := db.Exec(opCtx, query, key, now, allowWildcard)
	if err != nil {
		r.logger.Error("Failed to unbind key", zap.String("key", key), zap.Error(err))
		return r.translate("unbind", err)
	}
	if cmdTag.RowsAffected() == 1 {
		r.logger.Info("Key unbound", zap.String("key", key))
		return nil
	}

	k, err := r.FindByKey(ctx, key)
	if err != nil {
		return err
	}
	if k.Owner.IsWildcard() && !allowWildcard {
		return ierr.ErrWildcardUnbindDenied
	}
	return ierr.ErrNotBound
}

func (r *KeyRepository) SetExpiry(ctx context.Context, key string, expireAt, now time.Time) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	query := `
		UPDATE redeem_keys SET expire_at = $2, updated_at = $3
		WHERE key = $1 AND owner_kind = 'wildcard'
	`

	cmdTag, err := db.Exec(opCtx, query, key, expireAt, now)
	if err != nil {
		r.logger.Error("Failed to set key expiry", zap.String("key", key), zap.Error(err))
		return r.translate("set expiry", err)
	}
	if cmdTag.RowsAffected() == 1 {
		r.logger.Info("Key expiry updated", zap.String("key", key), zap.Time("expire_at", expireAt))
		return nil
	}

	if _, err := r.FindByKey(ctx, key); err != nil {
		return err
	}
	return ierr.ErrNotWildcard
}

func (r *KeyRepository) FindByKey(ctx context.Context, key string) (*redeemkey.Key, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	row := db.QueryRow(opCtx, selectKeyColumns+` WHERE key = $1`, key)
	k, err := r.scanKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to find key", zap.String("key", key), zap.Error(err))
		return nil, r.translate("find key", err)
	}
	return k, nil
}

func (r *KeyRepository) List(ctx context.Context) ([]*redeemkey.Key, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	rows, err := db.Query(opCtx, selectKeyColumns+` ORDER BY key`)
	if err != nil {
		r.logger.Error("Failed to query list of keys", zap.Error(err))
		return nil, r.translate("list keys", err)
	}
	defer rows.Close()

	keys := make([]*redeemkey.Key, 0)
	for rows.Next() {
		k, err := r.scanKey(rows)
		if err != nil {
			r.logger.Error("Failed to scan key row during list", zap.Error(err))
			return nil, fmt.Errorf("database scan error during list: %w", err)
		}
		keys = append(keys, k)
	}

	if err = rows.Err(); err != nil {
		r.logger.Error("Error iterating key rows", zap.Error(err))
		return nil, r.translate("list keys", err)
	}

	return keys, nil
}

func (r *KeyRepository) Create(ctx context.Context, k *redeemkey.Key) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	opCtx, cancel := r.conn.OpContext(ctx)
	defer cancel()

	query := `
		INSERT INTO redeem_keys (key, owner_kind, owner, reward, expire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = db.Exec(opCtx, query,
		k.Key,
		k.Owner.Kind().String(),
		k.Owner.IdentityID(),
		k.Reward,
		k.ExpireAt,
		k.CreatedAt,
		k.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.Warn("Attempted to create duplicate key",
				zap.String("key", k.Key),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return fmt.Errorf("%w: %s", ierr.ErrKeyExists, k.Key)
		}
		r.logger.Error("Failed to create key in database", zap.String("key", k.Key), zap.Error(err))
		return r.translate("create key", err)
	}

	r.logger.Info("Key created", zap.String("key", k.Key), zap.Stringer("owner", k.Owner))
	return nil
}

func (r *KeyRepository) scanKey(row pgx.Row) (*redeemkey.Key, error) {
	var (
		k          redeemkey.Key
		ownerKind  string
		owner      string
		expireAt   sql.NullTime
		lastUnbind sql.NullTime
	)

	err := row.Scan(
		&k.Key,
		&ownerKind,
		&owner,
		&k.Reward,
		&expireAt,
		&k.CreatedAt,
		&k.UpdatedAt,
		&lastUnbind,
	)
	if err != nil {
		return nil, err
	}

	kind, err := redeemkey.ParseOwnerKind(ownerKind)
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", k.Key, err)
	}
	switch kind {
	case redeemkey.OwnerWildcard:
		k.Owner = redeemkey.Wildcard()
	case redeemkey.OwnerIdentity:
		k.Owner = redeemkey.Identity(owner)
	default:
		k.Owner = redeemkey.Unbound()
	}

	if expireAt.Valid {
		t := expireAt.Time.UTC()
		k.ExpireAt = &t
	}
	if lastUnbind.Valid {
		t := lastUnbind.Time.UTC()
		k.LastUnboundAt = &t
	}
	k.CreatedAt = k.CreatedAt.UTC()
	k.UpdatedAt = k.UpdatedAt.UTC()

	return &k, nil
}

func (r *KeyRepository) translate(op string, err error) error {
	var connErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &connErr) {
		return fmt.Errorf("%w: %s: %v", ierr.ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("database error on %s: %w", op, err)
}
