package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/makkenzo/redeem-key-service/internal/domain/redeemkey"
	"github.com/makkenzo/redeem-key-service/internal/ierr"
	"github.com/makkenzo/redeem-key-service/internal/metrics"
	"go.uber.org/zap"
)

// Policy holds the configurable parts of the key lifecycle.
type Policy struct {
	// AllowWildcardUnbind lets Unbind release wildcard keys.
	AllowWildcardUnbind bool
	// DefaultReward is written when Bind creates a missing key.
	DefaultReward string
}

type BindResult struct {
	// Created is set when the key did not exist and Bind inserted it.
	Created bool
}

type ValidationResult struct {
	Key      string
	Reward   string
	Wildcard bool
	ExpireAt *time.Time
}

// ProvisionRequest describes a key created ahead of any Bind.
type ProvisionRequest struct {
	Key      string
	Owner    redeemkey.Owner
	Reward   string
	ExpireAt *time.Time
}

type KeyService struct {
	repo      redeemkey.Repository
	sentinels redeemkey.Sentinels
	policy    Policy
	now       func() time.Time
	logger    *zap.Logger
}

func NewKeyService(repo redeemkey.Repository, sentinels redeemkey.Sentinels, policy Policy, logger *zap.Logger) *KeyService {
	return &KeyService{
		repo:      repo,
		sentinels: sentinels,
		policy:    policy,
		now:       time.Now,
		logger:    logger.Named("KeyService"),
	}
}

func (s *KeyService) Sentinels() redeemkey.Sentinels { return s.sentinels }

func (s *KeyService) Bind(ctx context.Context, key, player string) (result *BindResult, err error) {
	defer func() { metrics.ObserveOperation("bind", err) }()

	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	if err := s.checkPlayer(player); err != nil {
		return nil, err
	}

	created, err := s.repo.Bind(ctx, key, player, redeemkey.BindDefaults{Reward: s.policy.DefaultReward}, s.clock())
	if err != nil {
		return nil, s.wrap("bind", key, err)
	}

	return &BindResult{Created: created}, nil
}

func (s *KeyService) Unbind(ctx context.Context, key string) (err error) {
	defer func() { metrics.ObserveOperation("unbind", err) }()

	if err := s.checkKey(key); err != nil {
		return err
	}

	if err := s.repo.Unbind(ctx, key, s.policy.AllowWildcardUnbind, s.clock()); err != nil {
		return s.wrap("unbind", key, err)
	}
	return nil
}

// Validate reports whether player may redeem key right now. It never writes.
func (s *KeyService) Validate(ctx context.Context, key, player string) (result *ValidationResult, err error) {
	defer func() { metrics.ObserveOperation("validate", err) }()

	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	if err := s.checkPlayer(player); err != nil {
		return nil, err
	}

	k, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, s.wrap("validate", key, err)
	}

	switch {
	case k.Owner.IsWildcard():
		if k.ExpiredAt(s.clock()) {
			return nil, ierr.ErrExpired
		}
	case !k.Owner.Admits(player):
		return nil, ierr.ErrNotBoundToIdentity
	}

	return &ValidationResult{
		Key:      k.Key,
		Reward:   k.Reward,
		Wildcard: k.Owner.IsWildcard(),
		ExpireAt: k.ExpireAt,
	}, nil
}

func (s *KeyService) SetExpiry(ctx context.Context, key string, expireAt time.Time) (err error) {
	defer func() { metrics.ObserveOperation("set_expiry", err) }()

	if err := s.checkKey(key); err != nil {
		return err
	}
	if expireAt.IsZero() {
		return fmt.Errorf("%w: expiry time is required", ierr.ErrInvalidArgument)
	}

	if err := s.repo.SetExpiry(ctx, key, expireAt.UTC(), s.clock()); err != nil {
		return s.wrap("set expiry", key, err)
	}
	return nil
}

func (s *KeyService) ListAll(ctx context.Context) (result map[string]redeemkey.Projection, err error) {
	defer func() { metrics.ObserveOperation("list", err) }()

	keys, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.wrap("list", "", err)
	}

	result = make(map[string]redeemkey.Projection, len(keys))
	for _, k := range keys {
		result[k.Key] = k.Project()
	}
	return result, nil
}

// Get returns a fresh copy of one record.
func (s *KeyService) Get(ctx context.Context, key string) (result *redeemkey.Key, err error) {
	defer func() { metrics.ObserveOperation("get", err) }()

	if err := s.checkKey(key); err != nil {
		return nil, err
	}

	k, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, s.wrap("get", key, err)
	}
	return k, nil
}

// Provision inserts a new unbound or wildcard key. Identity ownership is
// only ever acquired through Bind.
func (s *KeyService) Provision(ctx context.Context, req ProvisionRequest) (result *redeemkey.Key, err error) {
	defer func() { metrics.ObserveOperation("provision", err) }()

	if err := s.checkKey(req.Key); err != nil {
		return nil, err
	}
	if req.Owner.IsIdentity() {
		return nil, fmt.Errorf("%w: provisioned keys must be unbound or wildcard", ierr.ErrInvalidArgument)
	}
	if req.ExpireAt != nil && !req.Owner.IsWildcard() {
		return nil, fmt.Errorf("%w: only wildcard keys carry an expiry", ierr.ErrInvalidArgument)
	}

	reward := req.Reward
	if reward == "" {
		reward = s.policy.DefaultReward
	}

	now := s.clock()
	k := &redeemkey.Key{
		Key:       req.Key,
		Owner:     req.Owner,
		Reward:    reward,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ExpireAt != nil {
		t := req.ExpireAt.UTC()
		k.ExpireAt = &t
	}

	if err := s.repo.Create(ctx, k); err != nil {
		return nil, s.wrap("provision", req.Key, err)
	}

	s.logger.Info("Key provisioned", zap.String("key", k.Key), zap.Stringer("owner", k.Owner))
	return k, nil
}

// Inventory counts keys per state as of now.
func (s *KeyService) Inventory(ctx context.Context) (inv redeemkey.Inventory, err error) {
	defer func() { metrics.ObserveOperation("inventory", err) }()

	keys, err := s.repo.List(ctx)
	if err != nil {
		return inv, s.wrap("inventory", "", err)
	}

	now := s.clock()
	for _, k := range keys {
		inv.Total++
		switch k.Owner.Kind() {
		case redeemkey.OwnerUnbound:
			inv.Unbound++
		case redeemkey.OwnerIdentity:
			inv.Bound++
		case redeemkey.OwnerWildcard:
			inv.Wildcard++
			if k.ExpiredAt(now) {
				inv.ExpiredWildcard++
			}
		}
	}
	return inv, nil
}

func (s *KeyService) clock() time.Time {
	return s.now().UTC()
}

func (s *KeyService) checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ierr.ErrInvalidArgument)
	}
	return nil
}

func (s *KeyService) checkPlayer(player string) error {
	if strings.TrimSpace(player) == "" {
		return fmt.Errorf("%w: player id is required", ierr.ErrInvalidArgument)
	}
	if s.sentinels.Reserved(player) {
		return fmt.Errorf("%w: player id %q is reserved", ierr.ErrInvalidArgument, player)
	}
	return nil
}

// wrap passes lifecycle outcomes through unchanged and hides everything else
// behind ierr.ErrInternalServer.
func (s *KeyService) wrap(op, key string, err error) error {
	if ierr.IsLifecycle(err) {
		s.logger.Debug("Key operation refused", zap.String("op", op), zap.String("key", key), zap.Error(err))
		return err
	}
	s.logger.Error("Key operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", ierr.ErrInternalServer, op, err)
}
