// Package entitlement определяет квоту ссылок владельца по его тарифу.
package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/linkresolver/internal/auth"
	"github.com/SergeiKhy/linkresolver/internal/config"
	"github.com/SergeiKhy/linkresolver/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tier тариф и его лимит
type Tier struct {
	Key   string
	Limit int
}

func (t Tier) Unlimited() bool {
	return t.Limit == config.Unlimited
}

// Lookup возвращает тариф владельца
type Lookup interface {
	TierFor(ctx context.Context, ownerID string) (Tier, error)
}

// TierStore хранилище тарифов, которое ведёт биллинг-провайдер.
// Пустая строка означает, что тариф не назначен.
type TierStore interface {
	TierKey(ctx context.Context, ownerID string) (string, error)
}

// Service порядок поиска: токен принципала, затем TierStore, затем тариф по умолчанию
type Service struct {
	tiers       map[string]int
	defaultTier string
	store       TierStore
	logger      *zap.Logger
}

// NewService создаёт сервис тарифов; store может быть nil
func NewService(cfg config.QuotaConfig, store TierStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		tiers:       cfg.Tiers,
		defaultTier: cfg.DefaultTier,
		store:       store,
		logger:      logger,
	}
}

func (s *Service) TierFor(ctx context.Context, ownerID string) (Tier, error) {
	if p, ok := auth.FromContext(ctx); ok && p.OwnerID == ownerID {
		if p.Admin {
			if tier, ok := s.tier(config.TierUnlimited); ok {
				return tier, nil
			}
		}
		if tier, ok := s.tier(p.Plan); ok {
			return tier, nil
		}
	}

	if s.store != nil {
		key, err := s.store.TierKey(ctx, ownerID)
		if err != nil {
			// Недоступность биллинга не должна расширять квоту: откатываемся к тарифу по умолчанию
			s.logger.Warn("Не удалось получить тариф владельца, используется тариф по умолчанию",
				zap.String("owner_id", ownerID),
				zap.Error(err),
			)
		} else if tier, ok := s.tier(key); ok {
			return tier, nil
		}
	}

	tier, ok := s.tier(s.defaultTier)
	if !ok {
		return Tier{}, fmt.Errorf("default tier %q is not configured", s.defaultTier)
	}
	return tier, nil
}

func (s *Service) tier(key string) (Tier, bool) {
	if key == "" {
		return Tier{}, false
	}
	limit, ok := s.tiers[key]
	if !ok {
		return Tier{}, false
	}
	return Tier{Key: key, Limit: limit}, true
}

// RedisTierStore читает ключи вида entitlement:{ownerID}, которые публикует биллинг
type RedisTierStore struct {
	redis *repository.RedisDB
}

func NewRedisTierStore(redis *repository.RedisDB) *RedisTierStore {
	return &RedisTierStore{redis: redis}
}

func (s *RedisTierStore) TierKey(ctx context.Context, ownerID string) (string, error) {
	key, err := s.redis.Client.Get(ctx, "entitlement:"+ownerID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read entitlement: %w", err)
	}
	return key, nil
}
