package service

import (
	"context"
	"errors"
	"net/url"

	"github.com/SergeiKhy/linkresolver/internal/apperr"
	"github.com/SergeiKhy/linkresolver/internal/codegen"
	"github.com/SergeiKhy/linkresolver/internal/entitlement"
	"github.com/SergeiKhy/linkresolver/internal/metrics"
	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/SergeiKhy/linkresolver/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Константы сервиса
const (
	maxCodeAttempts   = 10   // Попыток вставки со сгенерированным кодом
	maxURLLength      = 2048 // Максимальная длина адреса назначения
	maxBulkDeleteSize = 1000 // Максимум идентификаторов в одном пакетном удалении
)

// LinkService интерфейс сервиса управления ссылками
type LinkService interface {
	Create(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error)
	List(ctx context.Context, ownerID string) ([]models.Link, error)
	Update(ctx context.Context, ownerID, id string, input *models.UpdateLinkInput) (*models.Link, error)
	Delete(ctx context.Context, ownerID, id string) error
	BulkDelete(ctx context.Context, ownerID string, ids []string) (int, error)
	Status(ctx context.Context, ownerID string) (*models.QuotaStatus, error)
}

// linkService реализация сервиса ссылок
type linkService struct {
	linkRepo     repository.LinkRepository
	cacheRepo    repository.CacheRepository
	entitlements entitlement.Lookup
	generator    codegen.Generator
	logger       *zap.Logger
	reserved     map[string]struct{} // Коды, занятые фиксированными маршрутами
}

// LinkServiceOption настраивает сервис ссылок
type LinkServiceOption func(*linkService)

// WithReservedCodes запрещает алиасы, совпадающие с фиксированными путями верхнего уровня
func WithReservedCodes(codes ...string) LinkServiceOption {
	return func(s *linkService) {
		for _, code := range codes {
			s.reserved[code] = struct{}{}
		}
	}
}

// NewLinkService создаёт новый экземпляр сервиса
func NewLinkService(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	entitlements entitlement.Lookup,
	generator codegen.Generator,
	logger *zap.Logger,
	opts ...LinkServiceOption,
) LinkService {
	if cacheRepo == nil {
		cacheRepo = repository.NopCache{}
	}
	if generator == nil {
		generator = codegen.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &linkService{
		linkRepo:     linkRepo,
		cacheRepo:    cacheRepo,
		entitlements: entitlements,
		generator:    generator,
		logger:       logger,
		reserved:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create создаёт новую короткую ссылку с учётом квоты тарифа
func (s *linkService) Create(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error) {
	ctx, span := tracer.Start(ctx, "LinkService.Create", trace.WithAttributes(
		attribute.String("owner.id", input.OwnerID),
		attribute.Bool("link.alias", input.Alias != nil),
	))
	defer span.End()

	link, err := s.create(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.From(err).Code)
		return nil, err
	}

	span.SetAttributes(attribute.String("link.id", link.ID), attribute.String("link.code", link.Code))
	return link, nil
}

func (s *linkService) create(ctx context.Context, input *models.CreateLinkInput) (*models.Link, error) {
	// Валидация URL
	if err := validateURL(input.Destination); err != nil {
		return nil, err
	}

	// Валидация алиаса
	alias := ""
	if input.Alias != nil {
		alias = *input.Alias
	}
	if alias != "" && !codegen.Valid(alias) {
		return nil, ErrInvalidAlias
	}
	// Такой путь никогда не дойдёт до редиректа
	if _, ok := s.reserved[alias]; ok {
		return nil, ErrAliasTaken
	}

	// Проверка квоты до любых изменений в хранилище
	tier, err := s.entitlements.TierFor(ctx, input.OwnerID)
	if err != nil {
		s.logger.Error("Не удалось определить тариф", zap.String("owner_id", input.OwnerID), zap.Error(err))
		return nil, unavailable("entitlement_unavailable", err)
	}

	if !tier.Unlimited() {
		count, err := s.linkRepo.CountByOwner(ctx, input.OwnerID)
		if err != nil {
			s.logger.Error("Не удалось посчитать ссылки владельца", zap.String("owner_id", input.OwnerID), zap.Error(err))
			return nil, unavailable("storage_unavailable", err)
		}
		if count >= tier.Limit {
			return nil, ErrQuotaExceeded
		}
	}

	link := &models.Link{
		OwnerID:     input.OwnerID,
		Destination: input.Destination,
	}

	// Кастомный алиас: одна попытка, занятый алиас не подменяется случайным кодом
	if alias != "" {
		link.Code = alias
		link.Alias = &alias

		if err := s.insert(ctx, link, tier); err != nil {
			if errors.Is(err, repository.ErrCodeExists) {
				return nil, ErrAliasTaken
			}
			return nil, s.insertError(input.OwnerID, err)
		}

		metrics.LinksCreated.WithLabelValues("alias").Inc()
		return link, nil
	}

	// Генерация кода с повтором при коллизии
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.generator.Generate()
		if err != nil {
			s.logger.Error("Источник случайности недоступен", zap.Error(err))
			return nil, unavailable("entropy_unavailable", err)
		}
		link.Code = code

		err = s.insert(ctx, link, tier)
		if err == nil {
			metrics.LinksCreated.WithLabelValues("generated").Inc()
			return link, nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return nil, s.insertError(input.OwnerID, err)
		}

		metrics.CodeCollisions.Inc()
		s.logger.Warn("Коллизия короткого кода",
			zap.String("code", code),
			zap.Int("attempt", attempt),
		)
	}

	s.logger.Error("Исчерпаны попытки генерации уникального кода",
		zap.String("owner_id", input.OwnerID),
		zap.Int("attempts", maxCodeAttempts),
	)
	return nil, ErrCodeSpaceExhausted
}

func (s *linkService) insert(ctx context.Context, link *models.Link, tier entitlement.Tier) error {
	if tier.Unlimited() {
		return s.linkRepo.Insert(ctx, link)
	}
	return s.linkRepo.InsertWithinQuota(ctx, link, tier.Limit)
}

func (s *linkService) insertError(ownerID string, err error) error {
	if errors.Is(err, repository.ErrQuotaExceeded) {
		return ErrQuotaExceeded
	}
	s.logger.Error("Не удалось сохранить ссылку", zap.String("owner_id", ownerID), zap.Error(err))
	return unavailable("storage_unavailable", err)
}

// List возвращает ссылки владельца, новые первыми
func (s *linkService) List(ctx context.Context, ownerID string) ([]models.Link, error) {
	links, err := s.linkRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("Не удалось получить список ссылок", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, unavailable("storage_unavailable", err)
	}
	return links, nil
}

// Update меняет адрес назначения и/или увеличивает счётчик переходов
func (s *linkService) Update(ctx context.Context, ownerID, id string, input *models.UpdateLinkInput) (*models.Link, error) {
	if input.Destination == nil && !input.IncrementVisits {
		return nil, ErrEmptyUpdate
	}
	if input.Destination != nil {
		if err := validateURL(*input.Destination); err != nil {
			return nil, err
		}
	}

	link, err := s.ownedLink(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if input.Destination != nil {
		link, err = s.linkRepo.UpdateDestination(ctx, id, ownerID, *input.Destination)
		if err != nil {
			if errors.Is(err, repository.ErrLinkNotFound) {
				return nil, ErrNotFound
			}
			s.logger.Error("Не удалось обновить ссылку", zap.String("link_id", id), zap.Error(err))
			return nil, unavailable("storage_unavailable", err)
		}
		s.invalidate(ctx, link.Code)
	}

	if input.IncrementVisits {
		if err := s.linkRepo.IncrementVisitCount(ctx, id); err != nil {
			if errors.Is(err, repository.ErrLinkNotFound) {
				return nil, ErrNotFound
			}
			s.logger.Error("Не удалось увеличить счётчик", zap.String("link_id", id), zap.Error(err))
			return nil, unavailable("storage_unavailable", err)
		}
		// Перечитываем, чтобы вернуть актуальное значение счётчика
		link, err = s.ownedLink(ctx, ownerID, id)
		if err != nil {
			return nil, err
		}
	}

	return link, nil
}

// Delete удаляет ссылку владельца
func (s *linkService) Delete(ctx context.Context, ownerID, id string) error {
	code, err := s.linkRepo.DeleteByID(ctx, id, ownerID)
	if err != nil {
		if !errors.Is(err, repository.ErrLinkNotFound) {
			s.logger.Error("Не удалось удалить ссылку", zap.String("link_id", id), zap.Error(err))
			return unavailable("storage_unavailable", err)
		}
		// Удаление ограничено владельцем; различаем "нет такой" и "чужая" для вызывающего
		if _, err := s.ownedLink(ctx, ownerID, id); err != nil {
			return err
		}
		return ErrNotFound
	}

	s.invalidate(ctx, code)
	return nil
}

// BulkDelete удаляет только ссылки владельца из переданного списка
func (s *linkService) BulkDelete(ctx context.Context, ownerID string, ids []string) (int, error) {
	if len(ids) > maxBulkDeleteSize {
		return 0, ErrTooManyIDs
	}

	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0, nil
	}

	codes, err := s.linkRepo.DeleteManyByIDs(ctx, unique, ownerID)
	if err != nil {
		s.logger.Error("Не удалось удалить ссылки", zap.String("owner_id", ownerID), zap.Error(err))
		return 0, unavailable("storage_unavailable", err)
	}

	s.invalidate(ctx, codes...)

	s.logger.Info("Пакетное удаление ссылок",
		zap.String("owner_id", ownerID),
		zap.Int("requested", len(unique)),
		zap.Int("deleted", len(codes)),
	)
	return len(codes), nil
}

// Status возвращает тариф, лимит и текущее количество ссылок владельца
func (s *linkService) Status(ctx context.Context, ownerID string) (*models.QuotaStatus, error) {
	tier, err := s.entitlements.TierFor(ctx, ownerID)
	if err != nil {
		s.logger.Error("Не удалось определить тариф", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, unavailable("entitlement_unavailable", err)
	}

	count, err := s.linkRepo.CountByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("Не удалось посчитать ссылки владельца", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, unavailable("storage_unavailable", err)
	}

	status := &models.QuotaStatus{
		Plan:      tier.Key,
		Unlimited: tier.Unlimited(),
		Count:     count,
	}
	if !tier.Unlimited() {
		limit := tier.Limit
		status.Limit = &limit
		status.IsOverLimit = count > limit
	}

	return status, nil
}

// ownedLink возвращает ссылку, если она существует и принадлежит владельцу
func (s *linkService) ownedLink(ctx context.Context, ownerID, id string) (*models.Link, error) {
	link, err := s.linkRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("Не удалось получить ссылку", zap.String("link_id", id), zap.Error(err))
		return nil, unavailable("storage_unavailable", err)
	}

	if link.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	return link, nil
}

// invalidate удаляет коды из кэша; ошибка кэша не прерывает операцию
func (s *linkService) invalidate(ctx context.Context, codes ...string) {
	if len(codes) == 0 {
		return
	}
	if err := s.cacheRepo.Delete(ctx, codes...); err != nil {
		s.logger.Error("Не удалось инвалидировать кэш", zap.Strings("codes", codes), zap.Error(err))
	}
}

// validateURL проверяет, что адрес абсолютный и использует http(s)
func validateURL(raw string) error {
	if raw == "" || len(raw) > maxURLLength {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return ErrInvalidURL
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidURL
	}

	return nil
}
