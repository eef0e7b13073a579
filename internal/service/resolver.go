package service

import (
	"context"
	"errors"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/apperr"
	"github.com/SergeiKhy/linkresolver/internal/codegen"
	"github.com/SergeiKhy/linkresolver/internal/metrics"
	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/SergeiKhy/linkresolver/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultLookupTimeout = 2 * time.Second

var tracer = otel.Tracer("github.com/SergeiKhy/linkresolver/internal/service")

// Resolver разрешает короткий код в адрес назначения (горячий путь редиректа)
type Resolver interface {
	Resolve(ctx context.Context, rawCode string) (*models.Resolution, error)
}

type resolver struct {
	linkRepo      repository.LinkRepository
	cacheRepo     repository.CacheRepository
	visits        VisitRecorder
	logger        *zap.Logger
	lookupTimeout time.Duration
	group         singleflight.Group // Схлопывает одновременные промахи по одному коду
}

// NewResolver создаёт сервис разрешения кодов
func NewResolver(
	linkRepo repository.LinkRepository,
	cacheRepo repository.CacheRepository,
	visits VisitRecorder,
	lookupTimeout time.Duration,
	logger *zap.Logger,
) Resolver {
	if cacheRepo == nil {
		cacheRepo = repository.NopCache{}
	}
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &resolver{
		linkRepo:      linkRepo,
		cacheRepo:     cacheRepo,
		visits:        visits,
		logger:        logger,
		lookupTimeout: lookupTimeout,
	}
}

// Resolve проверяет формат, находит ссылку и ставит увеличение счётчика в очередь.
// Счётчик ставится в очередь только если вызывающий ещё ждёт ответа.
func (r *resolver) Resolve(ctx context.Context, rawCode string) (*models.Resolution, error) {
	ctx, span := tracer.Start(ctx, "Resolver.Resolve", trace.WithAttributes(attribute.String("link.code", rawCode)))
	defer span.End()

	resolution, err := r.resolve(ctx, rawCode)
	if err != nil {
		kind := apperr.KindOf(err)
		span.SetAttributes(attribute.String("resolve.outcome", kind.String()))
		if kind == apperr.KindUnavailable || kind == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve failed")
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("resolve.outcome", "redirect"),
		attribute.String("link.id", resolution.LinkID),
	)
	return resolution, nil
}

func (r *resolver) resolve(ctx context.Context, rawCode string) (*models.Resolution, error) {
	if !codegen.Valid(rawCode) {
		metrics.Resolutions.WithLabelValues("rejected").Inc()
		return nil, ErrRejected
	}

	// Общий поиск идёт на отвязанном от отмены контексте со своим таймаутом,
	// каждый вызывающий при этом ждёт только собственный ctx
	result := r.group.DoChan(rawCode, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, rawCode)
	})

	select {
	case <-ctx.Done():
		metrics.Resolutions.WithLabelValues("error").Inc()
		return nil, unavailable("request_canceled", ctx.Err())

	case res := <-result:
		if res.Err != nil {
			if apperr.KindOf(res.Err) == apperr.KindNotFound {
				metrics.Resolutions.WithLabelValues("not_found").Inc()
			} else {
				metrics.Resolutions.WithLabelValues("error").Inc()
			}
			return nil, res.Err
		}

		if err := ctx.Err(); err != nil {
			metrics.Resolutions.WithLabelValues("error").Inc()
			return nil, unavailable("request_canceled", err)
		}

		link := res.Val.(*models.Link)
		r.visits.Record(link.ID)
		metrics.Resolutions.WithLabelValues("redirect").Inc()

		return &models.Resolution{
			LinkID:      link.ID,
			Code:        link.Code,
			Destination: link.Destination,
		}, nil
	}
}

// lookup сначала проверяет кэш, затем БД, и кэширует найденную ссылку
func (r *resolver) lookup(ctx context.Context, code string) (*models.Link, error) {
	link, err := r.cacheRepo.Get(ctx, code)
	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return link, nil
	case errors.Is(err, repository.ErrCacheMiss):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		// Кэш не обязателен для корректности, идём в БД
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Warn("Ошибка чтения кэша", zap.String("code", code), zap.Error(err))
	}

	link, err = r.linkRepo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		r.logger.Error("Ошибка поиска ссылки", zap.String("code", code), zap.Error(err))
		return nil, unavailable("storage_unavailable", err)
	}

	if err := r.cacheRepo.Set(ctx, link); err != nil {
		r.logger.Debug("Не удалось закэшировать ссылку", zap.String("code", code), zap.Error(err))
	}

	return link, nil
}
