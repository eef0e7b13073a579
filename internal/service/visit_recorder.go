package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/metrics"
	"github.com/SergeiKhy/linkresolver/internal/repository"
	"go.uber.org/zap"
)

// Константы worker pool
const (
	defaultWorkerCount   = 4               // Количество воркеров
	defaultChannelBuffer = 1024            // Размер буфера канала
	defaultVisitTimeout  = 3 * time.Second // Таймаут одной записи
)

// VisitRecorder асинхронно увеличивает счётчик переходов
type VisitRecorder interface {
	Start()
	Stop()
	Record(linkID string)
	Stats() ChannelStats
}

// VisitRecorderConfig параметры worker pool
type VisitRecorderConfig struct {
	Workers int
	Buffer  int
	Timeout time.Duration
}

// visitRecorder реализация на Worker Pool
type visitRecorder struct {
	linkRepo    repository.LinkRepository
	logger      *zap.Logger
	visits      chan string // Канал идентификаторов ссылок
	workerCount int
	timeout     time.Duration
	wg          sync.WaitGroup
	mu          sync.RWMutex // Защищает stopped и закрытие канала
	stopped     bool
}

// NewVisitRecorder создаёт новый экземпляр процессора переходов
func NewVisitRecorder(linkRepo repository.LinkRepository, cfg VisitRecorderConfig, logger *zap.Logger) VisitRecorder {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultChannelBuffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultVisitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &visitRecorder{
		linkRepo:    linkRepo,
		logger:      logger,
		visits:      make(chan string, cfg.Buffer),
		workerCount: cfg.Workers,
		timeout:     cfg.Timeout,
	}
}

// Start запускает worker pool
func (p *visitRecorder) Start() {
	p.logger.Info("Запуск воркеров счётчика переходов", zap.Int("count", p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop прекращает приём событий, дожидается обработки буфера и завершения воркеров
func (p *visitRecorder) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.visits)
	p.mu.Unlock()

	p.logger.Info("Остановка счётчика переходов...")
	p.wg.Wait()
	p.logger.Info("Счётчик переходов остановлен")
}

// worker обрабатывает события из канала до его закрытия
func (p *visitRecorder) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Воркер счётчика запущен", zap.Int("id", id))

	for linkID := range p.visits {
		metrics.VisitQueueDepth.Dec()
		p.increment(linkID)
	}

	p.logger.Debug("Воркер счётчика остановлен", zap.Int("id", id))
}

// increment выполняет одну попытку записи со своим таймаутом.
// Повторов нет: повтор после таймаута уже применённого UPDATE дал бы двойной счёт.
func (p *visitRecorder) increment(linkID string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.linkRepo.IncrementVisitCount(ctx, linkID)
	if err == nil {
		metrics.VisitIncrements.WithLabelValues("ok").Inc()
		return
	}

	metrics.VisitIncrements.WithLabelValues("failed").Inc()

	if errors.Is(err, repository.ErrLinkNotFound) {
		// Ссылку удалили между редиректом и записью
		p.logger.Debug("Ссылка удалена до записи перехода", zap.String("link_id", linkID))
		return
	}

	p.logger.Error("Не удалось записать переход",
		zap.String("link_id", linkID),
		zap.Error(err),
	)
}

// Record отправляет событие в worker pool (неблокирующая операция)
func (p *visitRecorder) Record(linkID string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		metrics.VisitIncrements.WithLabelValues("dropped").Inc()
		p.logger.Warn("Счётчик переходов остановлен, событие потеряно", zap.String("link_id", linkID))
		return
	}

	// Inc до отправки: воркер может забрать событие и сделать Dec раньше
	metrics.VisitQueueDepth.Inc()
	select {
	case p.visits <- linkID:
	default:
		// Канал заполнен: теряем статистику, но не задерживаем редирект
		metrics.VisitQueueDepth.Dec()
		metrics.VisitIncrements.WithLabelValues("dropped").Inc()
		p.logger.Warn("Буфер канала переходов заполнен, событие потеряно",
			zap.String("link_id", linkID),
		)
	}
}

// Stats возвращает статистику канала для мониторинга
func (p *visitRecorder) Stats() ChannelStats {
	return ChannelStats{
		BufferSize:  cap(p.visits),
		BufferUsed:  len(p.visits),
		WorkerCount: p.workerCount,
	}
}

// ChannelStats статистика канала worker pool
type ChannelStats struct {
	BufferSize  int `json:"buffer_size"`  // Общая ёмкость канала
	BufferUsed  int `json:"buffer_used"`  // Текущее использование
	WorkerCount int `json:"worker_count"` // Количество воркеров
}
