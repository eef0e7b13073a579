package mocks

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/entitlement"
	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/SergeiKhy/linkresolver/internal/repository"
	"github.com/SergeiKhy/linkresolver/internal/service"
	"github.com/google/uuid"
)

// MockLinkRepository implements repository.LinkRepository for testing
type MockLinkRepository struct {
	mu    sync.RWMutex
	links map[string]*models.Link // id -> link
	codes map[string]string       // code -> id
	clock time.Time

	// FindByCodeDelay slows down lookups to exercise cancellation and singleflight.
	FindByCodeDelay time.Duration
	// FindByCodeErr, IncrementErr and InsertErr force failures when set.
	FindByCodeErr error
	IncrementErr  error
	InsertErr     error

	FindByCodeCalls atomic.Int64
	InsertCalls     atomic.Int64
	IncrementCalls  atomic.Int64
}

func NewMockLinkRepository() *MockLinkRepository {
	return &MockLinkRepository{
		links: make(map[string]*models.Link),
		codes: make(map[string]string),
		clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *MockLinkRepository) Insert(ctx context.Context, link *models.Link) error {
	m.InsertCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.insertLocked(link)
}

func (m *MockLinkRepository) InsertWithinQuota(ctx context.Context, link *models.Link, limit int) error {
	m.InsertCalls.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.countLocked(link.OwnerID) >= limit {
		return repository.ErrQuotaExceeded
	}
	return m.insertLocked(link)
}

func (m *MockLinkRepository) insertLocked(link *models.Link) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, exists := m.codes[link.Code]; exists {
		return repository.ErrCodeExists
	}

	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	// Монотонные метки времени дают детерминированный порядок "новые первыми"
	m.clock = m.clock.Add(time.Second)
	link.CreatedAt = m.clock
	link.UpdatedAt = m.clock
	link.VisitCount = 0

	stored := *link
	m.links[link.ID] = &stored
	m.codes[link.Code] = link.ID
	return nil
}

func (m *MockLinkRepository) FindByCode(ctx context.Context, code string) (*models.Link, error) {
	m.FindByCodeCalls.Add(1)

	if m.FindByCodeDelay > 0 {
		select {
		case <-time.After(m.FindByCodeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.FindByCodeErr != nil {
		return nil, m.FindByCodeErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.codes[code]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	return m.cloneLocked(id), nil
}

func (m *MockLinkRepository) FindByID(ctx context.Context, id string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.links[id]; !exists {
		return nil, repository.ErrLinkNotFound
	}
	return m.cloneLocked(id), nil
}

func (m *MockLinkRepository) IncrementVisitCount(ctx context.Context, id string) error {
	m.IncrementCalls.Add(1)

	if m.IncrementErr != nil {
		return m.IncrementErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[id]
	if !exists {
		return repository.ErrLinkNotFound
	}
	link.VisitCount++
	return nil
}

func (m *MockLinkRepository) UpdateDestination(ctx context.Context, id, ownerID, destination string) (*models.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[id]
	if !exists || link.OwnerID != ownerID {
		return nil, repository.ErrLinkNotFound
	}
	m.clock = m.clock.Add(time.Second)
	link.Destination = destination
	link.UpdatedAt = m.clock
	return m.cloneLocked(id), nil
}

func (m *MockLinkRepository) DeleteByID(ctx context.Context, id, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, exists := m.links[id]
	if !exists || link.OwnerID != ownerID {
		return "", repository.ErrLinkNotFound
	}
	delete(m.links, id)
	delete(m.codes, link.Code)
	return link.Code, nil
}

func (m *MockLinkRepository) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.countLocked(ownerID), nil
}

func (m *MockLinkRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	links := make([]models.Link, 0)
	for id, link := range m.links {
		if link.OwnerID == ownerID {
			links = append(links, *m.cloneLocked(id))
		}
	}
	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})
	return links, nil
}

func (m *MockLinkRepository) DeleteManyByIDs(ctx context.Context, ids []string, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	codes := make([]string, 0)
	for _, id := range ids {
		link, exists := m.links[id]
		if !exists || link.OwnerID != ownerID {
			continue
		}
		delete(m.links, id)
		delete(m.codes, link.Code)
		codes = append(codes, link.Code)
	}
	return codes, nil
}

// Len returns the number of stored links.
func (m *MockLinkRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.links)
}

func (m *MockLinkRepository) countLocked(ownerID string) int {
	count := 0
	for _, link := range m.links {
		if link.OwnerID == ownerID {
			count++
		}
	}
	return count
}

func (m *MockLinkRepository) cloneLocked(id string) *models.Link {
	link := *m.links[id]
	return &link
}

// MockCacheRepository implements repository.CacheRepository for testing.
// Delete leaves a tombstone for TombstoneTTL, Set does not overwrite existing keys.
type MockCacheRepository struct {
	mu           sync.RWMutex
	cache        map[string]*models.Link
	tombstones   map[string]time.Time
	TombstoneTTL time.Duration
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache:        make(map[string]*models.Link),
		tombstones:   make(map[string]time.Time),
		TombstoneTTL: 10 * time.Second,
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, code string) (*models.Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.cache[code]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	clone := *link
	return &clone, nil
}

func (m *MockCacheRepository) Set(ctx context.Context, link *models.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if until, ok := m.tombstones[link.Code]; ok {
		if time.Now().Before(until) {
			return nil
		}
		delete(m.tombstones, link.Code)
	}
	if _, exists := m.cache[link.Code]; exists {
		return nil
	}

	clone := *link
	m.cache[link.Code] = &clone
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, codes ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, code := range codes {
		delete(m.cache, code)
		m.tombstones[code] = time.Now().Add(m.TombstoneTTL)
	}
	return nil
}

func (m *MockCacheRepository) Has(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.cache[code]
	return exists
}

// MockEntitlements returns the same tier for every owner unless overridden
type MockEntitlements struct {
	mu        sync.RWMutex
	Default   entitlement.Tier
	overrides map[string]entitlement.Tier
	Err       error
}

func NewMockEntitlements(tier entitlement.Tier) *MockEntitlements {
	return &MockEntitlements{
		Default:   tier,
		overrides: make(map[string]entitlement.Tier),
	}
}

func (m *MockEntitlements) SetTier(ownerID string, tier entitlement.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[ownerID] = tier
}

func (m *MockEntitlements) TierFor(ctx context.Context, ownerID string) (entitlement.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return entitlement.Tier{}, m.Err
	}
	if tier, ok := m.overrides[ownerID]; ok {
		return tier, nil
	}
	return m.Default, nil
}

// SequenceGenerator returns the given codes in order, then repeats the last one
type SequenceGenerator struct {
	mu    sync.Mutex
	codes []string
	next  int
	Err   error
}

func NewSequenceGenerator(codes ...string) *SequenceGenerator {
	return &SequenceGenerator{codes: codes}
}

func (g *SequenceGenerator) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Err != nil {
		return "", g.Err
	}
	code := g.codes[g.next]
	if g.next < len(g.codes)-1 {
		g.next++
	}
	return code, nil
}

// RecordingVisitRecorder records link ids synchronously
type RecordingVisitRecorder struct {
	mu     sync.Mutex
	visits []string
}

func (r *RecordingVisitRecorder) Start() {}
func (r *RecordingVisitRecorder) Stop()  {}

func (r *RecordingVisitRecorder) Stats() service.ChannelStats {
	return service.ChannelStats{}
}

func (r *RecordingVisitRecorder) Record(linkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visits = append(r.visits, linkID)
}

func (r *RecordingVisitRecorder) Visits() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.visits...)
}
