package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vdiana16/SiemensJava2025/internal/domain"
)

// MockItemRepository is a mock implementation of ItemRepository
type MockItemRepository struct {
	mock.Mock
}

var _ domain.ItemRepository = (*MockItemRepository)(nil)

func (m *MockItemRepository) ListPendingIDs(ctx context.Context) ([]domain.ItemID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ItemID), args.Error(1)
}

func (m *MockItemRepository) Fetch(ctx context.Context, id domain.ItemID) (*domain.Item, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Item), args.Bool(1), args.Error(2)
}

func (m *MockItemRepository) Persist(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Item), args.Error(1)
}

func (m *MockItemRepository) Create(ctx context.Context, item *domain.Item) (*domain.Item, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Item), args.Error(1)
}

func (m *MockItemRepository) List(ctx context.Context) ([]*domain.Item, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Item), args.Error(1)
}

func (m *MockItemRepository) Delete(ctx context.Context, id domain.ItemID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockCache is a mock implementation of Cache
type MockCache struct {
	mock.Mock
}

var _ domain.Cache = (*MockCache)(nil)

func (m *MockCache) Get(ctx context.Context, id domain.ItemID) (*domain.Item, bool) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*domain.Item), args.Bool(1)
}

func (m *MockCache) Set(ctx context.Context, item *domain.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockCache) Delete(ctx context.Context, id domain.ItemID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCache) CleanExpired(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockBatchRunner is a mock implementation of BatchRunner
type MockBatchRunner struct {
	mock.Mock
}

var _ domain.BatchRunner = (*MockBatchRunner)(nil)

func (m *MockBatchRunner) RunBatch(ctx context.Context) (*domain.BatchResult, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchResult), args.Error(1)
}

type fixture struct {
	repo    *MockItemRepository
	cache   *MockCache
	runner  *MockBatchRunner
	usecase *ItemUsecase
}

func newFixture(t *testing.T, batchTimeout time.Duration) *fixture {
	f := &fixture{
		repo:   new(MockItemRepository),
		cache:  new(MockCache),
		runner: new(MockBatchRunner),
	}
	f.usecase = NewItemUsecase(f.repo, f.cache, f.runner, zaptest.NewLogger(t), 10, batchTimeout)
	return f
}

func validItem() *domain.Item {
	return &domain.Item{Name: "widget", Email: "owner@example.com"}
}

// TestItemUsecaseGetItemWithCache tests GetItem with cache
func TestItemUsecaseGetItemWithCache(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	cached := &domain.Item{ID: 1, Name: "Cached Item"}

	// cache hit
	f.cache.On("Get", ctx, domain.ItemID(1)).Return(cached, true).Once()

	item, err := f.usecase.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, cached, item)
	f.repo.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)

	// cache miss
	stored := &domain.Item{ID: 1, Name: "Stored Item"}
	f.cache.On("Get", ctx, domain.ItemID(1)).Return(nil, false).Once()
	f.repo.On("Fetch", ctx, domain.ItemID(1)).Return(stored, true, nil).Once()
	f.cache.On("Set", mock.Anything, stored).Return(nil).Once()

	item, err = f.usecase.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, stored, item)

	f.cache.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

// TestItemUsecaseGetItemNotFound tests that a missing item maps to ErrNotFound
func TestItemUsecaseGetItemNotFound(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.cache.On("Get", ctx, domain.ItemID(9)).Return(nil, false).Once()
	f.repo.On("Fetch", ctx, domain.ItemID(9)).Return(nil, false, nil).Once()

	item, err := f.usecase.GetItem(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, item)
	f.cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
}

// TestItemUsecaseErrorHandling tests error propagation from the store
func TestItemUsecaseErrorHandling(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	expectedError := errors.New("repository error")

	f.cache.On("Get", ctx, domain.ItemID(2)).Return(nil, false).Once()
	f.repo.On("Fetch", ctx, domain.ItemID(2)).Return(nil, false, expectedError).Once()

	item, err := f.usecase.GetItem(ctx, 2)
	assert.Equal(t, expectedError, err)
	assert.Nil(t, item)
	f.repo.AssertExpectations(t)
}

// TestItemUsecaseCreateItem tests validation and default status on create
func TestItemUsecaseCreateItem(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.repo.On("Create", ctx, mock.MatchedBy(func(it *domain.Item) bool {
		return it.Status == domain.StatusNew
	})).Return(&domain.Item{ID: 5, Name: "widget", Email: "owner@example.com", Status: domain.StatusNew}, nil).Once()

	created, err := f.usecase.CreateItem(ctx, validItem())
	require.NoError(t, err)
	assert.Equal(t, domain.ItemID(5), created.ID)
	f.repo.AssertExpectations(t)

	f.repo.On("Create", ctx, mock.MatchedBy(func(it *domain.Item) bool { return it.Name == "" })).
		Return(&domain.Item{ID: 6, Email: "owner@example.com", Status: domain.StatusNew}, nil).Once()
	_, err = f.usecase.CreateItem(ctx, &domain.Item{Email: "owner@example.com"})
	require.NoError(t, err, "name is optional")

	invalid := []*domain.Item{
		nil,
		{Name: "widget"},
		{Name: "widget", Email: "not-an-email"},
	}
	for _, item := range invalid {
		_, err := f.usecase.CreateItem(ctx, item)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
	f.repo.AssertNumberOfCalls(t, "Create", 2)
}

// TestItemUsecaseUpdateItem tests update with cache invalidation
func TestItemUsecaseUpdateItem(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.repo.On("Fetch", ctx, domain.ItemID(3)).Return(&domain.Item{ID: 3}, true, nil).Once()
	f.repo.On("Persist", ctx, mock.MatchedBy(func(it *domain.Item) bool { return it.ID == 3 })).
		Return(&domain.Item{ID: 3, Name: "widget"}, nil).Once()
	f.cache.On("Delete", mock.Anything, domain.ItemID(3)).Return(nil).Once()

	updated, err := f.usecase.UpdateItem(ctx, 3, validItem())
	require.NoError(t, err)
	assert.Equal(t, domain.ItemID(3), updated.ID)
	f.repo.AssertExpectations(t)
	f.cache.AssertExpectations(t)

	// absent
	f.repo.On("Fetch", ctx, domain.ItemID(4)).Return(nil, false, nil).Once()
	_, err = f.usecase.UpdateItem(ctx, 4, validItem())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	f.repo.AssertNumberOfCalls(t, "Persist", 1)

	// update bodies are not validated
	f.repo.On("Fetch", ctx, domain.ItemID(7)).Return(&domain.Item{ID: 7}, true, nil).Once()
	f.repo.On("Persist", ctx, mock.MatchedBy(func(it *domain.Item) bool { return it.ID == 7 })).
		Return(&domain.Item{ID: 7, Email: "not-an-email"}, nil).Once()
	f.cache.On("Delete", mock.Anything, domain.ItemID(7)).Return(nil).Once()
	_, err = f.usecase.UpdateItem(ctx, 7, &domain.Item{Email: "not-an-email"})
	require.NoError(t, err)

	_, err = f.usecase.UpdateItem(ctx, 7, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// TestItemUsecaseDeleteItem tests delete with cache invalidation
func TestItemUsecaseDeleteItem(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	f.repo.On("Delete", ctx, domain.ItemID(1)).Return(nil).Once()
	f.cache.On("Delete", mock.Anything, domain.ItemID(1)).Return(nil).Once()
	require.NoError(t, f.usecase.DeleteItem(ctx, 1))

	f.repo.On("Delete", ctx, domain.ItemID(2)).Return(domain.ErrNotFound).Once()
	assert.ErrorIs(t, f.usecase.DeleteItem(ctx, 2), domain.ErrNotFound)

	f.repo.AssertExpectations(t)
	f.cache.AssertExpectations(t)
}

// TestItemUsecaseListItems tests ListItems
func TestItemUsecaseListItems(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	items := []*domain.Item{{ID: 1}, {ID: 2}}
	f.repo.On("List", ctx).Return(items, nil).Once()

	got, err := f.usecase.ListItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

// TestItemUsecaseProcessItems tests that processed items are evicted from the cache
func TestItemUsecaseProcessItems(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	result := &domain.BatchResult{
		BatchID:  "b1",
		Records:  []domain.Item{{ID: 1}, {ID: 2}},
		Count:    2,
		NotFound: []domain.ItemID{3},
	}
	f.runner.On("RunBatch", mock.MatchedBy(func(c context.Context) bool {
		_, ok := c.Deadline()
		return ok
	})).Return(result, nil).Once()
	f.cache.On("Delete", mock.Anything, domain.ItemID(1)).Return(nil).Once()
	f.cache.On("Delete", mock.Anything, domain.ItemID(2)).Return(nil).Once()

	got, err := f.usecase.ProcessItems(ctx)
	require.NoError(t, err)
	assert.Same(t, result, got)
	f.runner.AssertExpectations(t)
	f.cache.AssertExpectations(t)
}

// TestItemUsecaseProcessItemsCoordinationError tests that partial results survive a coordination error
func TestItemUsecaseProcessItemsCoordinationError(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	partial := &domain.BatchResult{BatchID: "b2", Records: []domain.Item{{ID: 7}}, Count: 1}
	coordErr := &domain.CoordinationError{BatchID: "b2", Err: context.Canceled}
	f.runner.On("RunBatch", ctx).Return(partial, coordErr).Once()
	f.cache.On("Delete", mock.Anything, domain.ItemID(7)).Return(nil).Once()

	got, err := f.usecase.ProcessItems(ctx)
	assert.True(t, domain.IsCoordinationError(err))
	assert.Same(t, partial, got)
	f.cache.AssertExpectations(t)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Acquire(ctx), context.DeadlineExceeded)

	rl.Release()
	rl.Release()
	require.NoError(t, rl.Acquire(context.Background()))
}
