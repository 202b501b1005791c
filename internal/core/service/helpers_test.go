package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/pos-backoffice/internal/adapter/storage"
	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

// Mock CacheRepository
type mockCache struct {
	mock.Mock
}

func (m *mockCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockCache) ReleaseIdempotency(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockCache) SetStock(ctx context.Context, level domain.StockLevel) error {
	return m.Called(ctx, level).Error(0)
}

func (m *mockCache) DeleteStock(ctx context.Context, level domain.StockLevel) error {
	return m.Called(ctx, level).Error(0)
}

func (m *mockCache) GetStock(ctx context.Context, productID int64) (*domain.StockLevel, error) {
	args := m.Called(ctx, productID)
	level, _ := args.Get(0).(*domain.StockLevel)
	return level, args.Error(1)
}

// stockOf matches a mirrored level by product and quantity.
func stockOf(productID int64, quantity int) any {
	return mock.MatchedBy(func(l domain.StockLevel) bool {
		return l.ProductID == productID && l.Quantity == quantity
	})
}

// versionedCache keeps the newest level per product the way the Redis
// script does. A write whose version is listed in hold waits on its channel.
type versionedCache struct {
	mu     sync.Mutex
	levels map[int64]domain.StockLevel
	hold   map[int64]chan struct{}
}

func newVersionedCache() *versionedCache {
	return &versionedCache{
		levels: make(map[int64]domain.StockLevel),
		hold:   make(map[int64]chan struct{}),
	}
}

func (c *versionedCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (c *versionedCache) ReleaseIdempotency(ctx context.Context, key string) error {
	return nil
}

func (c *versionedCache) SetStock(ctx context.Context, level domain.StockLevel) error {
	c.mu.Lock()
	wait, held := c.hold[level.Version]
	c.mu.Unlock()
	if held {
		<-wait
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.levels[level.ProductID]; ok && !level.Supersedes(current) {
		return nil
	}
	c.levels[level.ProductID] = level
	return nil
}

func (c *versionedCache) DeleteStock(ctx context.Context, level domain.StockLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.levels, level.ProductID)
	return nil
}

func (c *versionedCache) GetStock(ctx context.Context, productID int64) (*domain.StockLevel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.levels[productID]
	if !ok {
		return nil, nil
	}
	return &level, nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.Event) error {
	return m.Called(ctx, event).Error(0)
}

// eventRecorder keeps every published event in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(ctx context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) published() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type fixture struct {
	db       *storage.MemoryAdapter
	items    *SaleItemService
	sales    *SaleService
	recorder *eventRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemoryAdapter(time.Second)
	return newFixtureWith(t, db, db)
}

// newFixtureWith lets a test put a wrapper around the transaction runner
// while CRUD reads still go to db.
func newFixtureWith(t *testing.T, db *storage.MemoryAdapter, repo port.DatabaseRepository) *fixture {
	t.Helper()
	recorder := &eventRecorder{}
	return &fixture{
		db:       db,
		items:    NewSaleItemService(repo, nil, recorder, zap.NewNop(), time.Second),
		sales:    NewSaleService(repo, recorder, zap.NewNop(), time.Second),
		recorder: recorder,
	}
}

func (f *fixture) seedSale(t *testing.T, userID int64) *domain.Sale {
	t.Helper()
	sale, err := f.db.CreateSale(context.Background(), userID)
	require.NoError(t, err)
	return sale
}

func (f *fixture) seedInventory(t *testing.T, productID int64, quantity int) {
	t.Helper()
	_, err := f.db.CreateInventory(context.Background(), productID, quantity)
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	inv, err := f.db.GetInventory(context.Background(), productID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv.QuantityInStock
}

func (f *fixture) sale(t *testing.T, saleID int64) domain.Sale {
	t.Helper()
	sale, err := f.db.GetSale(context.Background(), saleID)
	require.NoError(t, err)
	require.NotNil(t, sale)
	return *sale
}

func (f *fixture) itemsOf(t *testing.T, saleID int64) []domain.SaleItem {
	t.Helper()
	items, err := f.db.ListSaleItems(context.Background(), saleID)
	require.NoError(t, err)
	return items
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, money(want).Equal(got), "%s: expected %s, got %s", field, want, got)
}

func assertTotalsConsistent(t *testing.T, f *fixture, saleID int64) {
	t.Helper()
	sale := f.sale(t, saleID)

	sum := decimal.Zero
	for _, item := range f.itemsOf(t, saleID) {
		sum = sum.Add(item.LineTotal())
	}

	assertMoney(t, sum.String(), sale.Subtotal, "subtotal")
	assertMoney(t, sale.Subtotal.Sub(sale.DiscountAmount).String(), sale.TotalAmount, "total_amount")
	want := domain.ComputeTotals(sale.Subtotal, sale.DiscountPercentage)
	assertMoney(t, want.DiscountAmount.String(), sale.DiscountAmount, "discount_amount")
}

// wrappedDB decorates the transaction scope handed to the services.
type wrappedDB struct {
	*storage.MemoryAdapter
	wrap func(port.Tx) port.Tx
}

func (w *wrappedDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	return w.MemoryAdapter.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return fn(ctx, w.wrap(tx))
	})
}

// recordingTx notes the order in which rows are locked.
type recordingTx struct {
	port.Tx
	mu    *sync.Mutex
	order *[]string
}

func (r recordingTx) note(what string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.order = append(*r.order, what)
}

func (r recordingTx) Sales() port.SaleStore {
	return recordingSales{SaleStore: r.Tx.Sales(), tx: r}
}

func (r recordingTx) Inventory() port.InventoryStore {
	return recordingInventory{InventoryStore: r.Tx.Inventory(), tx: r}
}

type recordingSales struct {
	port.SaleStore
	tx recordingTx
}

func (s recordingSales) LockByID(ctx context.Context, saleID int64) (*domain.Sale, error) {
	s.tx.note("sale")
	return s.SaleStore.LockByID(ctx, saleID)
}

type recordingInventory struct {
	port.InventoryStore
	tx recordingTx
}

func (s recordingInventory) LockByProductID(ctx context.Context, productID int64) (*domain.Inventory, error) {
	s.tx.note("inventory")
	return s.InventoryStore.LockByProductID(ctx, productID)
}

// failingTx makes the sale totals write fail after every earlier step succeeded.
type failingTx struct {
	port.Tx
	err error
}

func (f failingTx) Sales() port.SaleStore {
	return failingSales{SaleStore: f.Tx.Sales(), err: f.err}
}

type failingSales struct {
	port.SaleStore
	err error
}

func (s failingSales) UpdateTotals(ctx context.Context, sale domain.Sale) error {
	return s.err
}
