package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

// MemoryAdapter is an in-process DatabaseRepository used by tests and the
// stress tool. Transactions hold exclusive per-row locks until they finish
// and undo their writes on rollback. Reads outside a transaction take no
// locks and may observe writes of a transaction that has not finished yet.
type MemoryAdapter struct {
	mu       sync.Mutex
	lockWait time.Duration

	sales     map[int64]*domain.Sale
	inventory map[int64]*domain.Inventory // keyed by product ID
	items     map[int64]*domain.SaleItem
	products  map[int64]domain.Product
	users     map[int64]domain.User
	rowLocks  map[string]*rowLock

	lastSaleID      int64
	lastInventoryID int64
	lastItemID      int64
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func NewMemoryAdapter(lockWait time.Duration) *MemoryAdapter {
	if lockWait <= 0 {
		lockWait = defaultLockWaitTimeout
	}
	return &MemoryAdapter{
		lockWait:  lockWait,
		sales:     make(map[int64]*domain.Sale),
		inventory: make(map[int64]*domain.Inventory),
		items:     make(map[int64]*domain.SaleItem),
		products:  make(map[int64]domain.Product),
		users:     make(map[int64]domain.User),
		rowLocks:  make(map[string]*rowLock),
	}
}

func saleKey(id int64) string { return fmt.Sprintf("sale:%d", id) }
func inventoryKey(id int64) string { return fmt.Sprintf("inventory:%d", id) }
func saleItemKey(id int64) string { return fmt.Sprintf("sale_item:%d", id) }

// rowLock is a one-slot semaphore. refs counts the holder and the waiters;
// the entry is dropped from rowLocks when it reaches zero.
type rowLock struct {
	ch   chan struct{}
	refs int
}

func (m *MemoryAdapter) acquireRowLock(key string) *rowLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.rowLocks[key]
	if !ok {
		l = &rowLock{ch: make(chan struct{}, 1)}
		m.rowLocks[key] = l
	}
	l.refs++
	return l
}

func (m *MemoryAdapter) dropRowLock(key string, l *rowLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(m.rowLocks, key)
	}
}

// PutProduct adds or replaces a catalog entry. Products are owned by another
// system; the adapter only needs them for joined reads.
func (m *MemoryAdapter) PutProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// PutUser adds or replaces a user, for joined reads only.
func (m *MemoryAdapter) PutUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{m: m, held: make(map[string]*rowLock)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memoryTx struct {
	m    *MemoryAdapter
	held map[string]*rowLock
	undo []func()
}

func (t *memoryTx) Sales() port.SaleStore { return memorySaleStore{t} }
func (t *memoryTx) Inventory() port.InventoryStore { return memoryInventoryStore{t} }
func (t *memoryTx) SaleItems() port.SaleItemStore { return memorySaleItemStore{t} }

// lock blocks until the row lock is granted, the lock wait elapses or ctx ends.
// Locks are re-entrant within the transaction.
func (t *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}

	l := t.m.acquireRowLock(key)
	timer := time.NewTimer(t.m.lockWait)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		t.held[key] = l
		return nil
	case <-timer.C:
		t.m.dropRowLock(key, l)
		return fmt.Errorf("%w: waiting for %s", domain.ErrLockTimeout, key)
	case <-ctx.Done():
		t.m.dropRowLock(key, l)
		return ctx.Err()
	}
}

func (t *memoryTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) release() {
	for key, l := range t.held {
		<-l.ch
		t.m.dropRowLock(key, l)
		delete(t.held, key)
	}
}

type memorySaleStore struct{ tx *memoryTx }

func (s memorySaleStore) LockByID(ctx context.Context, saleID int64) (*domain.Sale, error) {
	if err := s.tx.lock(ctx, saleKey(saleID)); err != nil {
		return nil, err
	}

	m := s.tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[saleID]
	if !ok {
		return nil, nil
	}
	cp := *sale
	return &cp, nil
}

func (s memorySaleStore) UpdateTotals(ctx context.Context, sale domain.Sale) error {
	if err := s.tx.lock(ctx, saleKey(sale.ID)); err != nil {
		return err
	}

	m := s.tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sales[sale.ID]
	if !ok {
		return nil
	}

	prev := *current
	current.Subtotal = sale.Subtotal
	current.DiscountPercentage = sale.DiscountPercentage
	current.DiscountAmount = sale.DiscountAmount
	current.TotalAmount = sale.TotalAmount
	s.tx.undo = append(s.tx.undo, func() { *current = prev })
	return nil
}

type memoryInventoryStore struct{ tx *memoryTx }

func (s memoryInventoryStore) LockByProductID(ctx context.Context, productID int64) (*domain.Inventory, error) {
	if err := s.tx.lock(ctx, inventoryKey(productID)); err != nil {
		return nil, err
	}

	m := s.tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventory[productID]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (s memoryInventoryStore) Decrement(ctx context.Context, productID int64, quantity int) error {
	if err := s.tx.lock(ctx, inventoryKey(productID)); err != nil {
		return err
	}

	m := s.tx.m
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventory[productID]
	if !ok || inv.QuantityInStock < quantity {
		return errStockUnderflow
	}

	prev := *inv
	inv.QuantityInStock -= quantity
	inv.Version++
	inv.LastUpdated = time.Now().UTC()
	s.tx.undo = append(s.tx.undo, func() { *inv = prev })
	return nil
}

type memorySaleItemStore struct{ tx *memoryTx }

func (s memorySaleItemStore) Insert(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	m := s.tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sales[item.SaleID]; !ok {
		return nil, &domain.InvalidArgumentError{Field: "sale_id", Reason: "references an unknown sale"}
	}

	m.lastItemID++
	item.ID = m.lastItemID
	stored := item
	m.items[item.ID] = &stored
	s.tx.undo = append(s.tx.undo, func() { delete(m.items, item.ID) })
	return &item, nil
}

func (s memorySaleItemStore) SumBySale(ctx context.Context, saleID int64) (decimal.Decimal, error) {
	m := s.tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := decimal.Zero
	for _, item := range m.items {
		if item.SaleID == saleID {
			sum = sum.Add(item.LineTotal())
		}
	}
	return sum, nil
}

func (m *MemoryAdapter) CreateSale(ctx context.Context, userID int64) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSaleID++
	sale := domain.NewSale(userID, time.Now().UTC())
	sale.ID = m.lastSaleID
	stored := sale
	m.sales[sale.ID] = &stored
	return &sale, nil
}

func (m *MemoryAdapter) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[saleID]
	if !ok {
		return nil, nil
	}
	cp := *sale
	return &cp, nil
}

func (m *MemoryAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sales := make([]domain.Sale, 0, len(m.sales))
	for _, sale := range m.sales {
		if filter.UserID > 0 && sale.UserID != filter.UserID {
			continue
		}
		if !filter.From.IsZero() && sale.SaleDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.SaleDate.Before(filter.To.AddDate(0, 0, 1)) {
			continue
		}
		sales = append(sales, *sale)
	}

	sort.Slice(sales, func(i, j int) bool {
		if !sales[i].SaleDate.Equal(sales[j].SaleDate) {
			return sales[i].SaleDate.After(sales[j].SaleDate)
		}
		return sales[i].ID > sales[j].ID
	})
	return sales, nil
}

func (m *MemoryAdapter) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := domain.SalesSummary{TotalAmount: decimal.Zero}
	for _, sale := range m.sales {
		summary.Count++
		summary.TotalAmount = summary.TotalAmount.Add(sale.TotalAmount)
	}
	return summary, nil
}

// DeleteSale removes the sale and its items once no transaction holds the sale.
func (m *MemoryAdapter) DeleteSale(ctx context.Context, saleID int64) (bool, error) {
	var deleted bool
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.(*memoryTx).lock(ctx, saleKey(saleID)); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.sales[saleID]; !ok {
			return nil
		}
		delete(m.sales, saleID)
		for id, item := range m.items {
			if item.SaleID == saleID {
				delete(m.items, id)
			}
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (m *MemoryAdapter) CreateInventory(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inventory[productID]; ok {
		return nil, fmt.Errorf("inventory for product %d: %w", productID, domain.ErrAlreadyExists)
	}

	m.lastInventoryID++
	inv := domain.Inventory{
		ID:              m.lastInventoryID,
		ProductID:       productID,
		QuantityInStock: quantity,
		LastUpdated:     time.Now().UTC(),
	}
	stored := inv
	m.inventory[productID] = &stored
	return &inv, nil
}

func (m *MemoryAdapter) GetInventory(ctx context.Context, productID int64) (*domain.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.inventory[productID]
	if !ok {
		return nil, nil
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryAdapter) ListInventory(ctx context.Context) ([]domain.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.Inventory, 0, len(m.inventory))
	for _, inv := range m.inventory {
		items = append(items, *inv)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (m *MemoryAdapter) ListInventoryDetails(ctx context.Context) ([]domain.InventoryDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.InventoryDetails, 0, len(m.inventory))
	for _, inv := range m.inventory {
		items = append(items, m.inventoryDetails(*inv))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	return items, nil
}

func (m *MemoryAdapter) ListLowStock(ctx context.Context, threshold int) ([]domain.InventoryDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.InventoryDetails, 0)
	for _, inv := range m.inventory {
		if inv.IsLow(threshold) {
			items = append(items, m.inventoryDetails(*inv))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].QuantityInStock != items[j].QuantityInStock {
			return items[i].QuantityInStock < items[j].QuantityInStock
		}
		return items[i].ProductID < items[j].ProductID
	})
	return items, nil
}

// inventoryDetails leaves the product fields empty for a product that was
// never put. Callers hold m.mu.
func (m *MemoryAdapter) inventoryDetails(inv domain.Inventory) domain.InventoryDetails {
	p := m.products[inv.ProductID]
	return domain.InventoryDetails{
		Inventory:   inv,
		ProductName: p.Name,
		UnitPrice:   p.UnitPrice,
		ProductType: p.ProductType,
		Status:      p.Status,
	}
}

func (m *MemoryAdapter) SetInventoryQuantity(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error) {
	var updated *domain.Inventory
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.(*memoryTx).lock(ctx, inventoryKey(productID)); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		inv, ok := m.inventory[productID]
		if !ok {
			return nil
		}
		inv.QuantityInStock = quantity
		inv.Version++
		inv.LastUpdated = time.Now().UTC()
		cp := *inv
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *MemoryAdapter) DeleteInventory(ctx context.Context, productID int64) (*domain.Inventory, error) {
	var deleted *domain.Inventory
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.(*memoryTx).lock(ctx, inventoryKey(productID)); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if inv, ok := m.inventory[productID]; ok {
			delete(m.inventory, productID)
			deleted = inv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (m *MemoryAdapter) GetSaleItem(ctx context.Context, saleItemID int64) (*domain.SaleItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[saleItemID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryAdapter) GetSaleItemDetails(ctx context.Context, saleItemID int64) (*domain.SaleItemDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[saleItemID]
	if !ok {
		return nil, nil
	}
	sale, ok := m.sales[item.SaleID]
	if !ok {
		return nil, nil
	}

	user := m.users[sale.UserID]
	return &domain.SaleItemDetails{
		SaleItem:    *item,
		UserID:      sale.UserID,
		SaleDate:    sale.SaleDate,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		ProductName: m.products[item.ProductID].Name,
	}, nil
}

func (m *MemoryAdapter) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.SaleItem, 0)
	for _, item := range m.items {
		if saleID > 0 && item.SaleID != saleID {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryAdapter) UpdateSaleItem(ctx context.Context, saleItemID int64, patch domain.SaleItemPatch) (*domain.SaleItem, error) {
	var updated *domain.SaleItem
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.(*memoryTx).lock(ctx, saleItemKey(saleItemID)); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		item, ok := m.items[saleItemID]
		if !ok {
			return nil
		}
		*item = patch.Apply(*item)
		cp := *item
		updated = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *MemoryAdapter) DeleteSaleItem(ctx context.Context, saleItemID int64) (bool, error) {
	var deleted bool
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if err := tx.(*memoryTx).lock(ctx, saleItemKey(saleItemID)); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.items[saleItemID]; ok {
			delete(m.items, saleItemID)
			deleted = true
		}
		return nil
	})
	return deleted, err
}
