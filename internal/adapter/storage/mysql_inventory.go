package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

const inventoryColumns = `inventory_id, product_id, quantity_in_stock, version, last_updated`

const inventoryDetailsQuery = `
	SELECT i.inventory_id, i.product_id, i.quantity_in_stock, i.version, i.last_updated,
		p.product_name, p.unit_price, p.product_type, p.status
	FROM inventory i
	INNER JOIN products p ON p.product_id = i.product_id`

// errStockUnderflow means a decrement found less stock than the caller locked.
var errStockUnderflow = errors.New("inventory decrement matched no row")

type inventoryStore struct {
	q querier
}

func scanInventory(row rowScanner) (*domain.Inventory, error) {
	var inv domain.Inventory
	if err := row.Scan(&inv.ID, &inv.ProductID, &inv.QuantityInStock, &inv.Version, &inv.LastUpdated); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s inventoryStore) get(ctx context.Context, productID int64, forUpdate bool) (*domain.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventory WHERE product_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	inv, err := scanInventory(s.q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", classifyMySQLError(err))
	}
	return inv, nil
}

func (s inventoryStore) LockByProductID(ctx context.Context, productID int64) (*domain.Inventory, error) {
	return s.get(ctx, productID, true)
}

func (s inventoryStore) Decrement(ctx context.Context, productID int64, quantity int) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE inventory
		SET quantity_in_stock = quantity_in_stock - ?, version = version + 1, last_updated = CURRENT_TIMESTAMP
		WHERE product_id = ? AND quantity_in_stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return fmt.Errorf("decrement inventory: %w", classifyMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errStockUnderflow
	}
	return nil
}

func (s inventoryStore) setQuantity(ctx context.Context, productID int64, quantity int) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE inventory SET quantity_in_stock = ?, version = version + 1, last_updated = CURRENT_TIMESTAMP
		WHERE product_id = ?`,
		quantity, productID,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", classifyMySQLError(err))
	}
	return nil
}

func (m *MySQLAdapter) CreateInventory(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error) {
	now := time.Now().UTC().Truncate(time.Second)
	result, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity_in_stock, last_updated)
		VALUES (?, ?, ?)`,
		productID, quantity, now,
	)
	if err != nil {
		switch {
		case isMySQLError(err, mysqlErrDuplicateEntry):
			return nil, fmt.Errorf("inventory for product %d: %w", productID, domain.ErrAlreadyExists)
		case isMySQLError(err, mysqlErrNoReferencedRow):
			return nil, &domain.InvalidArgumentError{Field: "product_id", Reason: "references an unknown product"}
		}
		return nil, fmt.Errorf("insert inventory: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("inventory id: %w", err)
	}
	return &domain.Inventory{ID: id, ProductID: productID, QuantityInStock: quantity, LastUpdated: now}, nil
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, productID int64) (*domain.Inventory, error) {
	return inventoryStore{q: m.db}.get(ctx, productID, false)
}

func (m *MySQLAdapter) ListInventory(ctx context.Context) ([]domain.Inventory, error) {
	return m.queryInventory(ctx, `SELECT `+inventoryColumns+` FROM inventory ORDER BY inventory_id DESC`)
}

func (m *MySQLAdapter) ListInventoryDetails(ctx context.Context) ([]domain.InventoryDetails, error) {
	return m.queryInventoryDetails(ctx, inventoryDetailsQuery+` ORDER BY i.inventory_id DESC`)
}

func (m *MySQLAdapter) ListLowStock(ctx context.Context, threshold int) ([]domain.InventoryDetails, error) {
	return m.queryInventoryDetails(ctx, inventoryDetailsQuery+`
	WHERE i.quantity_in_stock < ?
	ORDER BY i.quantity_in_stock ASC, i.product_id ASC`, threshold)
}

// SetInventoryQuantity is an admin adjustment. It locks the row like the
// coordinator does so it cannot interleave with an in-flight decrement.
func (m *MySQLAdapter) SetInventoryQuantity(ctx context.Context, productID int64, quantity int) (*domain.Inventory, error) {
	var updated *domain.Inventory
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		store := tx.Inventory().(inventoryStore)

		inv, err := store.LockByProductID(ctx, productID)
		if err != nil || inv == nil {
			return err
		}
		if err := store.setQuantity(ctx, productID, quantity); err != nil {
			return err
		}
		updated, err = store.get(ctx, productID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteInventory locks the row before deleting it so the returned row is
// the last committed version.
func (m *MySQLAdapter) DeleteInventory(ctx context.Context, productID int64) (*domain.Inventory, error) {
	var deleted *domain.Inventory
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		store := tx.Inventory().(inventoryStore)

		inv, err := store.LockByProductID(ctx, productID)
		if err != nil || inv == nil {
			return err
		}
		if _, err := store.q.ExecContext(ctx, `DELETE FROM inventory WHERE product_id = ?`, productID); err != nil {
			return fmt.Errorf("delete inventory: %w", classifyMySQLError(err))
		}
		deleted = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (m *MySQLAdapter) queryInventory(ctx context.Context, query string, args ...any) ([]domain.Inventory, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Inventory, 0)
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		items = append(items, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) queryInventoryDetails(ctx context.Context, query string, args ...any) ([]domain.InventoryDetails, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory details: %w", err)
	}
	defer rows.Close()

	items := make([]domain.InventoryDetails, 0)
	for rows.Next() {
		var (
			d           domain.InventoryDetails
			productType sql.NullString
			status      sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.ProductID, &d.QuantityInStock, &d.Version, &d.LastUpdated,
			&d.ProductName, &d.UnitPrice, &productType, &status); err != nil {
			return nil, fmt.Errorf("scan inventory details: %w", err)
		}
		d.ProductType = productType.String
		d.Status = status.String
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory details: %w", err)
	}
	return items, nil
}
