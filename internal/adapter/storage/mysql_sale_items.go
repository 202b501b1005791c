package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
	"github.com/rl1809/pos-backoffice/internal/port"
)

const saleItemColumns = `sale_item_id, sale_id, product_id, quantity, price_at_sale`

type saleItemStore struct {
	q querier
}

func scanSaleItem(row rowScanner) (*domain.SaleItem, error) {
	var item domain.SaleItem
	if err := row.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.PriceAtSale); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s saleItemStore) get(ctx context.Context, saleItemID int64, forUpdate bool) (*domain.SaleItem, error) {
	query := `SELECT ` + saleItemColumns + ` FROM sale_items WHERE sale_item_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	item, err := scanSaleItem(s.q.QueryRowContext(ctx, query, saleItemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale item: %w", classifyMySQLError(err))
	}
	return item, nil
}

func (s saleItemStore) Insert(ctx context.Context, item domain.SaleItem) (*domain.SaleItem, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO sale_items (sale_id, product_id, quantity, price_at_sale)
		VALUES (?, ?, ?, ?)`,
		item.SaleID, item.ProductID, item.Quantity, item.PriceAtSale,
	)
	if err != nil {
		if isMySQLError(err, mysqlErrNoReferencedRow) {
			return nil, &domain.InvalidArgumentError{Field: "product_id", Reason: "references an unknown product"}
		}
		return nil, fmt.Errorf("insert sale item: %w", classifyMySQLError(err))
	}

	if item.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("sale item id: %w", err)
	}
	return &item, nil
}

func (s saleItemStore) SumBySale(ctx context.Context, saleID int64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := s.q.QueryRowContext(ctx,
		`SELECT SUM(quantity * price_at_sale) FROM sale_items WHERE sale_id = ?`, saleID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum sale items: %w", classifyMySQLError(err))
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (m *MySQLAdapter) GetSaleItem(ctx context.Context, saleItemID int64) (*domain.SaleItem, error) {
	return saleItemStore{q: m.db}.get(ctx, saleItemID, false)
}

// GetSaleItemDetails joins the item with its sale, the sale's user and the
// product. Returns nil, nil when the item is absent.
func (m *MySQLAdapter) GetSaleItemDetails(ctx context.Context, saleItemID int64) (*domain.SaleItemDetails, error) {
	var d domain.SaleItemDetails
	err := m.db.QueryRowContext(ctx, `
		SELECT si.sale_item_id, si.sale_id, si.product_id, si.quantity, si.price_at_sale,
			s.user_id, s.sale_date, u.first_name, u.last_name, p.product_name
		FROM sale_items si
		INNER JOIN sales s ON s.sale_id = si.sale_id
		INNER JOIN users u ON u.user_id = s.user_id
		INNER JOIN products p ON p.product_id = si.product_id
		WHERE si.sale_item_id = ?`, saleItemID,
	).Scan(&d.ID, &d.SaleID, &d.ProductID, &d.Quantity, &d.PriceAtSale,
		&d.UserID, &d.SaleDate, &d.FirstName, &d.LastName, &d.ProductName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale item details: %w", err)
	}
	return &d, nil
}

func (m *MySQLAdapter) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	query := `SELECT ` + saleItemColumns + ` FROM sale_items`
	var args []any
	if saleID > 0 {
		query += ` WHERE sale_id = ?`
		args = append(args, saleID)
	}
	query += ` ORDER BY sale_item_id ASC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0)
	for rows.Next() {
		item, err := scanSaleItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}
	return items, nil
}

// UpdateSaleItem rewrites quantity and/or price. Stock and the sale's totals
// are left untouched.
func (m *MySQLAdapter) UpdateSaleItem(ctx context.Context, saleItemID int64, patch domain.SaleItemPatch) (*domain.SaleItem, error) {
	var updated *domain.SaleItem
	err := m.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		store := tx.SaleItems().(saleItemStore)

		item, err := store.get(ctx, saleItemID, true)
		if err != nil || item == nil {
			return err
		}

		next := patch.Apply(*item)
		if _, err := store.q.ExecContext(ctx,
			`UPDATE sale_items SET quantity = ?, price_at_sale = ? WHERE sale_item_id = ?`,
			next.Quantity, next.PriceAtSale, saleItemID,
		); err != nil {
			return fmt.Errorf("update sale item: %w", classifyMySQLError(err))
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *MySQLAdapter) DeleteSaleItem(ctx context.Context, saleItemID int64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_item_id = ?`, saleItemID)
	if err != nil {
		return false, fmt.Errorf("delete sale item: %w", classifyMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
