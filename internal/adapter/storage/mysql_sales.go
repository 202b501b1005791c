package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-backoffice/internal/core/domain"
)

const saleColumns = `sale_id, user_id, sale_date, subtotal, discount_percentage, discount_amount, total_amount`

type rowScanner interface {
	Scan(dest ...any) error
}

type saleStore struct {
	q querier
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var s domain.Sale
	if err := row.Scan(&s.ID, &s.UserID, &s.SaleDate, &s.Subtotal,
		&s.DiscountPercentage, &s.DiscountAmount, &s.TotalAmount); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s saleStore) get(ctx context.Context, saleID int64, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE sale_id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	sale, err := scanSale(s.q.QueryRowContext(ctx, query, saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", classifyMySQLError(err))
	}
	return sale, nil
}

func (s saleStore) LockByID(ctx context.Context, saleID int64) (*domain.Sale, error) {
	return s.get(ctx, saleID, true)
}

func (s saleStore) UpdateTotals(ctx context.Context, sale domain.Sale) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE sales
		SET subtotal = ?, discount_percentage = ?, discount_amount = ?, total_amount = ?
		WHERE sale_id = ?`,
		sale.Subtotal, sale.DiscountPercentage, sale.DiscountAmount, sale.TotalAmount, sale.ID,
	)
	if err != nil {
		return fmt.Errorf("update sale totals: %w", classifyMySQLError(err))
	}
	return nil
}

func (m *MySQLAdapter) CreateSale(ctx context.Context, userID int64) (*domain.Sale, error) {
	sale := domain.NewSale(userID, time.Now().UTC().Truncate(time.Second))

	result, err := m.db.ExecContext(ctx, `
		INSERT INTO sales (user_id, sale_date, subtotal, discount_percentage, discount_amount, total_amount)
		VALUES (?, ?, 0, 0, 0, 0)`,
		sale.UserID, sale.SaleDate,
	)
	if err != nil {
		if isMySQLError(err, mysqlErrNoReferencedRow) {
			return nil, &domain.InvalidArgumentError{Field: "user_id", Reason: "references an unknown user"}
		}
		return nil, fmt.Errorf("insert sale: %w", err)
	}

	if sale.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("sale id: %w", err)
	}
	return &sale, nil
}

func (m *MySQLAdapter) GetSale(ctx context.Context, saleID int64) (*domain.Sale, error) {
	return saleStore{q: m.db}.get(ctx, saleID, false)
}

func (m *MySQLAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID > 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.From.IsZero() {
		where = append(where, "sale_date >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		where = append(where, "sale_date < ?")
		args = append(args, filter.To.AddDate(0, 0, 1))
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sale_date DESC, sale_id DESC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return sales, nil
}

func (m *MySQLAdapter) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	var summary domain.SalesSummary
	var total decimal.NullDecimal
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(total_amount) FROM sales`).
		Scan(&summary.Count, &total)
	if err != nil {
		return domain.SalesSummary{}, fmt.Errorf("query sales summary: %w", err)
	}

	summary.TotalAmount = decimal.Zero
	if total.Valid {
		summary.TotalAmount = total.Decimal
	}
	return summary, nil
}

func (m *MySQLAdapter) DeleteSale(ctx context.Context, saleID int64) (bool, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM sales WHERE sale_id = ?`, saleID)
	if err != nil {
		return false, fmt.Errorf("delete sale: %w", classifyMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
